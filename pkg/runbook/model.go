package runbook

import "time"

// ArtifactKind distinguishes the mutually-exclusive variants of an artifact.
type ArtifactKind string

const (
	KindSource  ArtifactKind = "source"
	KindDerived ArtifactKind = "derived"
	KindChild   ArtifactKind = "child"
)

// DefaultMaxConcurrency is used when config.max_concurrency is not set.
const DefaultMaxConcurrency = 10

// SourceConfig configures a source artifact's connector.
type SourceConfig struct {
	Type       string
	Properties map[string]any
}

// ProcessConfig configures a derived artifact's analyser.
type ProcessConfig struct {
	Type       string
	Properties map[string]any
}

// ChildRunbookConfig references a child runbook to be inlined by the flattener.
// Output and OutputMapping are mutually exclusive (single- vs multi-output).
type ChildRunbookConfig struct {
	Path         string
	InputMapping map[string]string // child input name -> parent artifact id

	Output        string            // single-output form: exposes one child output
	OutputMapping map[string]string // multi-output form: parent-facing name -> child output name
}

// ArtifactDefinition is the compiled form of one artifact entry in a runbook.
// Exactly one of Source, Inputs/Process, or Child is set.
type ArtifactDefinition struct {
	Name        string
	Description string
	Contact     string

	Output   bool
	Optional bool

	// OutputSchema, if set, overrides the factory's default output schema.
	// Format is "name@version", matched against the factory's supported set.
	OutputSchema string

	Source *SourceConfig

	// Inputs holds the ordered list of upstream artifact ids this artifact
	// depends on. A single-string shorthand in YAML becomes a length-1 slice.
	Inputs  []string
	Process *ProcessConfig
	Merge   string // "concatenate", optional

	Child *ChildRunbookConfig
}

// Kind reports which variant this artifact definition is.
func (a *ArtifactDefinition) Kind() ArtifactKind {
	switch {
	case a.Source != nil:
		return KindSource
	case a.Child != nil:
		return KindChild
	default:
		return KindDerived
	}
}

// InterfaceField describes one entry of a child runbook's inputs/outputs interface.
type InterfaceField struct {
	SchemaName  string
	Version     string
	Description string
}

// RunbookConfig holds the recognised top-level `config` options.
type RunbookConfig struct {
	Timeout        *time.Duration
	CostLimit      *float64
	MaxConcurrency int
	TemplatePaths  []string
}

// EffectiveMaxConcurrency returns the configured max_concurrency, or the
// default if unset, mirroring pkg/config's "default if empty" idiom.
func (c RunbookConfig) EffectiveMaxConcurrency() int {
	if c.MaxConcurrency <= 0 {
		return DefaultMaxConcurrency
	}
	return c.MaxConcurrency
}

// Runbook is the immutable, parsed representation of one runbook document.
type Runbook struct {
	Name        string
	Description string
	Contact     string

	Config RunbookConfig

	// Inputs/Outputs declare the child-runbook interface. Nil for top-level
	// runbooks that are never included as a child.
	Inputs  map[string]InterfaceField
	Outputs map[string]InterfaceField

	Artifacts map[string]*ArtifactDefinition

	// SourcePath is the absolute path this runbook was parsed from, used by
	// the flattener to resolve relative child paths.
	SourcePath string
}

// DeclaresInterface reports whether the runbook declares an inputs/outputs
// interface, required for it to be usable as a child runbook.
func (r *Runbook) DeclaresInterface() bool {
	return r.Inputs != nil && r.Outputs != nil
}
