// Package parser loads a YAML runbook document into the runbook.Runbook
// model, performing structural and field-level validation. It does not
// resolve cross-artifact references and does not open child-runbook files.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
)

// recognised top-level keys; anything else is rejected.
var topLevelKeys = map[string]struct{}{
	"name": {}, "description": {}, "contact": {},
	"config": {}, "inputs": {}, "outputs": {}, "artifacts": {},
}

// rawRunbook mirrors the YAML shape before semantic validation.
type rawRunbook struct {
	Name        string                    `yaml:"name"`
	Description string                    `yaml:"description"`
	Contact     string                    `yaml:"contact"`
	Config      *rawConfig                `yaml:"config"`
	Inputs      map[string]rawInterface   `yaml:"inputs"`
	Outputs     map[string]rawInterface   `yaml:"outputs"`
	Artifacts   map[string]rawArtifactDef `yaml:"artifacts"`
}

type rawConfig struct {
	Timeout        *float64 `yaml:"timeout"`
	CostLimit      *float64 `yaml:"cost_limit"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	TemplatePaths  []string `yaml:"template_paths"`
}

type rawInterface struct {
	SchemaName  string `yaml:"schema_name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

type rawSourceConfig struct {
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
}

type rawProcessConfig struct {
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
}

type rawChildRunbook struct {
	Path          string            `yaml:"path"`
	InputMapping  map[string]string `yaml:"input_mapping"`
	Output        string            `yaml:"output"`
	OutputMapping map[string]string `yaml:"output_mapping"`
}

// rawInputs accepts either a single string or a YAML sequence.
type rawInputs []string

func (r *rawInputs) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*r = []string{single}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*r = list
		return nil
	default:
		return fmt.Errorf("inputs must be a string or a list of strings")
	}
}

type rawArtifactDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Contact     string `yaml:"contact"`

	Output       bool   `yaml:"output"`
	Optional     bool   `yaml:"optional"`
	OutputSchema string `yaml:"output_schema"`

	Source *rawSourceConfig `yaml:"source"`

	Inputs  rawInputs         `yaml:"inputs"`
	Process *rawProcessConfig `yaml:"process"`
	Merge   string            `yaml:"merge"`

	ChildRunbook *rawChildRunbook `yaml:"child_runbook"`
}

// Parse reads and validates a runbook file at path.
func Parse(path string) (*runbook.Runbook, error) {
	data, err := os.ReadFile(path) //nolint:gosec // runbook path is operator-supplied, not attacker-controlled input
	if err != nil {
		return nil, &runbook.ParseError{Path: path, Message: fmt.Sprintf("read file: %v", err)}
	}
	return parseBytes(path, data)
}

func parseBytes(path string, data []byte) (*runbook.Runbook, error) {
	// First pass: detect unknown top-level keys before struct decoding
	// silently drops them.
	var generic map[string]yaml.Node
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, &runbook.ParseError{Path: path, Message: fmt.Sprintf("invalid yaml: %v", err)}
	}
	for key := range generic {
		if _, ok := topLevelKeys[key]; !ok {
			return nil, &runbook.ParseError{Path: path, Message: fmt.Sprintf("unknown top-level field %q", key)}
		}
	}

	var raw rawRunbook
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &runbook.ParseError{Path: path, Message: fmt.Sprintf("invalid yaml: %v", err)}
	}

	if raw.Name == "" {
		return nil, &runbook.ParseError{Path: path, Message: "missing required field \"name\""}
	}
	if raw.Description == "" {
		return nil, &runbook.ParseError{Path: path, Message: "missing required field \"description\""}
	}
	if raw.Artifacts == nil {
		return nil, &runbook.ParseError{Path: path, Message: "missing required field \"artifacts\""}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &runbook.ParseError{Path: path, Message: fmt.Sprintf("resolve absolute path: %v", err)}
	}

	rb := &runbook.Runbook{
		Name:        raw.Name,
		Description: raw.Description,
		Contact:     raw.Contact,
		Config:      toConfig(raw.Config),
		SourcePath:  absPath,
		Artifacts:   make(map[string]*runbook.ArtifactDefinition, len(raw.Artifacts)),
	}

	if raw.Inputs != nil {
		rb.Inputs = toInterfaceMap(raw.Inputs)
	}
	if raw.Outputs != nil {
		rb.Outputs = toInterfaceMap(raw.Outputs)
	}
	for name, iface := range rb.Inputs {
		if err := runbook.ValidateVersion(iface.Version); err != nil {
			return nil, &runbook.ParseError{Path: path, Message: fmt.Sprintf("inputs.%s: %v", name, err)}
		}
	}
	for name, iface := range rb.Outputs {
		if err := runbook.ValidateVersion(iface.Version); err != nil {
			return nil, &runbook.ParseError{Path: path, Message: fmt.Sprintf("outputs.%s: %v", name, err)}
		}
	}

	for id, rawArt := range raw.Artifacts {
		def, err := toArtifactDefinition(rawArt)
		if err != nil {
			return nil, &runbook.ParseError{Path: path, Message: fmt.Sprintf("artifact %q: %v", id, err)}
		}
		rb.Artifacts[id] = def
	}

	return rb, nil
}

func toConfig(raw *rawConfig) runbook.RunbookConfig {
	cfg := runbook.RunbookConfig{MaxConcurrency: runbook.DefaultMaxConcurrency}
	if raw == nil {
		return cfg
	}
	if raw.Timeout != nil {
		d := time.Duration(*raw.Timeout * float64(time.Second))
		cfg.Timeout = &d
	}
	cfg.CostLimit = raw.CostLimit
	if raw.MaxConcurrency > 0 {
		cfg.MaxConcurrency = raw.MaxConcurrency
	}
	cfg.TemplatePaths = raw.TemplatePaths
	return cfg
}

func toInterfaceMap(raw map[string]rawInterface) map[string]runbook.InterfaceField {
	out := make(map[string]runbook.InterfaceField, len(raw))
	for name, f := range raw {
		out[name] = runbook.InterfaceField{
			SchemaName:  f.SchemaName,
			Version:     f.Version,
			Description: f.Description,
		}
	}
	return out
}

func toArtifactDefinition(raw rawArtifactDef) (*runbook.ArtifactDefinition, error) {
	variants := 0
	if raw.Source != nil {
		variants++
	}
	if len(raw.Inputs) > 0 || raw.Process != nil {
		variants++
	}
	if raw.ChildRunbook != nil {
		variants++
	}
	if variants != 1 {
		return nil, fmt.Errorf("exactly one of source, inputs/process, or child_runbook must be set (got %d)", variants)
	}

	def := &runbook.ArtifactDefinition{
		Name:         raw.Name,
		Description:  raw.Description,
		Contact:      raw.Contact,
		Output:       raw.Output,
		Optional:     raw.Optional,
		OutputSchema: raw.OutputSchema,
		Merge:        raw.Merge,
	}

	switch {
	case raw.Source != nil:
		def.Source = &runbook.SourceConfig{Type: raw.Source.Type, Properties: raw.Source.Properties}
	case raw.ChildRunbook != nil:
		if raw.ChildRunbook.Output != "" && len(raw.ChildRunbook.OutputMapping) > 0 {
			return nil, fmt.Errorf("child_runbook.output and child_runbook.output_mapping are mutually exclusive")
		}
		def.Child = &runbook.ChildRunbookConfig{
			Path:          raw.ChildRunbook.Path,
			InputMapping:  raw.ChildRunbook.InputMapping,
			Output:        raw.ChildRunbook.Output,
			OutputMapping: raw.ChildRunbook.OutputMapping,
		}
	default:
		if len(raw.Inputs) == 0 {
			return nil, fmt.Errorf("derived artifact requires at least one input")
		}
		if raw.Process == nil {
			return nil, fmt.Errorf("derived artifact requires a process block")
		}
		def.Inputs = raw.Inputs
		def.Process = &runbook.ProcessConfig{Type: raw.Process.Type, Properties: raw.Process.Properties}
	}

	return def, nil
}
