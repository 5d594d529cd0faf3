package runbook

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed runbook document.
type ParseError struct {
	Path    string
	Message string
	Line    int // 0 when unknown
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Message)
}

// PathResolutionError reports a child-runbook path that could not be resolved safely.
type PathResolutionError struct {
	ChildPath string
	Tried     []string
	Reason    string // why an absolute or ".." path was rejected; "" for not-found
}

func (e *PathResolutionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("resolve child runbook %q: %s", e.ChildPath, e.Reason)
	}
	return fmt.Sprintf("resolve child runbook %q: not found, tried [%s]", e.ChildPath, strings.Join(e.Tried, ", "))
}

// FlattenError reports a failure while inlining a child runbook.
type FlattenError struct {
	ParentPath string
	ChildPath  string
	Message    string
	Cause      error
}

func (e *FlattenError) Error() string {
	msg := fmt.Sprintf("flatten %s <- %s: %s", e.ParentPath, e.ChildPath, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FlattenError) Unwrap() error { return e.Cause }

// CycleError reports a dependency cycle found in the DAG or in child-runbook inclusion.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Nodes, " -> "))
}

// ReferenceError reports an `inputs` entry naming an unknown artifact.
type ReferenceError struct {
	ArtifactID string
	Reference  string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("artifact %q references unknown artifact %q", e.ArtifactID, e.Reference)
}

// ComponentNotFoundError reports an unknown source/processor type name.
type ComponentNotFoundError struct {
	Kind string // "source" or "processor"
	Type string
}

func (e *ComponentNotFoundError) Error() string {
	return fmt.Sprintf("no %s component registered for type %q", e.Kind, e.Type)
}

// InputMatchError reports that the provided upstream schemas matched no
// declared input-requirement combination.
type InputMatchError struct {
	ArtifactID   string
	Provided     []Schema
	Alternatives [][]InputRequirement
}

func (e *InputMatchError) Error() string {
	provided := make([]string, len(e.Provided))
	for i, s := range e.Provided {
		provided[i] = s.String()
	}
	alts := make([]string, len(e.Alternatives))
	for i, combo := range e.Alternatives {
		names := make([]string, len(combo))
		for j, r := range combo {
			names[j] = r.Schema().String()
		}
		alts[i] = "{" + strings.Join(names, ", ") + "}"
	}
	return fmt.Sprintf("artifact %q: provided schemas {%s} match no declared combination [%s]",
		e.ArtifactID, strings.Join(provided, ", "), strings.Join(alts, ", "))
}

// SchemaOverrideError reports an output_schema override not supported by the factory.
type SchemaOverrideError struct {
	ArtifactID string
	Requested  string
	Supported  []Schema
}

func (e *SchemaOverrideError) Error() string {
	supported := make([]string, len(e.Supported))
	for i, s := range e.Supported {
		supported[i] = s.String()
	}
	return fmt.Sprintf("artifact %q: output_schema override %q not in supported set [%s]",
		e.ArtifactID, e.Requested, strings.Join(supported, ", "))
}

// ReaderNotFoundError reports that no reader is resolvable for a matched input schema.
type ReaderNotFoundError struct {
	ProcessorType string
	Schema        Schema
}

func (e *ReaderNotFoundError) Error() string {
	return fmt.Sprintf("no reader for schema %s on processor type %q", e.Schema, e.ProcessorType)
}

// ValidationError reports that a component's output failed schema validation at production.
type ValidationError struct {
	ArtifactID string
	Schema     Schema
	Cause      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("artifact %q: output failed validation against %s: %v", e.ArtifactID, e.Schema, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// ComponentError wraps any error raised by a source or processor component.
type ComponentError struct {
	ArtifactID string
	Cause      error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("artifact %q: component error: %v", e.ArtifactID, e.Cause)
}

func (e *ComponentError) Unwrap() error { return e.Cause }

// ArtifactNotFoundError reports a miss in the artifact store.
type ArtifactNotFoundError struct {
	ID string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact not found: %s", e.ID)
}

// PlanError wraps any plan-time failure with the runbook path and, where
// known, the offending artifact id, so callers get location context.
type PlanError struct {
	RunbookPath string
	ArtifactID  string
	Cause       error
}

func (e *PlanError) Error() string {
	if e.ArtifactID != "" {
		return fmt.Sprintf("plan %s: artifact %q: %v", e.RunbookPath, e.ArtifactID, e.Cause)
	}
	return fmt.Sprintf("plan %s: %v", e.RunbookPath, e.Cause)
}

func (e *PlanError) Unwrap() error { return e.Cause }
