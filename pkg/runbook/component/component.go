// Package component declares the narrow external contracts the planner and
// executor rely on. Concrete source connectors, processors (analysers), and
// readers are pluggable collaborators implemented outside this module; this
// package only fixes the shape they must present.
package component

import (
	"context"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
)

// Source produces a single message from nothing (e.g. a file, database, or
// HTTP poll). Implementations must be safe to invoke concurrently across
// distinct instances; they are not required to be internally re-entrant.
type Source interface {
	Extract(ctx context.Context) (*runbook.Message, error)
}

// SourceFactory constructs Source instances from a runbook's declared properties.
type SourceFactory interface {
	Create(properties map[string]any) (Source, error)

	// GetSupportedOutputSchemas lists the schemas this source type can produce.
	// The first entry is the default output schema absent an `output_schema`
	// override in the runbook.
	GetSupportedOutputSchemas() []runbook.Schema
}

// Processor consumes one or more upstream messages and produces one derived message.
type Processor interface {
	// GetInputRequirements returns alternative valid input combinations; each
	// inner slice is a set of required schemas, matched by exact set equality.
	GetInputRequirements() [][]runbook.InputRequirement

	// GetSupportedOutputSchemas lists the schemas this processor can produce.
	// The first entry is the default absent an `output_schema` override.
	GetSupportedOutputSchemas() []runbook.Schema

	Process(ctx context.Context, inputs []*runbook.Message, outputSchema runbook.Schema) (*runbook.Message, error)
}

// ProcessorFactory constructs Processor instances from a runbook's declared properties.
type ProcessorFactory interface {
	Create(properties map[string]any) (Processor, error)
}

// Reader transforms a message's content into the typed structure a specific
// processor expects, dispatched dynamically by schema version.
type Reader interface {
	Read(msg *runbook.Message) (any, error)
}

// ReaderResolver exposes, for a given processor type and schema, a Reader
// capable of handling it. The component registry implements this.
type ReaderResolver interface {
	ResolveReader(processorType string, schema runbook.Schema) (Reader, bool)
}

// OutputValidator is an optional capability a SourceFactory or
// ProcessorFactory may implement to have the executor validate a produced
// message's content against its resolved output schema at production time.
// Factories that do not implement it are assumed to always produce valid
// content.
type OutputValidator interface {
	ValidateOutput(schema runbook.Schema, content any) error
}
