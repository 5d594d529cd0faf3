// Package observability provides runbook-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Runbook-specific semantic convention attributes.
var (
	AttrArtifactID   = attribute.Key("runbook.artifact.id")
	AttrArtifactKind = attribute.Key("runbook.artifact.kind")

	AttrSchemaName    = attribute.Key("runbook.schema.name")
	AttrSchemaVersion = attribute.Key("runbook.schema.version")

	AttrComponentType = attribute.Key("runbook.component.type")
	AttrOutcome       = attribute.Key("runbook.artifact.outcome")

	AttrRunbookName = attribute.Key("runbook.name")
	AttrCost        = attribute.Key("runbook.artifact.cost")
)

// ArtifactProduction creates attributes describing one artifact's production.
func ArtifactProduction(artifactID, kind, componentType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrArtifactID.String(artifactID),
		AttrArtifactKind.String(kind),
		AttrComponentType.String(componentType),
	}
}

// ArtifactOutcome creates attributes describing how an artifact's production ended.
func ArtifactOutcome(artifactID, outcome string, cost float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrArtifactID.String(artifactID),
		AttrOutcome.String(outcome),
		AttrCost.Float64(cost),
	}
}

// SchemaOf creates attributes identifying a resolved schema.
func SchemaOf(name, version string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSchemaName.String(name),
		AttrSchemaVersion.String(version),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err, if any, on the current span.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
