package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/component"
)

// TrustEnforcingSourceFactory wraps an existing component.SourceFactory with
// the zero-trust gate: every Extract call is checked against the connector's
// trust policy before the wrapped source runs, and the resulting message is
// tagged with a ProvenanceTag recording what was fetched and how fresh it is.
type TrustEnforcingSourceFactory struct {
	ConnectorID string
	DataClass   string
	TTLSeconds  int
	TrustLevel  TrustLevel

	Inner component.SourceFactory
	Gate  *ZeroTrustGate
}

// NewTrustEnforcingSourceFactory wraps inner with gate. It registers no
// policy: gate must already hold one for connectorID, or every Extract is
// denied.
func NewTrustEnforcingSourceFactory(connectorID, dataClass string, ttlSeconds int, trustLevel TrustLevel, inner component.SourceFactory, gate *ZeroTrustGate) *TrustEnforcingSourceFactory {
	return &TrustEnforcingSourceFactory{
		ConnectorID: connectorID,
		DataClass:   dataClass,
		TTLSeconds:  ttlSeconds,
		TrustLevel:  trustLevel,
		Inner:       inner,
		Gate:        gate,
	}
}

// Create builds a trust-enforcing Source around the inner factory's Source.
func (f *TrustEnforcingSourceFactory) Create(properties map[string]any) (component.Source, error) {
	inner, err := f.Inner.Create(properties)
	if err != nil {
		return nil, err
	}
	return &trustEnforcingSource{factory: f, inner: inner}, nil
}

// GetSupportedOutputSchemas delegates to the wrapped factory.
func (f *TrustEnforcingSourceFactory) GetSupportedOutputSchemas() []runbook.Schema {
	return f.Inner.GetSupportedOutputSchemas()
}

type trustEnforcingSource struct {
	factory *TrustEnforcingSourceFactory
	inner   component.Source
}

// Extract enforces the connector's trust policy, then delegates to the
// wrapped source and attaches a ProvenanceTag to the resulting message.
func (s *trustEnforcingSource) Extract(ctx context.Context) (*runbook.Message, error) {
	f := s.factory

	decision := f.Gate.CheckCall(ctx, f.ConnectorID, f.DataClass)
	if !decision.Allowed {
		return nil, fmt.Errorf("connector %q blocked by zero-trust gate: %s (%s)", f.ConnectorID, decision.Reason, decision.Violation)
	}

	start := time.Now()
	msg, err := s.inner.Extract(ctx)
	latency := time.Since(start)

	if err != nil {
		return nil, err
	}

	respBytes, _ := json.Marshal(msg.Content)
	check := f.Gate.detector.Check(int64(len(respBytes)), latency)
	if !check.Clean {
		return nil, fmt.Errorf("connector %q response rejected by anomaly detector: %v", f.ConnectorID, check.Findings)
	}

	tag := ComputeProvenanceTag(f.ConnectorID, nil, respBytes, f.TTLSeconds, f.TrustLevel)
	if decision := f.Gate.ValidateProvenance(tag); !decision.Allowed {
		return nil, fmt.Errorf("connector %q provenance rejected: %s (%s)", f.ConnectorID, decision.Reason, decision.Violation)
	}

	msg.Extensions.Provenance = &runbook.ProvenanceInfo{
		ConnectorID:  tag.ConnectorID,
		ResponseHash: tag.ResponseHash,
		FetchedAt:    tag.FetchedAt,
		TrustLevel:   string(tag.TrustLevel),
	}
	return msg, nil
}
