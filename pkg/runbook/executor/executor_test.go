package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-runbook/pkg/metering"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/component"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/executor"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/planner"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/registry"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/store"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "runbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func stdSchema() runbook.Schema { return runbook.Schema{Name: "std", Version: "1.0.0"} }

type fixedSource struct {
	content any
	cost    float64
	err     error
	delay   time.Duration
}

func (s fixedSource) Extract(ctx context.Context) (*runbook.Message, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &runbook.Message{ID: "m", Content: s.content, Schema: stdSchema(), Cost: s.cost}, nil
}

type fixedSourceFactory struct {
	source  fixedSource
	schemas []runbook.Schema
}

func (f fixedSourceFactory) Create(map[string]any) (component.Source, error) { return f.source, nil }
func (f fixedSourceFactory) GetSupportedOutputSchemas() []runbook.Schema     { return f.schemas }

// flakySource fails the first failTimes calls, then succeeds.
type flakySource struct {
	attempts  *int
	failTimes int
}

func (s flakySource) Extract(context.Context) (*runbook.Message, error) {
	*s.attempts++
	if *s.attempts <= s.failTimes {
		return nil, errors.New("transient connector error")
	}
	return &runbook.Message{ID: "m", Content: "recovered", Schema: stdSchema()}, nil
}

type flakySourceFactory struct {
	source flakySource
}

func (f flakySourceFactory) Create(map[string]any) (component.Source, error) { return f.source, nil }
func (f flakySourceFactory) GetSupportedOutputSchemas() []runbook.Schema {
	return []runbook.Schema{stdSchema()}
}

type passthroughProcessor struct {
	reqs    [][]runbook.InputRequirement
	outputs []runbook.Schema
	err     error
}

func (p passthroughProcessor) GetInputRequirements() [][]runbook.InputRequirement { return p.reqs }
func (p passthroughProcessor) GetSupportedOutputSchemas() []runbook.Schema        { return p.outputs }
func (p passthroughProcessor) Process(ctx context.Context, inputs []*runbook.Message, schema runbook.Schema) (*runbook.Message, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &runbook.Message{ID: "derived", Content: "ok", Schema: schema}, nil
}

type passthroughProcessorFactory struct {
	reqs    [][]runbook.InputRequirement
	outputs []runbook.Schema
	err     error
}

func (f passthroughProcessorFactory) Create(map[string]any) (component.Processor, error) {
	return passthroughProcessor{reqs: f.reqs, outputs: f.outputs, err: f.err}, nil
}

type noopReader struct{}

func (noopReader) Read(*runbook.Message) (any, error) { return nil, nil }

func TestExecuteLinearPipelineSucceeds(t *testing.T) {
	path := writeTemp(t, `
name: linear
description: source feeds a single processor
artifacts:
  raw:
    output: false
    source: {type: s3}
  findings:
    output: true
    inputs: raw
    process: {type: detector}
`)
	reg := registry.New()
	reg.RegisterSource("s3", fixedSourceFactory{source: fixedSource{content: "raw-data"}, schemas: []runbook.Schema{stdSchema()}})
	reg.RegisterProcessor("detector", passthroughProcessorFactory{
		reqs:    [][]runbook.InputRequirement{{{SchemaName: "std", Version: "1.0.0"}}},
		outputs: []runbook.Schema{{Name: "findings", Version: "1.0.0"}},
	})
	reg.RegisterReader("detector", stdSchema(), noopReader{})

	plan, err := planner.Plan(path, reg)
	require.NoError(t, err)

	st := store.New()
	ex := executor.New(reg, st, nil, nil)
	result, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.False(t, result.Cancelled)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, executor.OutcomeSuccess, result.Outcomes["raw"].Kind)
	assert.Equal(t, executor.OutcomeSuccess, result.Outcomes["findings"].Kind)

	saved, err := st.Get("findings")
	require.NoError(t, err)
	require.NotNil(t, saved.Extensions.Execution)
	assert.Equal(t, "success", saved.Extensions.Execution.Status)
	assert.Equal(t, "findings", saved.Extensions.Execution.Origin)
}

func TestExecuteOptionalFailureSkipsDependents(t *testing.T) {
	path := writeTemp(t, `
name: optional-isolation
description: an optional source fails and should not abort the run
artifacts:
  good:
    source: {type: ok}
  bad:
    optional: true
    source: {type: broken}
  downstream_of_bad:
    inputs: bad
    process: {type: passthrough}
  downstream_of_good:
    output: true
    inputs: good
    process: {type: passthrough}
`)
	reg := registry.New()
	reg.RegisterSource("ok", fixedSourceFactory{source: fixedSource{content: "ok"}, schemas: []runbook.Schema{stdSchema()}})
	reg.RegisterSource("broken", fixedSourceFactory{source: fixedSource{err: errors.New("boom")}, schemas: []runbook.Schema{stdSchema()}})
	reg.RegisterProcessor("passthrough", passthroughProcessorFactory{
		reqs:    [][]runbook.InputRequirement{{{SchemaName: "std", Version: "1.0.0"}}},
		outputs: []runbook.Schema{stdSchema()},
	})
	reg.RegisterReader("passthrough", stdSchema(), noopReader{})

	plan, err := planner.Plan(path, reg)
	require.NoError(t, err)

	st := store.New()
	ex := executor.New(reg, st, nil, nil)
	result, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.False(t, result.Cancelled)
	assert.Contains(t, result.Failed, "bad")
	assert.Contains(t, result.Skipped, "downstream_of_bad")
	assert.Equal(t, executor.OutcomeSuccess, result.Outcomes["downstream_of_good"].Kind)
}

func TestExecuteNonOptionalFailureCancelsRun(t *testing.T) {
	path := writeTemp(t, `
name: fatal-failure
description: a required source fails and must abort the run
artifacts:
  bad:
    source: {type: broken}
  downstream:
    output: true
    inputs: bad
    process: {type: passthrough}
`)
	reg := registry.New()
	reg.RegisterSource("broken", fixedSourceFactory{source: fixedSource{err: errors.New("boom")}, schemas: []runbook.Schema{stdSchema()}})
	reg.RegisterProcessor("passthrough", passthroughProcessorFactory{
		reqs:    [][]runbook.InputRequirement{{{SchemaName: "std", Version: "1.0.0"}}},
		outputs: []runbook.Schema{stdSchema()},
	})
	reg.RegisterReader("passthrough", stdSchema(), noopReader{})

	plan, err := planner.Plan(path, reg)
	require.NoError(t, err)

	st := store.New()
	ex := executor.New(reg, st, nil, nil)
	result, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Contains(t, result.Failed, "bad")
}

func TestExecuteCostLimitExceededCancels(t *testing.T) {
	path := writeTemp(t, `
name: cost-capped
description: a source that reports more cost than the configured limit
config:
  cost_limit: 1.0
artifacts:
  expensive:
    output: true
    source: {type: pricey}
`)
	reg := registry.New()
	reg.RegisterSource("pricey", fixedSourceFactory{source: fixedSource{content: "x", cost: 5.0}, schemas: []runbook.Schema{stdSchema()}})

	plan, err := planner.Plan(path, reg)
	require.NoError(t, err)

	st := store.New()
	ex := executor.New(reg, st, nil, nil)
	result, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Equal(t, 5.0, result.Cost)
}

func TestExecuteEmptyArtifactsSucceeds(t *testing.T) {
	path := writeTemp(t, `
name: empty
description: no artifacts at all
artifacts: {}
`)
	reg := registry.New()
	plan, err := planner.Plan(path, reg)
	require.NoError(t, err)

	st := store.New()
	ex := executor.New(reg, st, nil, nil)
	result, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, result.Cancelled)
	assert.Empty(t, result.Outcomes)
}

func TestExecuteMaxConcurrencyOneSerializes(t *testing.T) {
	path := writeTemp(t, `
name: serialized
description: two independent sources under max_concurrency 1
config:
  max_concurrency: 1
artifacts:
  a:
    source: {type: slow}
  b:
    source: {type: slow}
`)
	reg := registry.New()
	reg.RegisterSource("slow", fixedSourceFactory{source: fixedSource{content: "x", delay: 20 * time.Millisecond}, schemas: []runbook.Schema{stdSchema()}})

	plan, err := planner.Plan(path, reg)
	require.NoError(t, err)

	st := store.New()
	ex := executor.New(reg, st, nil, nil)

	start := time.Now()
	result, err := ex.Execute(context.Background(), plan)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, result.Cancelled)
	assert.Len(t, result.Outcomes, 2)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond, "max_concurrency=1 should serialize the two 20ms sources")
}

type memMeter struct {
	mu     sync.Mutex
	events []metering.Event
}

func (m *memMeter) Record(ctx context.Context, event metering.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memMeter) RecordBatch(ctx context.Context, events []metering.Event) error {
	for _, e := range events {
		if err := m.Record(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *memMeter) GetUsage(ctx context.Context, tenantID string, period metering.Period) (*metering.Usage, error) {
	return nil, nil
}

func (m *memMeter) GetUsageByType(ctx context.Context, tenantID string, eventType metering.EventType, period metering.Period) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, e := range m.events {
		if e.TenantID == tenantID && e.EventType == eventType {
			total += e.Quantity
		}
	}
	return total, nil
}

func TestExecuteRecordsUsageWhenMeterConfigured(t *testing.T) {
	path := writeTemp(t, `
name: metered
description: a source whose cost should be metered
artifacts:
  findings:
    output: true
    source: {type: paid}
`)
	reg := registry.New()
	reg.RegisterSource("paid", fixedSourceFactory{source: fixedSource{content: "x", cost: 3.0}, schemas: []runbook.Schema{stdSchema()}})

	plan, err := planner.Plan(path, reg)
	require.NoError(t, err)

	st := store.New()
	meter := &memMeter{}
	ex := executor.New(reg, st, nil, nil).WithMeter(meter, "tenant-a")

	result, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, result.Cancelled)

	require.Len(t, meter.events, 1)
	assert.Equal(t, "tenant-a", meter.events[0].TenantID)
	assert.Equal(t, metering.EventArtifactCost, meter.events[0].EventType)
	assert.Equal(t, int64(3), meter.events[0].Quantity)
}

func TestExecuteRetriesTransientFailureThenSucceeds(t *testing.T) {
	path := writeTemp(t, `
name: flaky
description: a source that fails twice before succeeding
artifacts:
  findings:
    output: true
    source: {type: flaky}
`)
	reg := registry.New()
	attempts := 0
	reg.RegisterSource("flaky", flakySourceFactory{source: flakySource{attempts: &attempts, failTimes: 2}})

	plan, err := planner.Plan(path, reg)
	require.NoError(t, err)

	st := store.New()
	ex := executor.New(reg, st, nil, nil).WithRetry(executor.RetryPolicy{
		MaxRetries:       3,
		BaseDelay:        time.Millisecond,
		BreakerThreshold: 5,
		BreakerTimeout:   time.Second,
	})

	result, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, result.Cancelled)
	assert.Equal(t, 3, attempts)

	outcome := result.Outcomes["findings"]
	require.Equal(t, executor.OutcomeSuccess, outcome.Kind)
}

func TestExecuteExhaustsRetriesAndFails(t *testing.T) {
	path := writeTemp(t, `
name: always-flaky
description: a source that always fails
artifacts:
  findings:
    output: true
    source: {type: always-flaky}
`)
	reg := registry.New()
	attempts := 0
	reg.RegisterSource("always-flaky", flakySourceFactory{source: flakySource{attempts: &attempts, failTimes: 100}})

	plan, err := planner.Plan(path, reg)
	require.NoError(t, err)

	st := store.New()
	ex := executor.New(reg, st, nil, nil).WithRetry(executor.RetryPolicy{
		MaxRetries:       2,
		BaseDelay:        time.Millisecond,
		BreakerThreshold: 10,
		BreakerTimeout:   time.Second,
	})

	result, err := ex.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	outcome := result.Outcomes["findings"]
	require.Equal(t, executor.OutcomeFailure, outcome.Kind)
}
