// Package executor runs an ExecutionPlan: it drains the DAG's topological
// ready-set, producing each artifact concurrently under a bounded semaphore,
// tracking cumulative cost, and honoring per-artifact optional-failure
// isolation, overall timeout, and cooperative cancellation.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Mindburn-Labs/helm-runbook/pkg/audit"
	"github.com/Mindburn-Labs/helm-runbook/pkg/metering"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/component"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/dag"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/planner"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/store"
	"github.com/Mindburn-Labs/helm-runbook/pkg/util/resiliency"
	"github.com/Mindburn-Labs/helm-runbook/pkg/versioning"
)

// OutcomeKind classifies how an artifact's production ended.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome records the result of producing a single artifact.
type Outcome struct {
	Kind    OutcomeKind
	Message *runbook.Message
	Err     error
	Reason  string
}

// ExecutionResult is the terminal report of one Execute call.
type ExecutionResult struct {
	Outcomes  map[string]Outcome
	Skipped   map[string]struct{}
	Failed    map[string]struct{}
	Cost      float64
	Cancelled bool
}

// Summary renders a one-line human-readable tally, in the idiom of the
// registry's list helpers.
func (r *ExecutionResult) Summary() string {
	success := 0
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeSuccess {
			success++
		}
	}
	return fmt.Sprintf("produced=%d failed=%d skipped=%d cost=%.4f cancelled=%t",
		success, len(r.Failed), len(r.Skipped), r.Cost, r.Cancelled)
}

// Registry is the subset of registry.Registry the executor depends on.
type Registry interface {
	GetSourceFactory(sourceType string) (component.SourceFactory, error)
	GetProcessorFactory(processorType string) (component.ProcessorFactory, error)
}

// Executor runs plans against a component registry and artifact store.
type Executor struct {
	Registry Registry
	Store    *store.ArtifactStore
	Audit    audit.Logger // optional; nil disables audit recording
	Logger   *slog.Logger // optional; defaults to slog.Default()

	Meter    metering.Meter // optional; nil disables usage metering
	TenantID string         // required when Meter is set

	Retry *RetryPolicy // optional; nil disables per-artifact retry

	breakersMu sync.Mutex
	breakers   map[string]*resiliency.CircuitBreaker
}

// RetryPolicy configures transient-failure retry around a component's
// Extract/Process call, with a circuit breaker per component type so a
// persistently broken connector or processor stops being retried.
type RetryPolicy struct {
	MaxRetries       int
	BaseDelay        time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// New creates an Executor. audit and logger may be nil.
func New(reg Registry, st *store.ArtifactStore, auditLogger audit.Logger, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{Registry: reg, Store: st, Audit: auditLogger, Logger: logger}
}

// WithMeter attaches a usage meter, recording one EventArtifactCost event per
// successfully produced artifact under tenantID.
func (e *Executor) WithMeter(meter metering.Meter, tenantID string) *Executor {
	e.Meter = meter
	e.TenantID = tenantID
	return e
}

// WithRetry enables transient-failure retry around each artifact's
// Extract/Process call.
func (e *Executor) WithRetry(policy RetryPolicy) *Executor {
	e.Retry = &policy
	return e
}

// breakerFor returns the circuit breaker for a component type, creating one
// on first use.
func (e *Executor) breakerFor(componentType string) *resiliency.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	if e.breakers == nil {
		e.breakers = make(map[string]*resiliency.CircuitBreaker)
	}
	if b, ok := e.breakers[componentType]; ok {
		return b
	}
	b := resiliency.NewCircuitBreaker(componentType, e.Retry.BreakerThreshold, e.Retry.BreakerTimeout)
	e.breakers[componentType] = b
	return b
}

type completion struct {
	id      string
	outcome Outcome
}

// Execute runs plan to completion, or until cancellation, timeout, or a
// cost-limit breach. It always returns a populated ExecutionResult; a
// non-nil error is reserved for failures the plan itself could not survive
// (there are currently none - non-optional component failures are reported
// via the returned result, not via error).
func (e *Executor) Execute(ctx context.Context, plan *planner.ExecutionPlan) (*ExecutionResult, error) {
	e.Store.Clear()

	runCtx := ctx
	if plan.Runbook.Config.Timeout != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, *plan.Runbook.Config.Timeout)
		defer cancel()
	}
	runCtx, cancel := context.WithCancel(runCtx)
	defer cancel()

	maxConcurrency := plan.Runbook.Config.EffectiveMaxConcurrency()
	sem := semaphore.NewWeighted(int64(maxConcurrency))

	sorter := dag.NewSorter(plan.Graph)
	skipped := make(map[string]bool)
	failed := make(map[string]bool)
	outcomes := make(map[string]Outcome, len(plan.ArtifactDefs))

	var costMu sync.Mutex
	var cost float64

	completions := make(chan completion)
	inFlight := 0
	cancelled := false

	drainInFlight := func() {
		for inFlight > 0 {
			c := <-completions
			inFlight--
			outcomes[c.id] = c.outcome
		}
	}

	for sorter.IsActive() {
		ready := sorter.GetReady()
		for _, id := range ready {
			if skipped[id] {
				sorter.Done(id)
				outcomes[id] = Outcome{Kind: OutcomeSkipped, Reason: "upstream dependency failed or was skipped"}
				continue
			}
			inFlight++
			go e.runOne(runCtx, plan, id, sem, completions)
		}

		if inFlight == 0 {
			continue
		}

		comp := <-completions
		inFlight--
		sorter.Done(comp.id)
		outcomes[comp.id] = comp.outcome

		switch comp.outcome.Kind {
		case OutcomeFailure:
			failed[comp.id] = true
			e.Logger.Warn("artifact failed", "artifact", comp.id, "error", comp.outcome.Err)
			def := plan.ArtifactDefs[comp.id]
			if def != nil && def.Optional {
				cascadeSkip(plan.Graph, comp.id, skipped)
				continue
			}
			cancel()
			cancelled = true
			drainInFlight()
			return e.finish(outcomes, skipped, failed, cost, cancelled), nil

		case OutcomeSuccess:
			if comp.outcome.Message != nil {
				costMu.Lock()
				cost += comp.outcome.Message.Cost
				costMu.Unlock()
				e.recordUsage(runCtx, comp.id, comp.outcome.Message.Cost)
			}
			if plan.Runbook.Config.CostLimit != nil && cost > *plan.Runbook.Config.CostLimit {
				e.Logger.Warn("cost limit exceeded", "limit", *plan.Runbook.Config.CostLimit, "cost", cost)
				cancel()
				cancelled = true
				drainInFlight()
				return e.finish(outcomes, skipped, failed, cost, cancelled), nil
			}
		}
	}

	return e.finish(outcomes, skipped, failed, cost, cancelled), nil
}

// recordUsage records an artifact's reported cost as a metering event, if a
// meter is configured. Metering failures are logged, not fatal: the run
// should not abort because usage accounting is unavailable.
func (e *Executor) recordUsage(ctx context.Context, artifactID string, cost float64) {
	if e.Meter == nil {
		return
	}
	event := metering.Event{
		TenantID:  e.TenantID,
		EventType: metering.EventArtifactCost,
		Quantity:  int64(cost),
		Metadata:  map[string]any{"artifact": artifactID},
	}
	if err := e.Meter.Record(ctx, event); err != nil {
		e.Logger.Warn("failed to record usage event", "artifact", artifactID, "error", err)
	}
}

func (e *Executor) finish(outcomes map[string]Outcome, skipped, failed map[string]bool, cost float64, cancelled bool) *ExecutionResult {
	result := &ExecutionResult{
		Outcomes:  outcomes,
		Skipped:   toSet(skipped),
		Failed:    toSet(failed),
		Cost:      cost,
		Cancelled: cancelled,
	}
	if e.Audit != nil {
		_ = e.Audit.Record(context.Background(), audit.EventSystem, "runbook.execute", "runbook", map[string]any{
			"summary":        result.Summary(),
			"engine_version": versioning.EngineVersion.String(),
		})
	}
	return result
}

func (e *Executor) runOne(ctx context.Context, plan *planner.ExecutionPlan, id string, sem *semaphore.Weighted, completions chan<- completion) {
	if err := sem.Acquire(ctx, 1); err != nil {
		completions <- completion{id: id, outcome: Outcome{Kind: OutcomeFailure, Err: err}}
		return
	}
	defer sem.Release(1)

	var msg *runbook.Message
	var err error
	if e.Retry != nil {
		retrier := resiliency.NewRetrier(e.Retry.MaxRetries, e.Retry.BaseDelay, e.breakerFor(componentType(plan, id)))
		err = retrier.Do(ctx, func(ctx context.Context) error {
			m, produceErr := e.produce(ctx, plan, id)
			if produceErr != nil {
				return produceErr
			}
			msg = m
			return nil
		})
	} else {
		msg, err = e.produce(ctx, plan, id)
	}

	if err != nil {
		completions <- completion{id: id, outcome: Outcome{Kind: OutcomeFailure, Err: err}}
		return
	}
	completions <- completion{id: id, outcome: Outcome{Kind: OutcomeSuccess, Message: msg}}
}

// componentType identifies the connector or processor type backing an
// artifact, used to key its circuit breaker.
func componentType(plan *planner.ExecutionPlan, id string) string {
	def := plan.ArtifactDefs[id]
	switch def.Kind() {
	case runbook.KindSource:
		return "source:" + def.Source.Type
	case runbook.KindDerived:
		return "processor:" + def.Process.Type
	default:
		return id
	}
}

// produce instantiates and invokes the artifact's source or processor,
// validates its output, attaches provenance, and saves it to the store.
func (e *Executor) produce(ctx context.Context, plan *planner.ExecutionPlan, id string) (*runbook.Message, error) {
	def := plan.ArtifactDefs[id]
	schema := plan.ArtifactSchemas[id]

	var msg *runbook.Message
	var validator component.OutputValidator

	switch def.Kind() {
	case runbook.KindSource:
		factory, err := e.Registry.GetSourceFactory(def.Source.Type)
		if err != nil {
			return nil, &runbook.ComponentError{ArtifactID: id, Cause: err}
		}
		if v, ok := factory.(component.OutputValidator); ok {
			validator = v
		}
		src, err := factory.Create(def.Source.Properties)
		if err != nil {
			return nil, &runbook.ComponentError{ArtifactID: id, Cause: err}
		}
		msg, err = src.Extract(ctx)
		if err != nil {
			return nil, &runbook.ComponentError{ArtifactID: id, Cause: err}
		}

	case runbook.KindDerived:
		factory, err := e.Registry.GetProcessorFactory(def.Process.Type)
		if err != nil {
			return nil, &runbook.ComponentError{ArtifactID: id, Cause: err}
		}
		if v, ok := factory.(component.OutputValidator); ok {
			validator = v
		}
		proc, err := factory.Create(def.Process.Properties)
		if err != nil {
			return nil, &runbook.ComponentError{ArtifactID: id, Cause: err}
		}

		inputs := make([]*runbook.Message, len(def.Inputs))
		for i, inputID := range def.Inputs {
			inputMsg, err := e.Store.Get(inputID)
			if err != nil {
				return nil, &runbook.ComponentError{ArtifactID: id, Cause: err}
			}
			inputs[i] = inputMsg
		}

		msg, err = proc.Process(ctx, inputs, schema)
		if err != nil {
			return nil, &runbook.ComponentError{ArtifactID: id, Cause: err}
		}

	default:
		return nil, &runbook.ComponentError{ArtifactID: id, Cause: fmt.Errorf("artifact has no producible kind")}
	}

	if validator != nil {
		if err := validator.ValidateOutput(schema, msg.Content); err != nil {
			return nil, &runbook.ValidationError{ArtifactID: id, Schema: schema, Cause: err}
		}
	}

	tagged := msg.WithExecutionContext(runbook.ExecutionContext{
		Status: "success",
		Origin: runbook.DeriveOrigin(id),
		Alias:  plan.ReversedAliases[id],
	})

	if err := e.Store.Save(id, &tagged); err != nil {
		return nil, err
	}
	return &tagged, nil
}

// cascadeSkip marks every transitive dependent of a failed optional artifact
// as skipped, via breadth-first traversal of the dependency graph.
func cascadeSkip(g *dag.Graph, failedID string, skipped map[string]bool) {
	queue := []string{failedID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dependent := range g.Dependents(id) {
			if skipped[dependent] {
				continue
			}
			skipped[dependent] = true
			queue = append(queue, dependent)
		}
	}
}

func toSet(m map[string]bool) map[string]struct{} {
	set := make(map[string]struct{}, len(m))
	for id, v := range m {
		if v {
			set[id] = struct{}{}
		}
	}
	return set
}
