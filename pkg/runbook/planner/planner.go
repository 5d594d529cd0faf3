// Package planner resolves a parsed, flattened runbook against a component
// registry and produces an immutable ExecutionPlan the executor consumes.
package planner

import (
	"sort"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/component"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/dag"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/flatten"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/parser"
)

// ExecutionPlan is the frozen, fully-resolved result of planning a runbook.
// It is consumed once by the executor.
type ExecutionPlan struct {
	Runbook           *runbook.Runbook
	Graph             *dag.Graph
	ArtifactSchemas   map[string]runbook.Schema // artifact id -> resolved output schema
	ArtifactDefs      map[string]*runbook.ArtifactDefinition
	Aliases           map[string]string // parent-facing name -> namespaced id
	ReversedAliases   map[string]string // namespaced id -> parent-facing name
	InputSchemas      map[string][]runbook.Schema // artifact id -> resolved ordered input schemas
}

// Plan runs the full parse -> flatten -> DAG -> resolve pipeline for the
// runbook at path, using reg to resolve source/processor factories.
func Plan(path string, reg Registry) (*ExecutionPlan, error) {
	rb, err := parser.Parse(path)
	if err != nil {
		return nil, &runbook.PlanError{RunbookPath: path, Cause: err}
	}
	return PlanRunbook(rb, reg)
}

// PlanRunbook runs the flatten -> DAG -> resolve pipeline for an
// already-parsed runbook.
func PlanRunbook(rb *runbook.Runbook, reg Registry) (*ExecutionPlan, error) {
	path := rb.SourcePath

	flat, err := flatten.Flatten(rb)
	if err != nil {
		return nil, &runbook.PlanError{RunbookPath: path, Cause: err}
	}

	graph, err := dag.Build(flat.Runbook.Artifacts)
	if err != nil {
		return nil, &runbook.PlanError{RunbookPath: path, Cause: err}
	}
	if err := graph.Validate(); err != nil {
		return nil, &runbook.PlanError{RunbookPath: path, Cause: err}
	}

	order, err := topologicalOrder(graph)
	if err != nil {
		return nil, &runbook.PlanError{RunbookPath: path, Cause: err}
	}

	schemas := make(map[string]runbook.Schema, len(flat.Runbook.Artifacts))
	inputSchemas := make(map[string][]runbook.Schema, len(flat.Runbook.Artifacts))

	for _, id := range order {
		def := flat.Runbook.Artifacts[id]
		schema, resolvedInputs, err := resolveArtifact(id, def, reg, schemas)
		if err != nil {
			return nil, &runbook.PlanError{RunbookPath: path, ArtifactID: id, Cause: err}
		}
		schemas[id] = schema
		if resolvedInputs != nil {
			inputSchemas[id] = resolvedInputs
		}
	}

	reversed := make(map[string]string, len(flat.Aliases))
	for alias, real := range flat.Aliases {
		reversed[real] = alias
	}

	return &ExecutionPlan{
		Runbook:         flat.Runbook,
		Graph:           graph,
		ArtifactSchemas: schemas,
		ArtifactDefs:    flat.Runbook.Artifacts,
		Aliases:         flat.Aliases,
		ReversedAliases: reversed,
		InputSchemas:    inputSchemas,
	}, nil
}

// resolveArtifact resolves one artifact's output schema (and, for derived
// artifacts, its matched input schema combination), validating factory
// existence, input-requirement matching, reader availability, and any
// output_schema override.
func resolveArtifact(
	id string,
	def *runbook.ArtifactDefinition,
	reg Registry,
	resolvedSchemas map[string]runbook.Schema,
) (runbook.Schema, []runbook.Schema, error) {
	switch def.Kind() {
	case runbook.KindSource:
		factory, err := reg.GetSourceFactory(def.Source.Type)
		if err != nil {
			return runbook.Schema{}, nil, err
		}
		schema, err := resolveOutputSchema(def, factory.GetSupportedOutputSchemas())
		return schema, nil, err

	case runbook.KindDerived:
		factory, err := reg.GetProcessorFactory(def.Process.Type)
		if err != nil {
			return runbook.Schema{}, nil, err
		}
		// Input requirements and supported output schemas are declared on the
		// Processor instance, not the factory, so planning instantiates one
		// purely for introspection; the executor creates its own instance
		// again at production time.
		proc, err := factory.Create(def.Process.Properties)
		if err != nil {
			return runbook.Schema{}, nil, &runbook.ComponentError{ArtifactID: id, Cause: err}
		}

		provided := make([]runbook.Schema, 0, len(def.Inputs))
		for _, inputID := range def.Inputs {
			provided = append(provided, resolvedSchemas[inputID])
		}

		combo, err := matchInputRequirements(id, provided, proc.GetInputRequirements())
		if err != nil {
			return runbook.Schema{}, nil, err
		}

		for _, req := range combo {
			schema := req.Schema()
			if _, ok := reg.ResolveReader(def.Process.Type, schema); !ok {
				return runbook.Schema{}, nil, &runbook.ReaderNotFoundError{ProcessorType: def.Process.Type, Schema: schema}
			}
		}

		outputSchema, err := resolveOutputSchema(def, proc.GetSupportedOutputSchemas())
		if err != nil {
			return runbook.Schema{}, nil, err
		}

		inputSchemas := make([]runbook.Schema, len(def.Inputs))
		for i, inputID := range def.Inputs {
			inputSchemas[i] = resolvedSchemas[inputID]
		}
		return outputSchema, inputSchemas, nil

	default:
		// child artifacts never survive flattening
		return runbook.Schema{}, nil, nil
	}
}

// resolveOutputSchema applies an `output_schema` override if present,
// confirming it is one of the factory's supported schemas; otherwise
// returns the factory's default (first declared) output schema.
func resolveOutputSchema(def *runbook.ArtifactDefinition, supported []runbook.Schema) (runbook.Schema, error) {
	if def.OutputSchema == "" {
		if len(supported) == 0 {
			return runbook.Schema{}, &runbook.SchemaOverrideError{Requested: "", Supported: supported}
		}
		return supported[0], nil
	}
	for _, s := range supported {
		if s.String() == def.OutputSchema {
			return s, nil
		}
	}
	return runbook.Schema{}, &runbook.SchemaOverrideError{Requested: def.OutputSchema, Supported: supported}
}

// matchInputRequirements finds the first declared combination whose schema
// set exactly matches provided's unique schema set.
func matchInputRequirements(
	artifactID string,
	provided []runbook.Schema,
	alternatives [][]runbook.InputRequirement,
) ([]runbook.InputRequirement, error) {
	providedSchemas := uniqueSchemas(provided)
	for _, combo := range alternatives {
		comboSchemas := make([]runbook.Schema, len(combo))
		for i, req := range combo {
			comboSchemas[i] = req.Schema()
		}
		if runbook.SchemaSetsEqual(providedSchemas, comboSchemas) {
			return combo, nil
		}
	}
	return nil, &runbook.InputMatchError{ArtifactID: artifactID, Provided: providedSchemas, Alternatives: alternatives}
}

func uniqueSchemas(schemas []runbook.Schema) []runbook.Schema {
	seen := make(map[runbook.Schema]struct{}, len(schemas))
	unique := make([]runbook.Schema, 0, len(schemas))
	for _, s := range schemas {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		unique = append(unique, s)
	}
	return unique
}

// topologicalOrder returns artifact ids in an order where every dependency
// precedes its dependents, using the graph's own sorter.
func topologicalOrder(g *dag.Graph) ([]string, error) {
	s := dag.NewSorter(g)
	order := make([]string, 0, len(g.Artifacts))
	for s.IsActive() {
		ready := s.GetReady()
		sort.Strings(ready)
		for _, id := range ready {
			order = append(order, id)
			s.Done(id)
		}
	}
	return order, nil
}

// Registry is the subset of registry.Registry the planner depends on.
type Registry interface {
	GetSourceFactory(sourceType string) (component.SourceFactory, error)
	GetProcessorFactory(processorType string) (component.ProcessorFactory, error)
	ResolveReader(processorType string, schema runbook.Schema) (component.Reader, bool)
}
