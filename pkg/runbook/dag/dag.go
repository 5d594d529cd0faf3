// Package dag builds a dependency graph over a flattened runbook's artifacts
// and provides the topological scheduling primitive the executor drains.
package dag

import (
	"sort"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
)

// Graph is the dependency graph of a flattened runbook: nodes are artifact
// ids, edges point from a dependency to its dependent.
type Graph struct {
	Artifacts map[string]*runbook.ArtifactDefinition
	edges     map[string][]string // id -> ids that depend on it
	indegree  map[string]int
}

// Build constructs a Graph from a flattened runbook's artifact set,
// validating that every input reference names a known artifact.
func Build(artifacts map[string]*runbook.ArtifactDefinition) (*Graph, error) {
	g := &Graph{
		Artifacts: artifacts,
		edges:     make(map[string][]string, len(artifacts)),
		indegree:  make(map[string]int, len(artifacts)),
	}
	for id := range artifacts {
		g.indegree[id] = 0
	}
	for id, def := range artifacts {
		for _, ref := range def.Inputs {
			if _, ok := artifacts[ref]; !ok {
				return nil, &runbook.ReferenceError{ArtifactID: id, Reference: ref}
			}
			g.edges[ref] = append(g.edges[ref], id)
			g.indegree[id]++
		}
	}
	return g, nil
}

// Validate reports a runbook.CycleError if the graph is not a DAG.
func (g *Graph) Validate() error {
	indegree := make(map[string]int, len(g.indegree))
	for id, d := range g.indegree {
		indegree[id] = d
	}

	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		next := append([]string{}, g.edges[id]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(g.Artifacts) {
		return &runbook.CycleError{Nodes: g.remainingNodes(indegree)}
	}
	return nil
}

func (g *Graph) remainingNodes(indegree map[string]int) []string {
	var nodes []string
	for id, d := range indegree {
		if d > 0 {
			nodes = append(nodes, id)
		}
	}
	sort.Strings(nodes)
	return nodes
}

// Dependents returns the artifact ids that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.edges[id]
}

// Sorter drives a Kahn's-algorithm ready-set iteration over the graph: call
// GetReady to claim all currently-runnable nodes, Done to report a node's
// completion (unblocking its dependents), and IsActive to know when to stop.
type Sorter struct {
	graph     *Graph
	indegree  map[string]int
	remaining int
	claimed   map[string]bool
}

// NewSorter creates a Sorter for g. g must already be validated acyclic.
func NewSorter(g *Graph) *Sorter {
	indegree := make(map[string]int, len(g.indegree))
	for id, d := range g.indegree {
		indegree[id] = d
	}
	return &Sorter{
		graph:     g,
		indegree:  indegree,
		remaining: len(g.Artifacts),
		claimed:   make(map[string]bool, len(g.Artifacts)),
	}
}

// GetReady returns every artifact id whose dependencies have all completed
// and which has not yet been claimed by a prior call.
func (s *Sorter) GetReady() []string {
	var ready []string
	for id, d := range s.indegree {
		if d == 0 && !s.claimed[id] {
			ready = append(ready, id)
			s.claimed[id] = true
		}
	}
	sort.Strings(ready)
	return ready
}

// Done reports that id has finished (successfully or not), decrementing the
// indegree of its dependents and making them eligible for a future GetReady.
func (s *Sorter) Done(id string) {
	s.remaining--
	for _, dep := range s.graph.edges[id] {
		s.indegree[dep]--
	}
}

// IsActive reports whether any artifact remains unfinished.
func (s *Sorter) IsActive() bool {
	return s.remaining > 0
}
