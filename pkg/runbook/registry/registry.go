// Package registry is the component registry: the process-wide catalogue of
// source and processor factories a runbook's artifacts are bound against,
// plus the readers processors use to decode upstream message content.
package registry

import (
	"sort"
	"sync"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/component"
)

type readerKey struct {
	processorType string
	schema        runbook.Schema
}

// Registry holds the factories and readers available to a planner/executor.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	sources    map[string]component.SourceFactory
	processors map[string]component.ProcessorFactory
	readers    map[readerKey]component.Reader
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		sources:    make(map[string]component.SourceFactory),
		processors: make(map[string]component.ProcessorFactory),
		readers:    make(map[readerKey]component.Reader),
	}
}

// RegisterSource associates a source type name with its factory.
func (r *Registry) RegisterSource(sourceType string, factory component.SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[sourceType] = factory
}

// RegisterProcessor associates a processor type name with its factory.
func (r *Registry) RegisterProcessor(processorType string, factory component.ProcessorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[processorType] = factory
}

// RegisterReader associates a (processor type, schema) pair with a reader.
func (r *Registry) RegisterReader(processorType string, schema runbook.Schema, reader component.Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[readerKey{processorType, schema}] = reader
}

// GetSourceFactory looks up a source factory by type.
func (r *Registry) GetSourceFactory(sourceType string) (component.SourceFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.sources[sourceType]
	if !ok {
		return nil, &runbook.ComponentNotFoundError{Kind: "source", Type: sourceType}
	}
	return f, nil
}

// GetProcessorFactory looks up a processor factory by type.
func (r *Registry) GetProcessorFactory(processorType string) (component.ProcessorFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.processors[processorType]
	if !ok {
		return nil, &runbook.ComponentNotFoundError{Kind: "processor", Type: processorType}
	}
	return f, nil
}

// ResolveReader implements component.ReaderResolver.
func (r *Registry) ResolveReader(processorType string, schema runbook.Schema) (component.Reader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reader, ok := r.readers[readerKey{processorType, schema}]
	return reader, ok
}

// ListSourceTypes returns every registered source type, sorted.
func (r *Registry) ListSourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sources)
}

// ListProcessorTypes returns every registered processor type, sorted.
func (r *Registry) ListProcessorTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.processors)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ component.ReaderResolver = (*Registry)(nil)
