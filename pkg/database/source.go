package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/component"
)

// QuerySourceFactory is a component.SourceFactory that produces one artifact
// message per Extract call by running a SQL query against a region selected
// from a MultiRegionRouter and marshaling the result rows as JSON content.
type QuerySourceFactory struct {
	Router *MultiRegionRouter
	Schema runbook.Schema
}

// NewQuerySourceFactory builds a factory producing messages tagged with schema.
func NewQuerySourceFactory(router *MultiRegionRouter, schema runbook.Schema) *QuerySourceFactory {
	return &QuerySourceFactory{Router: router, Schema: schema}
}

// Create builds a Source bound to the "query" (required) and "region"
// (optional, defaults to primary) properties.
func (f *QuerySourceFactory) Create(properties map[string]any) (component.Source, error) {
	query, _ := properties["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("database source requires a non-empty %q property", "query")
	}

	region := RegionPrimary
	if r, ok := properties["region"].(string); ok && r != "" {
		region = Region(r)
	}

	return &querySource{factory: f, query: query, region: region}, nil
}

// GetSupportedOutputSchemas returns the single schema this factory produces.
func (f *QuerySourceFactory) GetSupportedOutputSchemas() []runbook.Schema {
	return []runbook.Schema{f.Schema}
}

type querySource struct {
	factory *QuerySourceFactory
	query   string
	region  Region
}

// Extract runs the configured query and marshals the result set as a JSON
// array of column-name-keyed rows.
func (s *querySource) Extract(ctx context.Context) (*runbook.Message, error) {
	db, err := s.factory.Router.Connection(s.region)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query artifact rows: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = values[i]
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	content, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal query result: %w", err)
	}

	return &runbook.Message{
		ID:      fmt.Sprintf("db:%s:%s", s.region, s.factory.Schema.Name),
		Content: json.RawMessage(content),
		Schema:  s.factory.Schema,
	}, nil
}
