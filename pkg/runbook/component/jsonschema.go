package component

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
)

// SchemaValidator is a reference OutputValidator backed by JSON Schema
// (Draft 2020-12). A source
// or processor factory embeds one and registers a raw JSON schema document
// per Schema it can produce.
type SchemaValidator struct {
	mu       sync.RWMutex
	compiled map[runbook.Schema]*jsonschema.Schema
}

// NewSchemaValidator creates an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{compiled: make(map[runbook.Schema]*jsonschema.Schema)}
}

// Register compiles and associates a JSON schema document with a Schema.
func (v *SchemaValidator) Register(schema runbook.Schema, jsonSchemaDoc string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	url := fmt.Sprintf("https://runbook.local/schemas/%s/%s.schema.json", schema.Name, schema.Version)
	if err := c.AddResource(url, strings.NewReader(jsonSchemaDoc)); err != nil {
		return fmt.Errorf("load schema %s: %w", schema, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", schema, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.compiled[schema] = compiled
	return nil
}

// ValidateOutput implements OutputValidator.
func (v *SchemaValidator) ValidateOutput(schema runbook.Schema, content any) error {
	v.mu.RLock()
	compiled, ok := v.compiled[schema]
	v.mu.RUnlock()
	if !ok {
		// No schema registered for this contract: nothing to enforce.
		return nil
	}
	if err := compiled.Validate(content); err != nil {
		return fmt.Errorf("content does not conform to %s: %w", schema, err)
	}
	return nil
}
