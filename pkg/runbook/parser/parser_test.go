package parser_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook/parser"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "runbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseLinearPipeline(t *testing.T) {
	path := writeTemp(t, `
name: fraud-check
description: checks for fraud signals
config:
  timeout: 30
  cost_limit: 5.0
  max_concurrency: 4
artifacts:
  raw_events:
    output: false
    source:
      type: s3
      properties:
        bucket: events
  findings:
    output: true
    inputs: raw_events
    process:
      type: fraud-detector
      properties:
        threshold: 0.9
`)

	rb, err := parser.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "fraud-check", rb.Name)
	assert.Equal(t, 4, rb.Config.MaxConcurrency)
	require.NotNil(t, rb.Config.Timeout)
	assert.Equal(t, 30, int(rb.Config.Timeout.Seconds()))
	require.NotNil(t, rb.Config.CostLimit)
	assert.Equal(t, 5.0, *rb.Config.CostLimit)

	raw, ok := rb.Artifacts["raw_events"]
	require.True(t, ok)
	assert.Equal(t, runbook.KindSource, raw.Kind())

	findings, ok := rb.Artifacts["findings"]
	require.True(t, ok)
	assert.Equal(t, runbook.KindDerived, findings.Kind())
	assert.Equal(t, []string{"raw_events"}, findings.Inputs)
}

func TestParseInputsAsList(t *testing.T) {
	path := writeTemp(t, `
name: multi-input
description: merges two sources
artifacts:
  a:
    source: {type: http}
  b:
    source: {type: http}
  merged:
    inputs: [a, b]
    merge: concat
    process:
      type: merger
`)
	rb, err := parser.Parse(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, rb.Artifacts["merged"].Inputs)
	assert.Equal(t, "concat", rb.Artifacts["merged"].Merge)
}

func TestParseMissingRequiredFields(t *testing.T) {
	path := writeTemp(t, `
description: no name
artifacts: {}
`)
	_, err := parser.Parse(path)
	require.Error(t, err)
	var perr *runbook.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseUnknownTopLevelField(t *testing.T) {
	path := writeTemp(t, `
name: x
description: y
bogus: true
artifacts: {}
`)
	_, err := parser.Parse(path)
	require.Error(t, err)
}

func TestParseArtifactVariantMutualExclusion(t *testing.T) {
	path := writeTemp(t, `
name: bad
description: conflicting artifact def
artifacts:
  a:
    source: {type: http}
    inputs: b
    process: {type: x}
`)
	_, err := parser.Parse(path)
	require.Error(t, err)
}

func TestParseChildRunbookOutputExclusion(t *testing.T) {
	path := writeTemp(t, `
name: parent
description: uses a child
artifacts:
  child_result:
    child_runbook:
      path: ./child.yaml
      output: single_out
      output_mapping:
        a: b
`)
	_, err := parser.Parse(path)
	require.Error(t, err)
}

func TestParseInvalidInterfaceVersion(t *testing.T) {
	path := writeTemp(t, `
name: child
description: declares an interface
inputs:
  data:
    schema_name: std
    version: "1.0"
outputs:
  result:
    schema_name: std
    version: "1.0.0"
artifacts:
  a:
    source: {type: http}
`)
	_, err := parser.Parse(path)
	require.Error(t, err)
}
