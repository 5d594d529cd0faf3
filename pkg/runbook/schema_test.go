package runbook_test

import (
	"testing"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVersion(t *testing.T) {
	cases := []struct {
		version string
		wantErr bool
	}{
		{"1.0.0", false},
		{"0.0.1", false},
		{"12.34.56", false},
		{"1.0", true},
		{"1.0.0-rc1", true},
		{"v1.0.0", true},
		{"1.0.0.0", true},
		{"", true},
	}
	for _, c := range cases {
		err := runbook.ValidateVersion(c.version)
		if c.wantErr {
			assert.Error(t, err, c.version)
		} else {
			assert.NoError(t, err, c.version)
		}
	}
}

func TestSchemaEqual(t *testing.T) {
	a := runbook.Schema{Name: "std", Version: "1.0.0"}
	b := runbook.Schema{Name: "std", Version: "1.0.0"}
	c := runbook.Schema{Name: "std", Version: "2.0.0"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestSchemaCompare(t *testing.T) {
	older := runbook.Schema{Name: "std", Version: "1.0.0"}
	newer := runbook.Schema{Name: "std", Version: "1.2.0"}

	cmp, err := older.Compare(newer)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = newer.Compare(older)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	cmp, err = older.Compare(older)
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)
}

func TestSchemaSetsEqual(t *testing.T) {
	a := []runbook.Schema{{Name: "std", Version: "1.0.0"}, {Name: "pd", Version: "1.0.0"}}
	b := []runbook.Schema{{Name: "pd", Version: "1.0.0"}, {Name: "std", Version: "1.0.0"}, {Name: "std", Version: "1.0.0"}}
	c := []runbook.Schema{{Name: "std", Version: "1.0.0"}}

	assert.True(t, runbook.SchemaSetsEqual(a, b), "order and duplicates should not matter")
	assert.False(t, runbook.SchemaSetsEqual(a, c))
}

func TestDeriveOrigin(t *testing.T) {
	assert.Equal(t, "b", runbook.DeriveOrigin("b"))
	assert.Equal(t, "fraud_check/raw", runbook.DeriveOrigin(runbook.Namespace("fraud_check", "3fae-uuid", "raw")))

	nested := runbook.Namespace("outer", "uuid1", runbook.Namespace("inner", "uuid2", "artifact"))
	assert.Equal(t, "outer/inner/artifact", runbook.DeriveOrigin(nested))
}
