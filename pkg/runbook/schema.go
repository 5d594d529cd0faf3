// Package runbook provides the typed data model for compliance runbooks:
// schemas, messages, artifact definitions, and the runbook document itself.
package runbook

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// versionPattern enforces strict major.minor.patch versions: no
// pre-release or build metadata is accepted.
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Schema identifies a data contract by name and strict semantic version.
// Equality is by tuple; there is no backward-compatible widening.
type Schema struct {
	Name    string
	Version string
}

// String renders the schema as "name@version", used in error messages and origin tags.
func (s Schema) String() string {
	return fmt.Sprintf("%s@%s", s.Name, s.Version)
}

// Equal reports whether two schemas name the same contract and version.
func (s Schema) Equal(other Schema) bool {
	return s.Name == other.Name && s.Version == other.Version
}

// ValidateVersion rejects any version string that is not strict major.minor.patch.
func ValidateVersion(version string) error {
	if !versionPattern.MatchString(version) {
		return fmt.Errorf("invalid version %q: must match %s", version, versionPattern.String())
	}
	return nil
}

// Validate checks that the schema has a name and a strict semver version.
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name must not be empty")
	}
	return ValidateVersion(s.Version)
}

// Compare returns -1, 0, or 1 depending on whether s's version is less than,
// equal to, or greater than other's version. Versions must belong to the same
// schema name; callers that need cross-schema ordering should check Name first.
func (s Schema) Compare(other Schema) (int, error) {
	v1, err := semver.NewVersion(s.Version)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", s.Version, err)
	}
	v2, err := semver.NewVersion(other.Version)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", other.Version, err)
	}
	return v1.Compare(v2), nil
}

// InputRequirement names a single schema a processor needs on one of its inputs.
type InputRequirement struct {
	SchemaName string
	Version    string
}

// Schema converts the requirement into a concrete Schema value for set comparison.
func (r InputRequirement) Schema() Schema {
	return Schema{Name: r.SchemaName, Version: r.Version}
}

// schemaSet builds a deduplicated set key from a slice of schemas, used by the
// planner to perform exact-set-equality matching against declared combinations.
func schemaSet(schemas []Schema) map[Schema]struct{} {
	set := make(map[Schema]struct{}, len(schemas))
	for _, s := range schemas {
		set[s] = struct{}{}
	}
	return set
}

// SchemaSetsEqual reports whether two schema slices contain exactly the same
// unique set of schemas, ignoring order and duplicate entries.
func SchemaSetsEqual(a, b []Schema) bool {
	sa, sb := schemaSet(a), schemaSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for s := range sa {
		if _, ok := sb[s]; !ok {
			return false
		}
	}
	return true
}
