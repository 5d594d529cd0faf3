package runbook

import "strings"

// NamespaceSep separates the path segments the flattener injects when it
// inlines a child runbook's artifacts: "<child_name><sep><uuid><sep><id>".
const NamespaceSep = "__"

// Namespace builds the namespaced id for a child artifact being inlined.
func Namespace(childName, uuid, artifactID string) string {
	return childName + NamespaceSep + uuid + NamespaceSep + artifactID
}

// DeriveOrigin reconstructs a human-readable provenance path from a
// (possibly nested) namespaced artifact id, dropping the uuid segments.
// "fraud_check__3fae...__raw" -> "fraud_check/raw".
func DeriveOrigin(id string) string {
	parts := strings.Split(id, NamespaceSep)
	if len(parts) == 1 {
		return id
	}
	segments := make([]string, 0, len(parts)/2+1)
	for i := 0; i < len(parts); i += 2 {
		segments = append(segments, parts[i])
	}
	return strings.Join(segments, "/")
}
