// Package pathresolver locates a child runbook file relative to its parent
// and a runbook's configured template search paths.
package pathresolver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/helm-runbook/pkg/runbook"
)

// Resolve locates childPath, which must be a relative path free of ".."
// traversal components. It is searched for first alongside parentPath (the
// absolute path of the runbook that references it), then within each entry
// of templatePaths in declaration order. The first existing candidate wins.
func Resolve(childPath, parentPath string, templatePaths []string) (string, error) {
	if filepath.IsAbs(childPath) {
		return "", &runbook.PathResolutionError{
			ChildPath: childPath,
			Reason:    "absolute paths are not allowed",
		}
	}
	if containsTraversal(childPath) {
		return "", &runbook.PathResolutionError{
			ChildPath: childPath,
			Reason:    "\"..\" path components are not allowed",
		}
	}

	var tried []string

	parentDir := filepath.Dir(parentPath)
	candidate := filepath.Join(parentDir, childPath)
	tried = append(tried, candidate)
	if exists(candidate) {
		return candidate, nil
	}

	for _, base := range templatePaths {
		candidate = filepath.Join(base, childPath)
		tried = append(tried, candidate)
		if exists(candidate) {
			return candidate, nil
		}
	}

	return "", &runbook.PathResolutionError{
		ChildPath: childPath,
		Tried:     tried,
	}
}

func containsTraversal(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
