// internal/repoindex/repoindex.go
package repoindex

import (
	"path/filepath"
	"strings"

	"waypoint/internal/errors"
)

// Index maps repository names to absolute filesystem roots. It is supplied
// by configuration and never persisted inside a tour file.
type Index map[string]string

// RootOf returns the absolute root registered for a repository name.
func (ix Index) RootOf(name string) (string, error) {
	root, ok := ix[name]
	if !ok {
		return "", errors.ExternalState("repository %q is not mapped to a path", name).WithRepository(name)
	}
	return filepath.Clean(root), nil
}

// Resolve translates an absolute path into a (repository, relative path)
// pair. When several roots contain the path the longest one wins, so nested
// checkouts resolve to the innermost repository.
func (ix Index) Resolve(absPath string) (string, string, error) {
	cleaned := filepath.Clean(absPath)

	bestName := ""
	bestRoot := ""
	for name, root := range ix {
		root = filepath.Clean(root)
		if !containsPath(root, cleaned) {
			continue
		}
		if len(root) > len(bestRoot) {
			bestName = name
			bestRoot = root
		}
	}

	if bestName == "" {
		return "", "", errors.ExternalState("path %q is not under any configured repository", absPath).WithPath(absPath)
	}

	rel, err := filepath.Rel(bestRoot, cleaned)
	if err != nil {
		return "", "", errors.ExternalState("relativizing %q against %q", absPath, bestRoot).WithCause(err)
	}
	return bestName, filepath.ToSlash(rel), nil
}

// containsPath reports whether path lives under root. The trailing separator
// keeps "repo" from matching "repository".
func containsPath(root, path string) bool {
	if root == path {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
