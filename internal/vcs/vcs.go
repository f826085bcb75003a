// internal/vcs/vcs.go
package vcs

import (
	"context"

	"waypoint/internal/delta"
	"waypoint/internal/errors"

	"go.uber.org/zap"
)

// Kind names the backend that produced a Version. Versions are only
// comparable within the same kind.
type Kind string

const (
	KindGit Kind = "git"
)

// Version is an opaque, backend-tagged revision identifier.
type Version struct {
	Kind Kind   `json:"kind" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

func (v Version) Equal(other Version) bool {
	return v.Kind == other.Kind && v.ID == other.ID
}

func (v Version) String() string {
	return string(v.Kind) + ":" + v.ID
}

// Provider is the version-control capability the tour store needs. It never
// mutates the repository it is pointed at.
type Provider interface {
	// CurrentVersion reports the checked-out revision of the repository.
	CurrentVersion(ctx context.Context, repoRoot string) (Version, error)

	// TreeChanges diffs version against the current committed state (dirty
	// false) or the working copy (dirty true), for the whole tree.
	TreeChanges(ctx context.Context, v Version, repoRoot string, dirty bool) (*TreeChanges, error)

	// ChangesForFile diffs one file between version and the current
	// committed state. A nil result means the file is unchanged or absent
	// from the diff.
	ChangesForFile(ctx context.Context, v Version, relPath, repoRoot string) (*delta.FileChanges, error)

	// DirtyChangesForFile is ChangesForFile against the working copy,
	// uncommitted edits included.
	DirtyChangesForFile(ctx context.Context, v Version, relPath, repoRoot string) (*delta.FileChanges, error)
}

// ForKind selects the Provider implementation for a backend kind. The set of
// backends is closed; an unknown kind is an external-state failure so that a
// tour file written by a newer build degrades into a reportable error.
func ForKind(kind Kind, logger *zap.Logger) (Provider, error) {
	switch kind {
	case KindGit:
		return NewGitProvider(logger), nil
	default:
		return nil, errors.ExternalState("unknown version backend %q", kind)
	}
}

// TreeChanges holds the per-file changes of one whole-tree diff, addressable
// by the file's path on the source side.
type TreeChanges struct {
	bySource map[string]*delta.FileChanges
}

func NewTreeChanges() *TreeChanges {
	return &TreeChanges{bySource: make(map[string]*delta.FileChanges)}
}

func (tc *TreeChanges) Put(sourcePath string, fc *delta.FileChanges) {
	tc.bySource[sourcePath] = fc
}

// ForFile returns the changes recorded for a source-side path, or nil when
// the file does not appear in the diff.
func (tc *TreeChanges) ForFile(relPath string) *delta.FileChanges {
	if tc == nil {
		return nil
	}
	return tc.bySource[relPath]
}

// ForTarget finds the change record whose target-side name matches relPath,
// returning the source-side path it was diffed from. Used when a location is
// captured against a working copy that renamed the file since the tracked
// version.
func (tc *TreeChanges) ForTarget(relPath string) (string, *delta.FileChanges) {
	if tc == nil {
		return "", nil
	}
	for source, fc := range tc.bySource {
		if fc.Name == relPath {
			return source, fc
		}
	}
	return "", nil
}

func (tc *TreeChanges) Len() int {
	if tc == nil {
		return 0
	}
	return len(tc.bySource)
}
