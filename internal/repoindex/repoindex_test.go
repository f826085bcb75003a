package repoindex

import (
	"path/filepath"
	"testing"

	"waypoint/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	index := Index{
		"repo":       filepath.Join("/home", "dev", "repo"),
		"repository": filepath.Join("/home", "dev", "repository"),
		"nested":     filepath.Join("/home", "dev", "repo", "vendor", "nested"),
	}

	t.Run("SimpleMatch", func(t *testing.T) {
		repo, rel, err := index.Resolve(filepath.Join("/home", "dev", "repository", "a", "b.go"))
		require.NoError(t, err)
		assert.Equal(t, "repository", repo)
		assert.Equal(t, "a/b.go", rel)
	})

	t.Run("PrefixOfAnotherRootDoesNotMatch", func(t *testing.T) {
		// "repo" must not swallow paths under "repository".
		repo, _, err := index.Resolve(filepath.Join("/home", "dev", "repository", "x.go"))
		require.NoError(t, err)
		assert.Equal(t, "repository", repo)
	})

	t.Run("LongestRootWins", func(t *testing.T) {
		repo, rel, err := index.Resolve(filepath.Join("/home", "dev", "repo", "vendor", "nested", "x.go"))
		require.NoError(t, err)
		assert.Equal(t, "nested", repo)
		assert.Equal(t, "x.go", rel)
	})

	t.Run("UncoveredPathFails", func(t *testing.T) {
		_, _, err := index.Resolve(filepath.Join("/tmp", "elsewhere", "x.go"))
		require.Error(t, err)
		assert.Equal(t, errors.KindExternalState, errors.KindOf(err))
	})
}

func TestRootOf(t *testing.T) {
	index := Index{"repo": filepath.Join("/home", "dev", "repo")}

	root, err := index.RootOf("repo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home", "dev", "repo"), root)

	_, err = index.RootOf("missing")
	require.Error(t, err)
	assert.Equal(t, errors.KindExternalState, errors.KindOf(err))
}
