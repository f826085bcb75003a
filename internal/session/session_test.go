package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"waypoint/internal/delta"
	"waypoint/internal/vcs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider counts tree diff computations so tests can assert the
// cache collapses duplicate lookups.
type countingProvider struct {
	calls atomic.Int64
}

func (p *countingProvider) CurrentVersion(context.Context, string) (vcs.Version, error) {
	return vcs.Version{Kind: vcs.KindGit, ID: "head"}, nil
}

func (p *countingProvider) TreeChanges(_ context.Context, v vcs.Version, repoRoot string, dirty bool) (*vcs.TreeChanges, error) {
	p.calls.Add(1)

	tc := vcs.NewTreeChanges()
	fc := delta.NewFileChanges("a.txt")
	fc.Additions[1] = true
	tc.Put("a.txt", fc)
	return tc, nil
}

func (p *countingProvider) ChangesForFile(ctx context.Context, v vcs.Version, relPath, repoRoot string) (*delta.FileChanges, error) {
	tc, err := p.TreeChanges(ctx, v, repoRoot, false)
	if err != nil {
		return nil, err
	}
	return tc.ForFile(relPath), nil
}

func (p *countingProvider) DirtyChangesForFile(ctx context.Context, v vcs.Version, relPath, repoRoot string) (*delta.FileChanges, error) {
	tc, err := p.TreeChanges(ctx, v, repoRoot, true)
	if err != nil {
		return nil, err
	}
	return tc.ForFile(relPath), nil
}

func TestCacheMemoizes(t *testing.T) {
	ctx := context.Background()
	provider := &countingProvider{}
	cache := New(provider)

	v := vcs.Version{Kind: vcs.KindGit, ID: "abc"}

	for i := 0; i < 5; i++ {
		fc, err := cache.ChangesForFile(ctx, v, "a.txt", "/repo")
		require.NoError(t, err)
		require.NotNil(t, fc)
	}
	assert.Equal(t, int64(1), provider.calls.Load(), "five lookups of the same key should diff once")

	// A different file under the same version reuses the tree diff.
	fc, err := cache.ChangesForFile(ctx, v, "other.txt", "/repo")
	require.NoError(t, err)
	assert.Nil(t, fc)
	assert.Equal(t, int64(1), provider.calls.Load())

	// The dirty flag is part of the key.
	_, err = cache.DirtyChangesForFile(ctx, v, "a.txt", "/repo")
	require.NoError(t, err)
	assert.Equal(t, int64(2), provider.calls.Load())

	// So is the version.
	_, err = cache.ChangesForFile(ctx, vcs.Version{Kind: vcs.KindGit, ID: "def"}, "a.txt", "/repo")
	require.NoError(t, err)
	assert.Equal(t, int64(3), provider.calls.Load())
}

func TestCacheConcurrentFanOut(t *testing.T) {
	ctx := context.Background()
	provider := &countingProvider{}
	cache := New(provider)

	v := vcs.Version{Kind: vcs.KindGit, ID: "abc"}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.DirtyChangesForFile(ctx, v, "a.txt", "/repo")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), provider.calls.Load(), "concurrent lookups of one key must not duplicate the diff")
}

func TestSeparateCachesDoNotShare(t *testing.T) {
	ctx := context.Background()
	provider := &countingProvider{}

	v := vcs.Version{Kind: vcs.KindGit, ID: "abc"}

	first := New(provider)
	_, err := first.ChangesForFile(ctx, v, "a.txt", "/repo")
	require.NoError(t, err)

	second := New(provider)
	_, err = second.ChangesForFile(ctx, v, "a.txt", "/repo")
	require.NoError(t, err)

	assert.Equal(t, int64(2), provider.calls.Load(), "each session recomputes; nothing is process-wide")
}
