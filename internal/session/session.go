// internal/session/session.go
package session

import (
	"context"
	"sync"

	"waypoint/internal/delta"
	"waypoint/internal/vcs"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize bounds how many distinct (version, root, dirty) tree
// diffs one operation can hold; a single resolve touches one per repository.
const defaultCacheSize = 64

type cacheKey struct {
	kind  vcs.Kind
	id    string
	root  string
	dirty bool
}

// Cache memoizes whole-tree diffs for the duration of one logical operation
// (a resolve or a refresh). Callers create one per call and drop it when the
// call returns; it is deliberately not shared between operations so two
// tours being worked on concurrently cannot see each other's results.
type Cache struct {
	provider vcs.Provider

	mu      sync.Mutex
	trees   *lru.Cache[cacheKey, *vcs.TreeChanges]
	pending map[cacheKey]*sync.WaitGroup
}

func New(provider vcs.Provider) *Cache {
	trees, err := lru.New[cacheKey, *vcs.TreeChanges](defaultCacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &Cache{
		provider: provider,
		trees:    trees,
		pending:  make(map[cacheKey]*sync.WaitGroup),
	}
}

// ChangesForFile returns the committed diff for one file, computing the
// underlying tree diff at most once per (version, root).
func (c *Cache) ChangesForFile(ctx context.Context, v vcs.Version, relPath, repoRoot string) (*delta.FileChanges, error) {
	tc, err := c.tree(ctx, v, repoRoot, false)
	if err != nil {
		return nil, err
	}
	return tc.ForFile(relPath), nil
}

// DirtyChangesForFile is ChangesForFile against the working copy.
func (c *Cache) DirtyChangesForFile(ctx context.Context, v vcs.Version, relPath, repoRoot string) (*delta.FileChanges, error) {
	tc, err := c.tree(ctx, v, repoRoot, true)
	if err != nil {
		return nil, err
	}
	return tc.ForFile(relPath), nil
}

// Tree returns the memoized whole-tree diff itself, for callers that need
// rename-aware lookups across it.
func (c *Cache) Tree(ctx context.Context, v vcs.Version, repoRoot string, dirty bool) (*vcs.TreeChanges, error) {
	return c.tree(ctx, v, repoRoot, dirty)
}

// tree fetches a memoized tree diff. Concurrent lookups of the same key wait
// for the first one to fill rather than issuing duplicate diff computations.
func (c *Cache) tree(ctx context.Context, v vcs.Version, repoRoot string, dirty bool) (*vcs.TreeChanges, error) {
	key := cacheKey{kind: v.Kind, id: v.ID, root: repoRoot, dirty: dirty}

	for {
		c.mu.Lock()
		if tc, ok := c.trees.Get(key); ok {
			c.mu.Unlock()
			return tc, nil
		}
		if wg, ok := c.pending[key]; ok {
			c.mu.Unlock()
			wg.Wait()
			continue
		}

		wg := &sync.WaitGroup{}
		wg.Add(1)
		c.pending[key] = wg
		c.mu.Unlock()

		tc, err := c.provider.TreeChanges(ctx, v, repoRoot, dirty)

		c.mu.Lock()
		if err == nil {
			c.trees.Add(key, tc)
		}
		delete(c.pending, key)
		c.mu.Unlock()
		wg.Done()

		return tc, err
	}
}
