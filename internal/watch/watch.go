// internal/watch/watch.go
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"waypoint/internal/tour"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow coalesces bursts of filesystem events (editors often write
// a file several times per save) into one re-resolution.
const debounceWindow = 250 * time.Millisecond

// Watcher re-resolves a tour whenever a file in one of its repositories
// changes, so an open tour tracks live working-copy edits.
type Watcher struct {
	store      *tour.Store
	tour       *tour.Tour
	watcher    *fsnotify.Watcher
	onResolve  func([]tour.Resolved)
	ignoreDirs map[string]bool
	logger     *zap.Logger
}

func New(store *tour.Store, t *tour.Tour, roots []string, onResolve func([]tour.Resolved), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		store:     store,
		tour:      t,
		watcher:   fsWatcher,
		onResolve: onResolve,
		ignoreDirs: map[string]bool{
			".git":         true,
			"node_modules": true,
			"vendor":       true,
			"dist":         true,
			"build":        true,
		},
		logger: logger,
	}

	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if w.ignoreDirs[part] {
			return true
		}
	}
	return false
}

// Run blocks, re-resolving on changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	// Initial resolution before any event arrives.
	if err := w.resolve(ctx); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				fire = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-fire:
			timer = nil
			fire = nil
			if err := w.resolve(ctx); err != nil {
				w.logger.Error("re-resolving tour", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) resolve(ctx context.Context) error {
	resolved, err := w.store.Resolve(ctx, w.tour)
	if err != nil {
		return err
	}
	if w.onResolve != nil {
		w.onResolve(resolved)
	}
	return nil
}
