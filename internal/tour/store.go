// internal/tour/store.go
package tour

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"waypoint/internal/delta"
	"waypoint/internal/errors"
	"waypoint/internal/repoindex"
	"waypoint/internal/session"
	"waypoint/internal/vcs"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultFanout bounds how many per-stop diff lookups Resolve and Check run
// concurrently against the backend.
const defaultFanout = 8

// Providers selects a version backend for a kind. Swapped out in tests.
type Providers func(kind vcs.Kind) (vcs.Provider, error)

// Store owns tour aggregates: it validates the invariants, performs the
// structural edits, and drives the version backend plus the line-delta
// engine for add, move, refresh, resolve and check.
//
// The store does not lock the tour; callers serialize structural edits on a
// given tour themselves.
type Store struct {
	index     repoindex.Index
	logger    *zap.Logger
	providers Providers
	fanout    int
}

func NewStore(index repoindex.Index, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		index:  index,
		logger: logger,
		providers: func(kind vcs.Kind) (vcs.Provider, error) {
			return vcs.ForKind(kind, logger)
		},
		fanout: defaultFanout,
	}
}

// NewStoreWithProviders is NewStore with the backend selector replaced,
// used by tests to substitute a fake backend.
func NewStoreWithProviders(index repoindex.Index, logger *zap.Logger, providers Providers) *Store {
	s := NewStore(index, logger)
	s.providers = providers
	return s
}

// Init creates an empty tour.
func (s *Store) Init(title string) (*Tour, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.InputValidation("tour title must not be empty")
	}
	return &Tour{
		ID:           uuid.New().String(),
		Title:        title,
		Version:      SchemaVersion,
		Repositories: []Binding{},
		Stops:        []*Stop{},
	}, nil
}

// AddRequest captures a new stop against the live working copy.
type AddRequest struct {
	AbsolutePath string
	Line         int
	Title        string
	Body         string
}

// capturedLocation is the outcome of the validation/translation pipeline
// shared by Add and Move: a repository-relative location abstracted back
// onto the repository's committed version.
type capturedLocation struct {
	repository   string
	relativePath string
	line         int
	version      vcs.Version
	needsBinding bool
}

// Add validates the location, translates it onto the repository's committed
// version and inserts a new stop at index (clamped; pass a negative index to
// append). Nothing is mutated unless every step succeeds.
func (s *Store) Add(ctx context.Context, t *Tour, req AddRequest, index int) (string, error) {
	if strings.TrimSpace(req.Title) == "" {
		return "", errors.InputValidation("stop title must not be empty")
	}

	loc, err := s.capture(ctx, t, req.AbsolutePath, req.Line)
	if err != nil {
		return "", err
	}

	if index < 0 || index > len(t.Stops) {
		index = len(t.Stops)
	}

	t.Generator++
	id := strconv.Itoa(t.Generator)

	if loc.needsBinding {
		t.Repositories = append(t.Repositories, Binding{
			Repository: loc.repository,
			Version:    loc.version,
		})
	}

	stop := &Stop{
		ID:           id,
		Title:        req.Title,
		Body:         req.Body,
		Repository:   loc.repository,
		RelativePath: loc.relativePath,
		Line:         loc.line,
	}
	t.Stops = append(t.Stops, nil)
	copy(t.Stops[index+1:], t.Stops[index:])
	t.Stops[index] = stop

	s.logger.Debug("added stop",
		zap.String("tour", t.ID),
		zap.String("stop", id),
		zap.String("repository", loc.repository),
		zap.String("path", loc.relativePath),
		zap.Int("line", loc.line))
	return id, nil
}

// capture runs the shared add/move pipeline without touching the tour.
func (s *Store) capture(ctx context.Context, t *Tour, absPath string, line int) (capturedLocation, error) {
	var loc capturedLocation

	if line <= 0 {
		return loc, errors.OperationInput("line number must be positive, got %d", line).WithLine(line)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return loc, errors.InputValidation("reading target file %q", absPath).WithPath(absPath).WithCause(err)
	}
	if line > countLines(content) {
		return loc, errors.InputValidation("file %q has no line %d", absPath, line).WithPath(absPath).WithLine(line)
	}

	repository, relPath, err := s.index.Resolve(absPath)
	if err != nil {
		return loc, err
	}

	root, err := s.index.RootOf(repository)
	if err != nil {
		return loc, err
	}

	kind := vcs.KindGit
	if binding, ok := t.bindingFor(repository); ok {
		kind = binding.Version.Kind
	}
	provider, err := s.providers(kind)
	if err != nil {
		return loc, err
	}

	current, err := provider.CurrentVersion(ctx, root)
	if err != nil {
		return loc, err
	}

	binding, bound := t.bindingFor(repository)
	if bound && !binding.Version.Equal(current) {
		return loc, errors.ExternalState(
			"repository %q is checked out at %s but the tour tracks %s; refresh the tour first",
			repository, current.ID, binding.Version.ID,
		).WithRepository(repository)
	}

	// Abstract the captured line back onto the committed version so dirty
	// working-copy edits do not skew what gets persisted.
	sess := session.New(provider)
	tree, err := sess.Tree(ctx, current, root, true)
	if err != nil {
		return loc, err
	}

	storedPath := relPath
	changes := tree.ForFile(relPath)
	if changes == nil {
		// The working copy may have renamed the file since the tracked
		// version; the stored path must be the committed-side name.
		if source, fc := tree.ForTarget(relPath); fc != nil {
			storedPath = source
			changes = fc
		}
	}

	storedLine := line
	if changes != nil {
		mapped, ok, err := delta.UndoDelta(changes, line)
		if err != nil {
			return loc, err
		}
		if !ok {
			return loc, errors.InputValidation(
				"line %d of %q does not exist at version %s; commit it before adding a stop",
				line, relPath, current.ID,
			).WithRepository(repository).WithPath(relPath).WithLine(line)
		}
		storedLine = mapped
	}

	loc = capturedLocation{
		repository:   repository,
		relativePath: storedPath,
		line:         storedLine,
		version:      current,
		needsBinding: !bound,
	}
	return loc, nil
}

// Remove deletes a stop by id and prunes its repository's binding if no
// other stop references it.
func (s *Store) Remove(t *Tour, stopID string) error {
	index := t.stopIndex(stopID)
	if index < 0 {
		return errors.OperationInput("no stop with id %q", stopID)
	}
	return s.RemoveAt(t, index)
}

// RemoveAt is Remove by position.
func (s *Store) RemoveAt(t *Tour, index int) error {
	if index < 0 || index >= len(t.Stops) {
		return errors.OperationInput("stop index %d out of range [0, %d)", index, len(t.Stops))
	}

	repository := t.Stops[index].Repository
	t.Stops = append(t.Stops[:index], t.Stops[index+1:]...)
	t.pruneBinding(repository)
	return nil
}

// EditRequest updates a stop's prose; nil fields are left untouched.
type EditRequest struct {
	Title *string
	Body  *string
}

func (s *Store) Edit(t *Tour, stopID string, req EditRequest) error {
	index := t.stopIndex(stopID)
	if index < 0 {
		return errors.OperationInput("no stop with id %q", stopID)
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return errors.InputValidation("stop title must not be empty")
	}

	stop := t.Stops[index]
	if req.Title != nil {
		stop.Title = *req.Title
	}
	if req.Body != nil {
		stop.Body = *req.Body
	}
	return nil
}

// Move re-captures a stop at a new absolute location, running the same
// validation and translation as Add, then retires the old location. The stop
// keeps its id; crossing into another repository is allowed and the old
// repository's binding is pruned when it loses its last stop.
func (s *Store) Move(ctx context.Context, t *Tour, stopID string, absPath string, line int) error {
	index := t.stopIndex(stopID)
	if index < 0 {
		return errors.OperationInput("no stop with id %q", stopID)
	}

	loc, err := s.capture(ctx, t, absPath, line)
	if err != nil {
		return err
	}

	stop := t.Stops[index]
	previous := stop.Repository

	if loc.needsBinding {
		t.Repositories = append(t.Repositories, Binding{
			Repository: loc.repository,
			Version:    loc.version,
		})
	}
	stop.Repository = loc.repository
	stop.RelativePath = loc.relativePath
	stop.Line = loc.line

	if previous != loc.repository {
		t.pruneBinding(previous)
	}
	return nil
}

// Reorder replaces the stop list with the permutation described by indices.
// The whole operation fails before any mutation if indices is not a
// permutation of the current positions.
func (s *Store) Reorder(t *Tour, indices []int) error {
	if len(indices) != len(t.Stops) {
		return errors.OperationInput("reorder needs %d indices, got %d", len(t.Stops), len(indices))
	}

	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(t.Stops) {
			return errors.OperationInput("stop index %d out of range [0, %d)", i, len(t.Stops))
		}
		if seen[i] {
			return errors.OperationInput("stop index %d given twice", i)
		}
		seen[i] = true
	}

	reordered := make([]*Stop, len(indices))
	for pos, i := range indices {
		reordered[pos] = t.Stops[i]
	}
	t.Stops = reordered
	return nil
}

// Scramble is the historical name for Reorder.
func (s *Store) Scramble(t *Tour, indices []int) error {
	return s.Reorder(t, indices)
}

// Link appends a reference to a stop in another tour.
func (s *Store) Link(t *Tour, stopID string, ref StopLink) error {
	index := t.stopIndex(stopID)
	if index < 0 {
		return errors.OperationInput("no stop with id %q", stopID)
	}
	if ref.TourID == "" {
		return errors.InputValidation("child tour id must not be empty")
	}
	if ref.StopIndex < 0 {
		return errors.OperationInput("child stop index must not be negative, got %d", ref.StopIndex)
	}

	stop := t.Stops[index]
	stop.ChildStops = append(stop.ChildStops, ref)
	return nil
}

// Refresh advances one repository's binding to the currently checked-out
// version, remapping every stop in that repository through the committed
// diff. A stop whose line was deleted gets the unmapped sentinel instead of
// being removed. All remaps are computed before anything is applied.
func (s *Store) Refresh(ctx context.Context, t *Tour, repository string) error {
	binding, ok := t.bindingFor(repository)
	if !ok {
		if t.referencesRepository(repository) {
			return errors.InternalState("repository %q has stops but no binding", repository).WithRepository(repository)
		}
		return errors.OperationInput("repository %q is not part of this tour", repository)
	}

	root, err := s.index.RootOf(repository)
	if err != nil {
		return err
	}

	provider, err := s.providers(binding.Version.Kind)
	if err != nil {
		return err
	}

	current, err := provider.CurrentVersion(ctx, root)
	if err != nil {
		return err
	}
	if binding.Version.Equal(current) {
		return nil
	}

	type remap struct {
		stop *Stop
		path string
		line int
	}
	var remaps []remap

	sess := session.New(provider)
	for _, stop := range t.Stops {
		if stop.Repository != repository {
			continue
		}

		changes, err := sess.ChangesForFile(ctx, binding.Version, stop.RelativePath, root)
		if err != nil {
			return err
		}
		if changes == nil {
			continue
		}

		path := stop.RelativePath
		if changes.Name != "" {
			path = changes.Name
		}

		line := LineUnmapped
		if stop.Line != LineUnmapped {
			mapped, ok, err := delta.ComputeDelta(changes, stop.Line)
			if err != nil {
				return err
			}
			if ok {
				line = mapped
			}
		}
		remaps = append(remaps, remap{stop: stop, path: path, line: line})
	}

	for _, r := range remaps {
		r.stop.RelativePath = r.path
		r.stop.Line = r.line
	}
	binding.Version = current

	s.logger.Info("refreshed repository binding",
		zap.String("tour", t.ID),
		zap.String("repository", repository),
		zap.String("version", current.ID),
		zap.Int("remapped_stops", len(remaps)))
	return nil
}

// Resolve computes the current working-copy position of every stop, in stop
// order. Per-stop problems come back as Broken entries; only backend
// failures abort the whole call. The tour is not mutated.
func (s *Store) Resolve(ctx context.Context, t *Tour) ([]Resolved, error) {
	sessions := s.sessionsFor(t)
	results := make([]Resolved, len(t.Stops))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i, stop := range t.Stops {
		i, stop := i, stop
		g.Go(func() error {
			resolved, err := s.resolveStop(ctx, t, stop, sessions)
			if err != nil {
				return err
			}
			results[i] = resolved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// sessionsFor builds one diff session per backend kind the tour references.
// The sessions live only as long as the calling operation.
func (s *Store) sessionsFor(t *Tour) map[vcs.Kind]*session.Cache {
	sessions := make(map[vcs.Kind]*session.Cache)
	for _, binding := range t.Repositories {
		kind := binding.Version.Kind
		if _, ok := sessions[kind]; ok {
			continue
		}
		provider, err := s.providers(kind)
		if err != nil {
			// Unknown backend kind: stops bound to it resolve as broken.
			continue
		}
		sessions[kind] = session.New(provider)
	}
	return sessions
}

func (s *Store) resolveStop(ctx context.Context, t *Tour, stop *Stop, sessions map[vcs.Kind]*session.Cache) (Resolved, error) {
	broken := func(reasons ...BrokenReason) Broken {
		return Broken{
			ID:         stop.ID,
			Title:      stop.Title,
			Body:       stop.Body,
			ChildStops: stop.ChildStops,
			Reasons:    reasons,
		}
	}

	binding, ok := t.bindingFor(stop.Repository)
	if !ok {
		return broken(ReasonRepositoryNotBound), nil
	}
	root, err := s.index.RootOf(stop.Repository)
	if err != nil {
		return broken(ReasonRepositoryNotBound), nil
	}
	sess, ok := sessions[binding.Version.Kind]
	if !ok {
		return broken(ReasonRepositoryNotBound), nil
	}

	changes, err := sess.DirtyChangesForFile(ctx, binding.Version, stop.RelativePath, root)
	if err != nil {
		return nil, err
	}

	path := stop.RelativePath
	line := stop.Line
	var reasons []BrokenReason

	if line == LineUnmapped {
		reasons = append(reasons, ReasonLineNotFound)
	} else if changes != nil {
		if changes.Name != "" {
			path = changes.Name
		}
		mapped, ok, err := delta.ComputeDelta(changes, line)
		if err != nil {
			return nil, err
		}
		if ok {
			line = mapped
		} else {
			reasons = append(reasons, ReasonLineNotFound)
		}
	}

	absPath := filepath.Join(root, filepath.FromSlash(path))
	content, err := os.ReadFile(absPath)
	if err != nil {
		reasons = append(reasons, ReasonFileNotFound)
	} else if len(reasons) == 0 && line > countLines(content) {
		reasons = append(reasons, ReasonLineNotFound)
	}

	if len(reasons) > 0 {
		return broken(reasons...), nil
	}
	return Located{
		ID:           stop.ID,
		Title:        stop.Title,
		Body:         stop.Body,
		AbsolutePath: absPath,
		Line:         line,
		ChildStops:   stop.ChildStops,
	}, nil
}

// Check audits a tour against the live repositories and filesystem. It never
// fails; every problem comes back as one entry in the returned list.
func (s *Store) Check(ctx context.Context, t *Tour) []error {
	var problems []error

	for _, binding := range t.Repositories {
		if !t.referencesRepository(binding.Repository) {
			problems = append(problems, errors.InternalState(
				"binding for %q has no stops", binding.Repository,
			).WithRepository(binding.Repository))
		}

		root, err := s.index.RootOf(binding.Repository)
		if err != nil {
			problems = append(problems, err)
			continue
		}

		provider, err := s.providers(binding.Version.Kind)
		if err != nil {
			problems = append(problems, err)
			continue
		}

		current, err := provider.CurrentVersion(ctx, root)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if !binding.Version.Equal(current) {
			problems = append(problems, errors.ExternalState(
				"repository %q is checked out at %s but the tour tracks %s",
				binding.Repository, current.ID, binding.Version.ID,
			).WithRepository(binding.Repository))
		}
	}

	sessions := s.sessionsFor(t)
	for _, stop := range t.Stops {
		if _, ok := t.bindingFor(stop.Repository); !ok {
			problems = append(problems, errors.InternalState(
				"stop %q references repository %q with no binding", stop.ID, stop.Repository,
			).WithRepository(stop.Repository).WithPath(stop.RelativePath))
			continue
		}

		resolved, err := s.resolveStop(ctx, t, stop, sessions)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		if b, ok := resolved.(Broken); ok {
			for _, reason := range b.Reasons {
				problems = append(problems, errors.InputValidation(
					"stop %q: %s", stop.ID, reason,
				).WithRepository(stop.Repository).WithPath(stop.RelativePath).WithLine(stop.Line))
			}
		}
	}
	return problems
}

// countLines counts 1-indexed lines the same way the delta maps number them.
func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	return len(bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'}))
}
