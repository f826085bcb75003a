// internal/tour/types.go
package tour

import (
	"waypoint/internal/vcs"
)

// SchemaVersion tags the persisted form so older builds can reject tours
// written by newer ones instead of misreading them.
const SchemaVersion = 1

// LineUnmapped is the sentinel recorded when a refresh cannot carry a stop's
// line into the new version. The stop stays in the tour and resolves as
// broken rather than being dropped.
const LineUnmapped = 0

// StopLink references a stop inside another tour.
type StopLink struct {
	TourID    string `json:"tourId" validate:"required"`
	StopIndex int    `json:"stopIndex" validate:"min=0"`
}

// Stop is one annotated location. Line is 1-indexed and only meaningful
// relative to the version recorded in the tour's binding for Repository.
type Stop struct {
	ID           string     `json:"id" validate:"required"`
	Title        string     `json:"title" validate:"required"`
	Body         string     `json:"body"`
	Repository   string     `json:"repository" validate:"required"`
	RelativePath string     `json:"relativePath" validate:"required"`
	Line         int        `json:"line" validate:"min=0"`
	ChildStops   []StopLink `json:"childStops,omitempty" validate:"dive"`
}

// Binding pins the version all of a repository's stops are tracked against.
type Binding struct {
	Repository string      `json:"repository" validate:"required"`
	Version    vcs.Version `json:"version" validate:"required"`
}

// Tour is the aggregate: an ordered stop list plus one binding per
// referenced repository. Generator is the stop-id counter; ids are never
// reissued even after removals.
type Tour struct {
	ID           string    `json:"id" validate:"required"`
	Title        string    `json:"title" validate:"required"`
	Description  string    `json:"description"`
	Version      int       `json:"version" validate:"required,min=1"`
	Repositories []Binding `json:"repositories" validate:"dive"`
	Stops        []*Stop   `json:"stops" validate:"dive"`
	Generator    int       `json:"generator" validate:"min=0"`
}

func (t *Tour) bindingFor(repository string) (*Binding, bool) {
	for i := range t.Repositories {
		if t.Repositories[i].Repository == repository {
			return &t.Repositories[i], true
		}
	}
	return nil, false
}

func (t *Tour) stopIndex(stopID string) int {
	for i, stop := range t.Stops {
		if stop.ID == stopID {
			return i
		}
	}
	return -1
}

func (t *Tour) referencesRepository(repository string) bool {
	for _, stop := range t.Stops {
		if stop.Repository == repository {
			return true
		}
	}
	return false
}

// pruneBinding drops the binding for repository if no stop references it.
func (t *Tour) pruneBinding(repository string) {
	if t.referencesRepository(repository) {
		return
	}
	for i := range t.Repositories {
		if t.Repositories[i].Repository == repository {
			t.Repositories = append(t.Repositories[:i], t.Repositories[i+1:]...)
			return
		}
	}
}

// BrokenReason names why a stop could not be placed in the working copy.
type BrokenReason string

const (
	ReasonRepositoryNotBound BrokenReason = "repository-not-bound"
	ReasonFileNotFound       BrokenReason = "file-not-found"
	ReasonLineNotFound       BrokenReason = "line-not-found"
)

// Resolved is the per-stop outcome of Store.Resolve: either Located or
// Broken. The interface is sealed so consumers switch exhaustively.
type Resolved interface {
	resolved()
	StopID() string
}

// Located is a stop successfully placed at an absolute path and line in the
// current working copy.
type Located struct {
	ID           string
	Title        string
	Body         string
	AbsolutePath string
	Line         int
	ChildStops   []StopLink
}

// Broken is a stop whose file or line could not be found; it keeps its prose
// and links so a tour still renders around it.
type Broken struct {
	ID         string
	Title      string
	Body       string
	ChildStops []StopLink
	Reasons    []BrokenReason
}

func (Located) resolved() {}
func (Broken) resolved()  {}

func (l Located) StopID() string { return l.ID }
func (b Broken) StopID() string  { return b.ID }
