// internal/delta/delta.go
package delta

import (
	"sort"

	"waypoint/internal/errors"
)

// FileChanges describes how one file's lines map between two points in time.
// Additions are numbered in the target, Deletions in the source, and Moves
// maps source line numbers to target line numbers for lines that persisted
// unchanged. A line appears in at most one of Deletions or Moves.
type FileChanges struct {
	Additions map[int]bool
	Deletions map[int]bool
	Moves     map[int]int
	// Name is the file's path in the target, which differs from the source
	// path when the file was renamed.
	Name string
}

// NewFileChanges returns an empty (identity) change set for name.
func NewFileChanges(name string) *FileChanges {
	return &FileChanges{
		Additions: make(map[int]bool),
		Deletions: make(map[int]bool),
		Moves:     make(map[int]int),
		Name:      name,
	}
}

// ComputeDelta maps a 1-indexed line from the source numbering to the target
// numbering. The second return is false when the line was deleted and has no
// position in the target.
func ComputeDelta(changes *FileChanges, line int) (int, bool, error) {
	if line <= 0 {
		return 0, false, errors.OperationInput("line number must be positive, got %d", line).WithLine(line)
	}
	if changes == nil {
		return line, true, nil
	}
	if changes.Deletions[line] {
		return 0, false, nil
	}
	if target, ok := changes.Moves[line]; ok {
		return target, true, nil
	}
	return shift(line, changes.Deletions, changes.Additions), true, nil
}

// UndoDelta is the inverse of ComputeDelta: it maps a line from the target
// numbering back onto the source numbering. The second return is false when
// the line was added and did not exist in the source.
func UndoDelta(changes *FileChanges, line int) (int, bool, error) {
	if line <= 0 {
		return 0, false, errors.OperationInput("line number must be positive, got %d", line).WithLine(line)
	}
	if changes == nil {
		return line, true, nil
	}
	if changes.Additions[line] {
		return 0, false, nil
	}
	for source, target := range changes.Moves {
		if target == line {
			return source, true, nil
		}
	}
	return shift(line, changes.Additions, changes.Deletions), true, nil
}

// shift approximates the new position of a line the diff does not track
// individually. It first subtracts the removed lines at or before the input,
// then slides the running position past inserted lines in ascending order
// until the next insertion falls beyond it.
func shift(line int, removed, inserted map[int]bool) int {
	result := line
	for d := range removed {
		if d <= line {
			result--
		}
	}

	ins := make([]int, 0, len(inserted))
	for a := range inserted {
		ins = append(ins, a)
	}
	sort.Ints(ins)

	for _, a := range ins {
		if a > result {
			break
		}
		result++
	}
	return result
}
