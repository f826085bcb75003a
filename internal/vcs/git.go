// internal/vcs/git.go
package vcs

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"waypoint/internal/delta"
	"waypoint/internal/errors"

	godiff "github.com/sourcegraph/go-diff/diff"
	"go.uber.org/zap"
)

// GitProvider shells out to the git executable. Rename detection is always
// on so a tracked file keeps its identity across a rename.
type GitProvider struct {
	logger *zap.Logger
}

func NewGitProvider(logger *zap.Logger) *GitProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitProvider{logger: logger}
}

func (g *GitProvider) CurrentVersion(ctx context.Context, repoRoot string) (Version, error) {
	out, err := g.run(ctx, repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return Version{}, errors.ExternalState("reading checked-out revision of %q", repoRoot).WithPath(repoRoot).WithCause(err)
	}

	id := strings.TrimSpace(string(out))
	if id == "" {
		return Version{}, errors.ExternalState("repository %q reported an empty revision", repoRoot).WithPath(repoRoot)
	}
	return Version{Kind: KindGit, ID: id}, nil
}

func (g *GitProvider) TreeChanges(ctx context.Context, v Version, repoRoot string, dirty bool) (*TreeChanges, error) {
	if v.Kind != KindGit {
		return nil, errors.InternalState("git backend asked to diff a %q version", v.Kind)
	}

	args := []string{"diff", "-M", v.ID}
	if !dirty {
		args = append(args, "HEAD")
	}

	out, err := g.run(ctx, repoRoot, args...)
	if err != nil {
		return nil, errors.ExternalState("diffing %q against %s", repoRoot, v.ID).WithPath(repoRoot).WithCause(err)
	}

	tc, err := parseUnifiedDiff(out)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("computed tree diff",
		zap.String("root", repoRoot),
		zap.String("version", v.ID),
		zap.Bool("dirty", dirty),
		zap.Int("changed_files", tc.Len()))
	return tc, nil
}

func (g *GitProvider) ChangesForFile(ctx context.Context, v Version, relPath, repoRoot string) (*delta.FileChanges, error) {
	tc, err := g.TreeChanges(ctx, v, repoRoot, false)
	if err != nil {
		return nil, err
	}
	return tc.ForFile(relPath), nil
}

func (g *GitProvider) DirtyChangesForFile(ctx context.Context, v Version, relPath, repoRoot string) (*delta.FileChanges, error) {
	tc, err := g.TreeChanges(ctx, v, repoRoot, true)
	if err != nil {
		return nil, err
	}
	return tc.ForFile(relPath), nil
}

func (g *GitProvider) run(ctx context.Context, repoRoot string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", repoRoot}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, errors.ExternalState("git %s: %s", args[0], msg).WithCause(err)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// parseUnifiedDiff converts git's unified diff output into per-file line
// maps. Hunk bodies are walked with two cursors so context lines become
// Moves entries while added and removed lines land in Additions/Deletions.
func parseUnifiedDiff(raw []byte) (*TreeChanges, error) {
	tc := NewTreeChanges()
	if len(bytes.TrimSpace(raw)) == 0 {
		return tc, nil
	}

	files, err := godiff.ParseMultiFileDiff(raw)
	if err != nil {
		return nil, errors.ExternalState("parsing git diff output").WithCause(err)
	}

	for _, fd := range files {
		source := stripDiffPrefix(fd.OrigName)
		target := stripDiffPrefix(fd.NewName)
		if target == "" {
			// File deleted: keep the source name so deleted lines still
			// resolve against it.
			target = source
		}
		if source == "" {
			// File created since the tracked version: nothing to map.
			source = target
		}

		fc := delta.NewFileChanges(target)
		for _, hunk := range fd.Hunks {
			origLine := int(hunk.OrigStartLine)
			newLine := int(hunk.NewStartLine)

			for _, line := range splitHunkBody(hunk.Body) {
				if len(line) == 0 {
					continue
				}
				switch line[0] {
				case '-':
					fc.Deletions[origLine] = true
					origLine++
				case '+':
					fc.Additions[newLine] = true
					newLine++
				case ' ':
					fc.Moves[origLine] = newLine
					origLine++
					newLine++
				case '\\':
					// "\ No newline at end of file"
				}
			}
		}
		tc.Put(source, fc)
	}
	return tc, nil
}

func splitHunkBody(body []byte) [][]byte {
	return bytes.Split(bytes.TrimSuffix(body, []byte{'\n'}), []byte{'\n'})
}

// stripDiffPrefix drops git's a/ and b/ name prefixes and maps /dev/null to
// the empty string.
func stripDiffPrefix(name string) string {
	if name == "/dev/null" || name == "" {
		return ""
	}
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}
