// Package vcs derives the change set of a phase from git.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
)

// DefaultTimeout bounds each git invocation.
const DefaultTimeout = 30 * time.Second

// ErrNotRepository is returned when root is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Changes is the change set of a phase relative to its baseline.
type Changes struct {
	// Files is the sorted, deduplicated union of all changes.
	Files []string
	// Uncommitted holds modified tracked files plus untracked files.
	Uncommitted []string
	// Committed holds files changed by commits since the baseline.
	Committed []string
	// Warnings are advisory and never block a verdict.
	Warnings []string
}

// IsUncommitted reports whether path has uncommitted changes.
func (c *Changes) IsUncommitted(path string) bool {
	return contains(c.Uncommitted, path)
}

// Split partitions paths into those with uncommitted changes and those only
// changed by commits, preserving order.
func (c *Changes) Split(paths []string) (uncommitted, committed []string) {
	for _, p := range paths {
		if c.IsUncommitted(p) {
			uncommitted = append(uncommitted, p)
		} else {
			committed = append(committed, p)
		}
	}
	return uncommitted, committed
}

func contains(sorted []string, s string) bool {
	i := sort.SearchStrings(sorted, s)
	return i < len(sorted) && sorted[i] == s
}

// Git runs git commands in a repository.
type Git struct {
	root    string
	timeout time.Duration
}

// New returns a Git for the work tree at root.
func New(root string) *Git {
	return &Git{root: root, timeout: DefaultTimeout}
}

// WithTimeout returns a copy using timeout for each command.
func (g *Git) WithTimeout(timeout time.Duration) *Git {
	c := *g
	c.timeout = timeout
	return &c
}

// Root returns the work tree root.
func (g *Git) Root() string {
	return g.root
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s timed out after %s", args[0], g.timeout)
		}
		return "", fmt.Errorf("git %s failed: %w, stderr: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func lines(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files
}

func dedupe(groups ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range groups {
		for _, f := range group {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}

// ChangedFiles lists the files changed since baseline. Without a baseline
// the merge-base of HEAD and baseBranch is used and a warning is recorded.
// An error means git itself is unusable here; failures to resolve committed
// changes only add warnings.
func (g *Git) ChangedFiles(ctx context.Context, baseline, baseBranch string) (*Changes, error) {
	if _, err := g.run(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, g.root)
	}

	// Renames are split so a moved file reports its source path too.
	diff, err := g.run(ctx, "diff", "--name-only", "--no-renames", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to list uncommitted changes: %w", err)
	}
	untracked, err := g.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("failed to list untracked files: %w", err)
	}

	changes := &Changes{Uncommitted: dedupe(lines(diff), lines(untracked))}

	base := baseline
	if base == "" {
		changes.Warnings = append(changes.Warnings,
			fmt.Sprintf("No baseline recorded for this phase; diffing against merge-base with %s", baseBranch))
		mergeBase, err := g.run(ctx, "merge-base", "HEAD", baseBranch)
		if err != nil {
			changes.Warnings = append(changes.Warnings,
				fmt.Sprintf("Could not resolve merge-base with %s; committed changes are not included", baseBranch))
		}
		base = strings.TrimSpace(mergeBase)
	}

	if base != "" {
		committed, err := g.run(ctx, "diff", "--name-only", "--no-renames", base+"...HEAD")
		if err != nil {
			changes.Warnings = append(changes.Warnings,
				fmt.Sprintf("Could not diff %s...HEAD; committed changes are not included", shortSHA(base)))
		} else {
			changes.Committed = dedupe(lines(committed))
		}
	}

	changes.Files = dedupe(changes.Uncommitted, changes.Committed)
	return changes, nil
}

// HeadSHA returns the commit HEAD points to.
func (g *Git) HeadSHA() (string, error) {
	return HeadSHA(g.root)
}

// HeadSHA resolves HEAD for the repository containing root.
func HeadSHA(root string) (string, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", fmt.Errorf("%w: %s", ErrNotRepository, root)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
