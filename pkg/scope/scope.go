// Package scope partitions changed paths by a phase's declared scope.
//
// Patterns use gitignore semantics: "**" crosses directories, "*" stays
// within one path segment, patterns containing a slash are anchored to the
// repository root, bare names match at any depth, and a leading "!" negates
// an earlier match.
package scope

import (
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Severity distinguishes ordinary drift from forbidden changes.
type Severity string

const (
	// SeverityDrift marks changes outside the declared scope.
	SeverityDrift Severity = "drift"
	// SeverityForbidden marks changes that always require a separate phase.
	SeverityForbidden Severity = "forbidden"
)

// Result is the partition of a change set.
type Result struct {
	InScope    []string `json:"in_scope"`
	OutOfScope []string `json:"out_of_scope"`
	Forbidden  []string `json:"forbidden,omitempty"`
}

// Matcher matches relative paths against a set of gitignore-style patterns.
type Matcher struct {
	patterns []string
	matcher  gitignore.Matcher
}

// NewMatcher compiles patterns. Blank lines and "#" comments are skipped.
func NewMatcher(patterns []string) *Matcher {
	compiled := make([]gitignore.Pattern, 0, len(patterns))
	kept := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		kept = append(kept, p)
		compiled = append(compiled, gitignore.ParsePattern(p, nil))
	}
	return &Matcher{patterns: kept, matcher: gitignore.NewMatcher(compiled)}
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return len(m.patterns) == 0
}

// Patterns returns the compiled pattern strings.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Match reports whether path matches. An empty matcher matches nothing.
func (m *Matcher) Match(path string) bool {
	if m.Empty() {
		return false
	}
	parts := split(path)
	if len(parts) == 0 {
		return false
	}
	return m.matcher.Match(parts, false)
}

// split normalises a relative path into segments.
func split(path string) []string {
	p := filepath.ToSlash(path)
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	segments := strings.Split(p, "/")
	out := segments[:0]
	for _, s := range segments {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

// Classifier holds compiled include and exclude sets for one phase.
type Classifier struct {
	include *Matcher
	exclude *Matcher
}

// NewClassifier compiles include and exclude patterns.
func NewClassifier(include, exclude []string) *Classifier {
	return &Classifier{
		include: NewMatcher(include),
		exclude: NewMatcher(exclude),
	}
}

// InScope reports whether path matches at least one include pattern and no
// exclude pattern. With no include patterns nothing is in scope.
func (c *Classifier) InScope(path string) bool {
	return c.include.Match(path) && !c.exclude.Match(path)
}

// Classify splits paths into in-scope and out-of-scope sets, preserving input order.
func (c *Classifier) Classify(paths []string) Result {
	res := Result{
		InScope:    make([]string, 0, len(paths)),
		OutOfScope: make([]string, 0),
	}
	for _, p := range paths {
		if c.InScope(p) {
			res.InScope = append(res.InScope, p)
		} else {
			res.OutOfScope = append(res.OutOfScope, p)
		}
	}
	return res
}

// Classify is a convenience wrapper around NewClassifier(include, exclude).Classify(paths).
func Classify(paths, include, exclude []string) Result {
	return NewClassifier(include, exclude).Classify(paths)
}

// CheckForbidden returns the paths matching any forbidden pattern, in input order.
func CheckForbidden(paths, forbid []string) []string {
	m := NewMatcher(forbid)
	if m.Empty() {
		return nil
	}
	var matched []string
	for _, p := range paths {
		if m.Match(p) {
			matched = append(matched, p)
		}
	}
	return matched
}
