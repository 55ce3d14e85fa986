package integrity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
)

// Policy is the protocol lock declared by the plan.
type Policy struct {
	// ProtectedGlobs are fnmatch-style patterns; "*" also crosses "/".
	ProtectedGlobs []string
	// AllowInPhases lists maintenance phases that skip manifest verification.
	AllowInPhases []string
}

// Options configures a Guard.
type Options struct {
	Root         string
	PlanPath     string
	ManifestPath string
	// SelfPath is the evaluator's manifest entry, relative to Root.
	SelfPath string
	// Policy is nil when the plan declares no protocol lock.
	Policy *Policy
}

// TamperError reports that the evaluator itself no longer matches the manifest.
type TamperError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("judge tamper detected: %s", e.Path)
}

// Issue renders the tamper condition as a rejection issue.
func (e *TamperError) Issue() string {
	actual := e.Actual
	if actual == "" {
		actual = "(missing)"
	}
	return fmt.Sprintf("JUDGE TAMPER DETECTED: %s\n"+
		"   Expected: %s\n"+
		"   Actual:   %s\n"+
		"   The judge has been modified. This is a critical protocol violation.",
		e.Path, e.Expected, actual)
}

// Guard verifies protected files against the manifest and the phase binding.
type Guard struct {
	opts    Options
	globs   []glob.Glob
	allowed map[string]bool
}

// NewGuard compiles the protected globs.
func NewGuard(opts Options) (*Guard, error) {
	g := &Guard{opts: opts, allowed: make(map[string]bool)}
	if opts.Policy == nil {
		return g, nil
	}
	for _, pattern := range opts.Policy.ProtectedGlobs {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid protected glob '%s': %w", pattern, err)
		}
		g.globs = append(g.globs, compiled)
	}
	for _, id := range opts.Policy.AllowInPhases {
		g.allowed[id] = true
	}
	return g, nil
}

func (g *Guard) abs(rel string) string {
	return filepath.Join(g.opts.Root, filepath.FromSlash(rel))
}

// SelfCheck hashes the evaluator when the manifest lists it. It returns a
// *TamperError on mismatch and nil when there is nothing to compare.
func (g *Guard) SelfCheck() error {
	if g.opts.SelfPath == "" {
		return nil
	}
	m, err := LoadManifest(g.opts.ManifestPath)
	if err != nil {
		return nil
	}
	self := filepath.ToSlash(g.opts.SelfPath)
	expected, ok := m.Files[self]
	if !ok {
		return nil
	}
	actual, err := HashFile(g.abs(self))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to hash evaluator: %w", err)
	}
	if actual != expected {
		return &TamperError{Path: self, Expected: expected, Actual: actual}
	}
	return nil
}

// IsProtected reports whether path matches a protected glob.
func (g *Guard) IsProtected(path string) bool {
	path = filepath.ToSlash(path)
	for _, pattern := range g.globs {
		if pattern.Match(path) {
			return true
		}
	}
	return false
}

// VerifyManifest checks protected files for phaseID. The evaluator is checked
// first; a mismatch there is returned alone. Maintenance phases skip the rest.
// changed is scanned for protected-glob matches not covered by the manifest.
func (g *Guard) VerifyManifest(phaseID string, changed []string) []string {
	if err := g.SelfCheck(); err != nil {
		var tamper *TamperError
		if errors.As(err, &tamper) {
			return []string{tamper.Issue()}
		}
		return []string{err.Error()}
	}

	if g.opts.Policy == nil || g.allowed[phaseID] {
		return nil
	}

	m, err := LoadManifest(g.opts.ManifestPath)
	if errors.Is(err, ErrManifestMissing) {
		return []string{"Protocol manifest missing. Run: phasectl manifest generate"}
	}
	if err != nil {
		return []string{fmt.Sprintf("Protocol manifest unreadable: %v", err)}
	}

	var issues []string
	self := filepath.ToSlash(g.opts.SelfPath)
	for _, rel := range m.Paths() {
		if rel == self {
			continue
		}
		expected := m.Files[rel]
		actual, err := HashFile(g.abs(rel))
		if errors.Is(err, os.ErrNotExist) {
			issues = append(issues, fmt.Sprintf("Protocol file missing: %s", rel))
			continue
		}
		if err != nil {
			issues = append(issues, fmt.Sprintf("Protocol file unreadable: %s (%v)", rel, err))
			continue
		}
		if actual != expected {
			issues = append(issues, fmt.Sprintf("Protocol file modified: %s\n"+
				"   Expected: %s\n"+
				"   Actual:   %s", rel, expected, actual))
		}
	}

	for _, path := range changed {
		path = filepath.ToSlash(path)
		if _, listed := m.Files[path]; listed {
			continue
		}
		if g.IsProtected(path) {
			issues = append(issues, fmt.Sprintf("Protected file changed: %s", path))
		}
	}

	return issues
}

// VerifyPhaseBinding compares the live plan and manifest hashes with those
// recorded when the phase started. Empty recorded hashes are not checked.
func (g *Guard) VerifyPhaseBinding(cur *state.Current) []string {
	if cur == nil {
		return nil
	}
	var issues []string
	issues = append(issues, checkBinding("plan", g.opts.PlanPath, cur.PlanSHA)...)
	issues = append(issues, checkBinding("manifest", g.opts.ManifestPath, cur.ManifestSHA)...)
	return issues
}

func checkBinding(label, path, expected string) []string {
	if expected == "" {
		return nil
	}
	actual, err := HashFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{fmt.Sprintf("State corruption: %s file missing: %s", label, path)}
	}
	if err != nil {
		return []string{fmt.Sprintf("State corruption: %s file unreadable: %v", label, err)}
	}
	if actual != expected {
		return []string{fmt.Sprintf("State corruption: %s changed mid-phase: %s\n"+
			"   Expected: %s\n"+
			"   Actual:   %s\n"+
			"   The %s cannot be modified during phase execution.",
			label, path, expected, actual, label)}
	}
	return nil
}

// CaptureBinding hashes the plan and manifest for a new phase pointer.
// A missing manifest yields an empty hash.
func CaptureBinding(planPath, manifestPath string) (planSHA, manifestSHA string, err error) {
	planSHA, err = HashFile(planPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash plan: %w", err)
	}
	manifestSHA, err = HashFile(manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return planSHA, "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to hash manifest: %w", err)
	}
	return planSHA, manifestSHA, nil
}
