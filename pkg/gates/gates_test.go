package gates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/integrity"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/review"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/trace"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/vcs"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/workspace"
)

func newRunContext(t *testing.T, changed ...string) *RunContext {
	t.Helper()
	root := t.TempDir()
	guard, err := workspace.NewGuard(root)
	require.NoError(t, err)

	tracesDir := filepath.Join(guard.Root(), ".repo", "traces")
	require.NoError(t, os.MkdirAll(tracesDir, 0o755))

	rc := &RunContext{
		Root:      guard.Root(),
		TracesDir: tracesDir,
		Workspace: guard,
	}
	if len(changed) > 0 {
		sorted := append([]string(nil), changed...)
		sort.Strings(sorted)
		rc.Changes = &vcs.Changes{Files: changed, Uncommitted: sorted}
	}
	return rc
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeTrace(t *testing.T, rc *RunContext, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(trace.Path(rc.TracesDir, name), []byte(content), 0o644))
}

func run(t *testing.T, g Gate, phase *plan.Phase, rc *RunContext) []string {
	t.Helper()
	issues, err := g.Run(context.Background(), phase, &plan.Plan{}, rc)
	require.NoError(t, err)
	return issues
}

func TestArtifactsGate(t *testing.T) {
	rc := newRunContext(t)
	writeFile(t, rc.Root, "src/ok.py", "print('hi')")
	writeFile(t, rc.Root, "src/empty.py", "")
	require.NoError(t, os.MkdirAll(filepath.Join(rc.Root, "out"), 0o755))

	phase := &plan.Phase{ID: "P01", Artifacts: plan.Artifacts{MustExist: []string{
		"src/ok.py", "src/empty.py", "src/missing.py", "out", "../escape.txt",
	}}}

	issues := run(t, ArtifactsGate{}, phase, rc)
	assert.Equal(t, []string{
		"Artifact is empty: src/empty.py",
		"Missing required artifact: src/missing.py",
		"Artifact path outside repository: ../escape.txt",
	}, issues)
}

func TestArtifactsGateNoArtifacts(t *testing.T) {
	issues := run(t, ArtifactsGate{}, &plan.Phase{ID: "P01"}, &RunContext{})
	assert.Empty(t, issues)
}

func TestDriftGateEnabled(t *testing.T) {
	assert.False(t, DriftGate{}.IsEnabled(&plan.Phase{}))
	assert.True(t, DriftGate{}.IsEnabled(&plan.Phase{Gates: plan.GatesConfig{Drift: &plan.DriftGate{}}}))
	assert.True(t, DriftGate{}.IsEnabled(&plan.Phase{DriftRules: plan.DriftRules{ForbidChanges: []string{"x"}}}))
}

func TestDriftGateWithinAllowance(t *testing.T) {
	rc := newRunContext(t, "README.md", "src/mvp/a.py")
	phase := &plan.Phase{
		ID:    "P01",
		Scope: plan.Scope{Include: []string{"src/mvp/**"}},
		Gates: plan.GatesConfig{Drift: &plan.DriftGate{AllowedOutOfScopeChanges: 1}},
	}
	assert.Empty(t, run(t, DriftGate{}, phase, rc))
}

func TestDriftGateOutOfScope(t *testing.T) {
	rc := newRunContext(t, "README.md", "docs/x.md", "src/mvp/a.py")
	rc.Changes.Uncommitted = []string{"README.md"}
	rc.Baseline = "abc123"

	phase := &plan.Phase{
		ID:    "P01",
		Scope: plan.Scope{Include: []string{"src/mvp/**"}},
		Gates: plan.GatesConfig{Drift: &plan.DriftGate{}},
	}

	issues := run(t, DriftGate{}, phase, rc)
	require.Len(t, issues, 1)
	issue := issues[0]
	assert.True(t, strings.HasPrefix(issue, "Out-of-scope changes detected (2 files, 0 allowed):"))
	assert.Contains(t, issue, "  - README.md")
	assert.Contains(t, issue, "  - docs/x.md")
	assert.Contains(t, issue, "1. Revert uncommitted changes: git restore --worktree --staged -- README.md")
	assert.Contains(t, issue, "2. Restore committed files to baseline: git restore --source=abc123 -- docs/x.md")
	assert.Contains(t, issue, "3. Update the scope of P01")
	assert.Contains(t, issue, "4. Split the out-of-scope work into a separate phase")
}

func TestDriftGateListsFirstThreeFiles(t *testing.T) {
	changed := []string{"a.md", "b.md", "c.md", "d.md", "e.md"}
	rc := newRunContext(t, changed...)
	phase := &plan.Phase{ID: "P01", Gates: plan.GatesConfig{Drift: &plan.DriftGate{}}}

	issues := run(t, DriftGate{}, phase, rc)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "git restore --worktree --staged -- a.md b.md c.md (and 2 more)")
}

func TestDriftGateWithoutBaselineSuggestsRevert(t *testing.T) {
	rc := newRunContext(t, "README.md")
	rc.Changes.Uncommitted = nil
	phase := &plan.Phase{ID: "P01", Gates: plan.GatesConfig{Drift: &plan.DriftGate{}}}

	issues := run(t, DriftGate{}, phase, rc)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "git revert <commits>")
}

func TestDriftGateForbidden(t *testing.T) {
	rc := newRunContext(t, "requirements.txt", "src/mvp/a.py", "notes.md")
	phase := &plan.Phase{
		ID:         "P01",
		Scope:      plan.Scope{Include: []string{"src/mvp/**"}},
		Gates:      plan.GatesConfig{Drift: &plan.DriftGate{AllowedOutOfScopeChanges: 1}},
		DriftRules: plan.DriftRules{ForbidChanges: []string{"requirements.txt"}},
	}

	issues := run(t, DriftGate{}, phase, rc)
	require.Len(t, issues, 1, "forbidden file must not also count as drift")
	assert.True(t, strings.HasPrefix(issues[0], "Forbidden files changed (these require a separate phase):"))
	assert.Contains(t, issues[0], "  - requirements.txt")
	assert.NotContains(t, issues[0], "notes.md")
}

func TestDriftGateForbiddenOnly(t *testing.T) {
	rc := newRunContext(t, "requirements.txt", "elsewhere.md")
	phase := &plan.Phase{ID: "P01", DriftRules: plan.DriftRules{ForbidChanges: []string{"requirements.txt"}}}

	issues := run(t, DriftGate{}, phase, rc)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "Forbidden files changed")
}

func TestDriftGateNoChanges(t *testing.T) {
	rc := newRunContext(t)
	phase := &plan.Phase{ID: "P01", Gates: plan.GatesConfig{Drift: &plan.DriftGate{}}}
	assert.Empty(t, run(t, DriftGate{}, phase, rc))
}

func TestTestsGate(t *testing.T) {
	phase := &plan.Phase{ID: "P01", Gates: plan.GatesConfig{Tests: &plan.TestsGate{MustPass: true}}}

	tests := []struct {
		name  string
		trace string
		want  []string
	}{
		{"missing", "", []string{"Tests have not been run yet"}},
		{"passed", "Exit code: 0\n", nil},
		{"failed", "Exit code: 3\nCommand: pytest\n", []string{"Tests failed with exit code 3. See .repo/traces/last_tests.txt"}},
		{"timed out", "Exit code: 124\nTimed out after 5s\n", []string{"Tests timed out after 5s. See .repo/traces/last_tests.txt"}},
		{"garbled", "nothing useful\n", []string{"Could not parse tests results from trace"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := newRunContext(t)
			if tt.trace != "" {
				writeTrace(t, rc, TraceTests, tt.trace)
			}
			assert.Equal(t, tt.want, run(t, TestsGate{}, phase, rc))
		})
	}
}

func TestTestsGateEnabled(t *testing.T) {
	assert.False(t, TestsGate{}.IsEnabled(&plan.Phase{}))
	assert.False(t, TestsGate{}.IsEnabled(&plan.Phase{Gates: plan.GatesConfig{Tests: &plan.TestsGate{}}}))
	assert.True(t, TestsGate{}.IsEnabled(&plan.Phase{Gates: plan.GatesConfig{Tests: &plan.TestsGate{MustPass: true}}}))
	assert.True(t, TestsGate{}.IsEnabled(&plan.Phase{Gates: plan.GatesConfig{Tests: &plan.TestsGate{Unit: &plan.TestSuite{}}}}))
}

func TestTestsGateSplitSuites(t *testing.T) {
	phase := &plan.Phase{ID: "P01", Gates: plan.GatesConfig{Tests: &plan.TestsGate{
		Unit:        &plan.TestSuite{Command: plan.Command{"pytest", "tests/unit"}},
		Integration: &plan.TestSuite{Command: plan.Command{"pytest", "tests/int"}, AllowSkip: true},
	}}}

	rc := newRunContext(t)
	writeTrace(t, rc, TraceUnitTests, "Exit code: 1\n")
	writeTrace(t, rc, TraceIntegrationTests, "Exit code: 1\n")

	issues := run(t, TestsGate{}, phase, rc)
	assert.Equal(t, []string{"Unit tests failed with exit code 1. See .repo/traces/last_tests_unit.txt"}, issues)
}

func TestLintGate(t *testing.T) {
	phase := &plan.Phase{ID: "P01", Gates: plan.GatesConfig{Lint: &plan.LintGate{MustPass: true}}}
	assert.True(t, LintGate{}.IsEnabled(phase))
	assert.False(t, LintGate{}.IsEnabled(&plan.Phase{Gates: plan.GatesConfig{Lint: &plan.LintGate{}}}))

	rc := newRunContext(t)
	assert.Equal(t, []string{"Linting has not been run yet"}, run(t, LintGate{}, phase, rc))

	writeTrace(t, rc, TraceLint, "Exit code: 2\n")
	assert.Equal(t, []string{"Linting failed with exit code 2. See .repo/traces/last_lint.txt"}, run(t, LintGate{}, phase, rc))
}

func TestDocsGate(t *testing.T) {
	docsPhase := func(entries ...string) *plan.Phase {
		return &plan.Phase{ID: "P01", Gates: plan.GatesConfig{Docs: &plan.DocsGate{MustUpdate: entries}}}
	}

	t.Run("no changes", func(t *testing.T) {
		rc := newRunContext(t)
		assert.Equal(t, []string{"Documentation gate: No changed files detected."}, run(t, DocsGate{}, docsPhase("docs/a.md"), rc))
	})

	t.Run("updated", func(t *testing.T) {
		rc := newRunContext(t, "docs/a.md")
		writeFile(t, rc.Root, "docs/a.md", "# Title\n\n## Usage\ntext\n")
		assert.Empty(t, run(t, DocsGate{}, docsPhase("docs/a.md", "docs/a.md#usage"), rc))
	})

	t.Run("problems", func(t *testing.T) {
		rc := newRunContext(t, "docs/a.md", "docs/guide/intro.md")
		writeFile(t, rc.Root, "docs/a.md", "# Title\n")
		writeFile(t, rc.Root, "docs/empty.md", "")
		writeFile(t, rc.Root, "docs/stale.md", "# Old\n")
		writeFile(t, rc.Root, "docs/guide/intro.md", "# Intro\n")

		issues := run(t, DocsGate{}, docsPhase(
			"docs/missing.md",
			"docs/empty.md",
			"docs/stale.md",
			"docs/a.md#Install",
			"docs/guide",
		), rc)
		assert.Equal(t, []string{
			"Documentation not found: docs/missing.md",
			"Documentation is empty: docs/empty.md",
			"Documentation not updated: docs/stale.md",
			"Documentation section not found: docs/a.md#Install",
		}, issues)
	})
}

func TestIntegrityGate(t *testing.T) {
	rc := newRunContext(t, "tools/judge.py")
	phase := &plan.Phase{ID: "P01"}

	assert.Empty(t, run(t, IntegrityGate{}, phase, rc))

	guard, err := integrity.NewGuard(integrity.Options{
		Root:         rc.Root,
		ManifestPath: filepath.Join(rc.Root, ".repo", "protocol_manifest.json"),
		Policy:       &integrity.Policy{ProtectedGlobs: []string{"tools/*"}},
	})
	require.NoError(t, err)
	rc.Integrity = guard

	issues := run(t, IntegrityGate{}, phase, rc)
	assert.Equal(t, []string{"Protocol manifest missing. Run: phasectl manifest generate"}, issues)
}

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, req review.CompletionRequest) (string, error) {
	f.prompt = req.Prompt
	return f.reply, f.err
}

func reviewPhase() *plan.Phase {
	return &plan.Phase{
		ID:          "P01",
		Description: "Add feature",
		Scope:       plan.Scope{Include: []string{"src/**"}},
		Gates:       plan.GatesConfig{LLMReview: &plan.LLMReviewGate{Enabled: true}},
	}
}

func TestLLMReviewGateMissingKey(t *testing.T) {
	t.Setenv("GATES_TEST_KEY", "")
	g := &LLMReviewGate{APIKeyEnv: "GATES_TEST_KEY", Settings: review.DefaultSettings()}
	assert.True(t, g.IsEnabled(reviewPhase()))

	issues := run(t, g, reviewPhase(), newRunContext(t, "src/a.py"))
	assert.Equal(t, []string{"LLM review enabled but GATES_TEST_KEY not set"}, issues)
}

func TestLLMReviewGate(t *testing.T) {
	t.Setenv("GATES_TEST_KEY", "sk-test")

	tests := []struct {
		name  string
		reply string
		err   error
		want  []string
	}{
		{"approved", "APPROVED", nil, nil},
		{"rejected", "- Issue: missing error handling", nil, []string{"Code quality: missing error handling"}},
		{"failure", "", errors.New("rate limited"), []string{"LLM review failed: rate limited"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCompleter{reply: tt.reply, err: tt.err}
			var gotKey string
			g := &LLMReviewGate{
				APIKeyEnv: "GATES_TEST_KEY",
				Settings:  review.DefaultSettings(),
				Counter:   review.ApproxCounter{},
				NewCompleter: func(apiKey, _ string) (review.Completer, error) {
					gotKey = apiKey
					return fake, nil
				},
			}

			rc := newRunContext(t, "src/a.py", "other/b.py")
			writeFile(t, rc.Root, "src/a.py", "def a():\n    return 1\n")
			writeFile(t, rc.Root, "other/b.py", "def b():\n    return 2\n")

			assert.Equal(t, tt.want, run(t, g, reviewPhase(), rc))
			assert.Equal(t, "sk-test", gotKey)
			assert.Contains(t, fake.prompt, "src/a.py")
			assert.NotContains(t, fake.prompt, "other/b.py")
		})
	}
}

func TestLLMReviewGateNothingToReview(t *testing.T) {
	t.Setenv("GATES_TEST_KEY", "sk-test")
	fake := &fakeCompleter{reply: "- Issue: should not be called"}
	g := &LLMReviewGate{
		APIKeyEnv:    "GATES_TEST_KEY",
		Settings:     review.DefaultSettings(),
		NewCompleter: func(string, string) (review.Completer, error) { return fake, nil },
	}

	issues := run(t, g, reviewPhase(), newRunContext(t))
	assert.Empty(t, issues)
	assert.Empty(t, fake.prompt)
}
