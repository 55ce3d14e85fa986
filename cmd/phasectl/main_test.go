package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/lock"
)

const flowPlan = `plan:
  id: flow
  phases:
    - id: P01
      description: First phase
      artifacts:
        must_exist: [out.txt]
    - id: P02
      description: Second phase
`

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, root string, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--root", root}, args...)
	code := execute(context.Background(), full, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func newRepo(t *testing.T, planYAML string) string {
	t.Helper()
	root := t.TempDir()
	res := runCLI(t, root, "", "init")
	require.Equal(t, exitOK, res.code, res.stderr)
	if planYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, ".repo", "plan.yaml"), []byte(planYAML), 0o644))
	}
	return root
}

func TestInitCreatesLayout(t *testing.T) {
	root := newRepo(t, "")

	for _, dir := range []string{"state", "critiques", "traces", "scope_audit"} {
		info, err := os.Stat(filepath.Join(root, ".repo", dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
	ignore, err := os.ReadFile(filepath.Join(root, ".repo", ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(ignore), "critiques/")

	res := runCLI(t, root, "", "validate")
	assert.Equal(t, exitOK, res.code, res.stdout+res.stderr)
	assert.Contains(t, res.stdout, "P01-setup")
}

func TestInitKeepsExistingPlan(t *testing.T) {
	root := newRepo(t, flowPlan)

	res := runCLI(t, root, "", "init")
	require.Equal(t, exitOK, res.code)

	data, err := os.ReadFile(filepath.Join(root, ".repo", "plan.yaml"))
	require.NoError(t, err)
	assert.Equal(t, flowPlan, string(data))
}

func TestValidateRejectsBadPlan(t *testing.T) {
	root := newRepo(t, "plan:\n  id: broken\n  phases: []\n")

	res := runCLI(t, root, "", "validate")
	assert.Equal(t, exitRejected, res.code)
	assert.Contains(t, res.stdout, "plan.phases must contain at least one phase")
}

func TestStatusWithoutActivePhase(t *testing.T) {
	root := newRepo(t, flowPlan)

	res := runCLI(t, root, "", "status")
	assert.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stdout, "No active phase")
}

func TestPhaseFlow(t *testing.T) {
	root := newRepo(t, flowPlan)

	res := runCLI(t, root, "", "start", "P01")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Phase P01 activated")

	res = runCLI(t, root, "", "judge", "P01")
	assert.Equal(t, exitRejected, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Missing required artifact: out.txt")
	assert.FileExists(t, filepath.Join(root, ".repo", "critiques", "P01.md"))

	res = runCLI(t, root, "", "next")
	assert.Equal(t, exitRejected, res.code)
	assert.Contains(t, res.stdout, "not approved yet")

	require.NoError(t, os.WriteFile(filepath.Join(root, "out.txt"), []byte("done\n"), 0o644))

	res = runCLI(t, root, "", "judge", "P01")
	require.Equal(t, exitOK, res.code, res.stdout+res.stderr)
	assert.Contains(t, res.stdout, "Phase P01 approved")
	assert.FileExists(t, filepath.Join(root, ".repo", "critiques", "P01.OK"))
	assert.NoFileExists(t, filepath.Join(root, ".repo", "critiques", "P01.md"))

	res = runCLI(t, root, "", "status")
	assert.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stdout, "Approved")
	assert.Contains(t, res.stdout, "2 (1 approved, 1 rejected)")

	res = runCLI(t, root, "", "next")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Phase P02 activated")

	res = runCLI(t, root, "", "judge", "P01")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "not the active phase")

	res = runCLI(t, root, "", "judge", "P02")
	require.Equal(t, exitOK, res.code, res.stdout+res.stderr)

	res = runCLI(t, root, "", "next")
	require.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stdout, "All phases complete!")
}

func TestStartRefusesUnapprovedPhase(t *testing.T) {
	root := newRepo(t, flowPlan)
	require.Equal(t, exitOK, runCLI(t, root, "", "start", "P01").code)

	res := runCLI(t, root, "", "start", "P02")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "--force")

	res = runCLI(t, root, "", "start", "P02", "--force")
	assert.Equal(t, exitOK, res.code, res.stderr)
}

func TestStartUnknownPhase(t *testing.T) {
	root := newRepo(t, flowPlan)

	res := runCLI(t, root, "", "start", "P99")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "phase not found")
}

func TestContextCommands(t *testing.T) {
	root := newRepo(t, flowPlan)
	require.Equal(t, exitOK, runCLI(t, root, "", "start", "P01").code)

	res := runCLI(t, root, "", "context", "set-test-cmd", "--", "go", "test", "./...")
	require.Equal(t, exitOK, res.code, res.stderr)

	res = runCLI(t, root, "", "context", "set-mode", "lock")
	require.Equal(t, exitOK, res.code, res.stderr)

	res = runCLI(t, root, "", "context", "set-lint-cmd", "--", "golangci-lint", "run")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "LOCK mode")

	res = runCLI(t, root, "", "context", "show")
	require.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stdout, "LOCK")
	assert.Contains(t, res.stdout, "go test ./...")

	res = runCLI(t, root, "", "context", "set-mode", "bogus")
	assert.Equal(t, exitError, res.code)
}

func TestContextShowListsCountersInOrder(t *testing.T) {
	root := newRepo(t, flowPlan)
	require.Equal(t, exitOK, runCLI(t, root, "", "start", "P01").code)
	require.Equal(t, exitRejected, runCLI(t, root, "", "judge", "P01").code)
	require.NoError(t, os.WriteFile(filepath.Join(root, "out.txt"), []byte("done\n"), 0o644))
	require.Equal(t, exitOK, runCLI(t, root, "", "judge", "P01").code)

	for i := 0; i < 5; i++ {
		res := runCLI(t, root, "", "context", "show")
		require.Equal(t, exitOK, res.code)
		approvals := strings.Index(res.stdout, "approvals: 1")
		runs := strings.Index(res.stdout, "judge_runs: 2")
		rejections := strings.Index(res.stdout, "rejections: 1")
		require.True(t, approvals >= 0 && runs >= 0 && rejections >= 0, res.stdout)
		assert.Less(t, approvals, runs)
		assert.Less(t, runs, rejections)
	}
}

func TestManifestGenerateAndVerify(t *testing.T) {
	root := newRepo(t, flowPlan+`  protocol_lock:
    protected_globs:
      - "tools/**"
`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tools"), 0o755))
	helper := filepath.Join(root, "tools", "check.sh")
	require.NoError(t, os.WriteFile(helper, []byte("#!/bin/sh\n"), 0o755))

	res := runCLI(t, root, "", "manifest", "generate")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "1 file(s)")
	assert.Contains(t, res.stdout, "Skipping missing file: bin/phasectl")

	res = runCLI(t, root, "", "manifest", "verify")
	assert.Equal(t, exitOK, res.code, res.stdout)

	require.NoError(t, os.WriteFile(helper, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	res = runCLI(t, root, "", "manifest", "verify")
	assert.Equal(t, exitRejected, res.code)
	assert.Contains(t, res.stdout, "Protocol file modified: tools/check.sh")
}

func TestConfigFileCannotRedirectSelfCheck(t *testing.T) {
	root := newRepo(t, flowPlan+`  protocol_lock:
    protected_globs:
      - "bin/*"
    allow_in_phases: [P01]
`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	evaluator := filepath.Join(root, "bin", "phasectl")
	require.NoError(t, os.WriteFile(evaluator, []byte("judge v1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "out.txt"), []byte("done\n"), 0o644))

	require.Equal(t, exitOK, runCLI(t, root, "", "manifest", "generate").code)
	require.Equal(t, exitOK, runCLI(t, root, "", "start", "P01").code)

	require.NoError(t, os.WriteFile(evaluator, []byte("judge v2"), 0o755))
	res := runCLI(t, root, "", "judge", "P01")
	assert.Equal(t, exitRejected, res.code)
	assert.Contains(t, res.stdout, "JUDGE TAMPER DETECTED: bin/phasectl")

	cfgPath := filepath.Join(root, ".repo", "phasectl.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("judge:\n  self_path: not/listed\n"), 0o644))
	res = runCLI(t, root, "", "judge", "P01")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "judge.self_path")
	assert.NoFileExists(t, filepath.Join(root, ".repo", "critiques", "P01.OK"))

	require.NoError(t, os.Remove(cfgPath))
	res = runCLI(t, root, "", "judge", "P01")
	assert.Equal(t, exitRejected, res.code)
	assert.FileExists(t, filepath.Join(root, ".repo", "critiques", "P01.md"))
}

func TestManifestGenerateRequiresProtocolLock(t *testing.T) {
	root := newRepo(t, flowPlan)

	res := runCLI(t, root, "", "manifest", "generate")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "protocol_lock")
}

func TestTraceRecordsExitCode(t *testing.T) {
	root := newRepo(t, flowPlan)
	script := filepath.Join(root, "fail.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0o755))

	res := runCLI(t, root, "", "trace", "tests", "--", "./fail.sh")
	assert.Equal(t, exitRejected, res.code, res.stderr)
	assert.Contains(t, res.stdout, "exit 3")

	data, err := os.ReadFile(filepath.Join(root, ".repo", "traces", "last_tests.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Exit code: 3\n"))
}

func TestTraceWaitsForLock(t *testing.T) {
	root := newRepo(t, flowPlan)
	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.sh"), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	t.Setenv("PHASECTL_LOCK_TIMEOUT", "200ms")

	h, err := lock.TryAcquire(filepath.Join(root, ".repo", ".judge.lock"))
	require.NoError(t, err)

	res := runCLI(t, root, "", "trace", "tests", "--", "./ok.sh")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "lock timeout")
	assert.NoFileExists(t, filepath.Join(root, ".repo", "traces", "last_tests.txt"))

	require.NoError(t, h.Release())
	res = runCLI(t, root, "", "trace", "tests", "--", "./ok.sh")
	assert.Equal(t, exitOK, res.code, res.stderr)
	assert.FileExists(t, filepath.Join(root, ".repo", "traces", "last_tests.txt"))
}

func TestJustifyScopeWaitsForLock(t *testing.T) {
	root := newRepo(t, flowPlan)
	require.Equal(t, exitOK, runCLI(t, root, "", "start", "P01").code)
	t.Setenv("PHASECTL_LOCK_TIMEOUT", "200ms")

	h, err := lock.TryAcquire(filepath.Join(root, ".repo", ".judge.lock"))
	require.NoError(t, err)
	defer h.Release()

	res := runCLI(t, root, "", "justify-scope", "P01", "-m", "needed")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "lock timeout")
	assert.NoFileExists(t, filepath.Join(root, ".repo", "scope_audit", "P01.md"))
}

func TestJudgeWithoutActivePhase(t *testing.T) {
	root := newRepo(t, flowPlan)

	res := runCLI(t, root, "", "judge", "P01")
	assert.Equal(t, exitError, res.code)
	assert.NoFileExists(t, filepath.Join(root, ".repo", "critiques", "P01.md"))
}
