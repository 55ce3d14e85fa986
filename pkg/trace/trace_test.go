package trace

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunRecordsExitCode(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		cmd  []string
		want int
	}{
		{"pass", []string{"sh", "-c", "echo ok"}, 0},
		{"fail", []string{"sh", "-c", "echo boom >&2; exit 3"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Run(context.Background(), RunOptions{
				Name: tt.name, Command: tt.cmd, Dir: dir, TracesDir: filepath.Join(dir, "traces"),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.ExitCode)
			assert.Equal(t, tt.want == 0, rec.Passed())

			content, err := os.ReadFile(Path(filepath.Join(dir, "traces"), tt.name))
			require.NoError(t, err)
			assert.Contains(t, string(content), "=== STDOUT ===")

			read, err := Read(filepath.Join(dir, "traces"), tt.name)
			require.NoError(t, err)
			assert.True(t, read.Found)
			assert.True(t, read.Parsed)
			assert.Equal(t, tt.want, read.ExitCode)
		})
	}
}

func TestRunTimeout(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	rec, err := Run(context.Background(), RunOptions{
		Name: "tests", Command: []string{"sleep", "5"}, Dir: dir, TracesDir: dir, Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, rec.TimedOut)
	assert.Equal(t, TimeoutExitCode, rec.ExitCode)

	read, err := Read(dir, "tests")
	require.NoError(t, err)
	assert.True(t, read.TimedOut)
	assert.Equal(t, "100ms", read.Timeout)
	assert.Equal(t, TimeoutExitCode, read.ExitCode)
}

func TestRunMissingToolClearsStaleTrace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir, "lint"), []byte("Exit code: 0\n"), 0o644))

	_, err := Run(context.Background(), RunOptions{
		Name: "lint", Command: []string{"definitely-not-a-real-linter-xyz"}, Dir: dir, TracesDir: dir,
	})
	require.ErrorIs(t, err, ErrToolNotFound)
	var cmdErr *CommandError
	assert.ErrorAs(t, err, &cmdErr)

	rec, err := Read(dir, "lint")
	require.NoError(t, err)
	assert.False(t, rec.Found)
}

func TestRunEmptyCommand(t *testing.T) {
	_, err := Run(context.Background(), RunOptions{Name: "x", TracesDir: t.TempDir()})
	assert.Error(t, err)
}

func TestReadUnparseable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir, "tests"), []byte("Exit code: banana\n"), 0o644))

	rec, err := Read(dir, "tests")
	require.NoError(t, err)
	assert.True(t, rec.Found)
	assert.False(t, rec.Parsed)
	assert.False(t, rec.Passed())

	require.NoError(t, os.WriteFile(Path(dir, "lint"), []byte("garbage\n"), 0o644))
	rec, err = Read(dir, "lint")
	require.NoError(t, err)
	assert.False(t, rec.Parsed)
}

func TestIsTestFile(t *testing.T) {
	tests := map[string]bool{
		"tests/mvp/test_feature.py": true,
		"test/unit/helpers.py":      true,
		"src/app_test.go":           true,
		"web/button_test.tsx":       true,
		"src/app.py":                false,
		"src/testing/util.py":       false,
	}
	for path, want := range tests {
		assert.Equal(t, want, IsTestFile(path), path)
	}
}

func TestBuildTestCommand(t *testing.T) {
	base := []string{"pytest", "-q"}
	files := []string{"src/app.py", "tests/test_app.py", "tests/test_flaky.py"}

	assert.Equal(t, []string{"pytest", "-q", "tests/test_app.py"},
		BuildTestCommand(base, files, ScopeChanged, []string{"tests/test_flaky.py"}))
	assert.Equal(t, base, BuildTestCommand(base, files, ScopeAll, nil))
	assert.Equal(t, base, BuildTestCommand(base, []string{"src/app.py"}, ScopeChanged, nil))
	assert.Equal(t, base, BuildTestCommand(base, nil, ScopeChanged, nil))

	got := BuildTestCommand(base, files, ScopeChanged, nil)
	got[0] = "mutated"
	assert.Equal(t, "pytest", base[0], "base is not aliased")
}

func TestBuildLintCommand(t *testing.T) {
	base := []string{"ruff", "check"}
	files := []string{"src/app.py", "README.md", "web/main.ts"}

	assert.Equal(t, []string{"ruff", "check", "src/app.py", "web/main.ts"}, BuildLintCommand(base, files, ScopeChanged))
	assert.Equal(t, base, BuildLintCommand(base, files, ScopeAll))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "pytest -q --tb=short", Describe([]string{"pytest", "-q", "tests/", "--tb=short"}))
	assert.Equal(t, "No command", Describe(nil))
}
