package trace

import (
	"path"
	"strings"
)

// Scope modes for test_scope and lint_scope.
const (
	ScopeChanged = "scope"
	ScopeAll     = "all"
)

var lintableExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".cpp": true, ".c": true, ".h": true, ".hpp": true,
	".go": true, ".rs": true, ".rb": true, ".php": true, ".swift": true,
}

// IsTestFile reports whether p looks like a test: anything under a "test"
// directory, or a test_* / *_test.{py,ts,tsx,go} file.
func IsTestFile(p string) bool {
	p = strings.ReplaceAll(p, "\\", "/")
	dir, name := path.Split(p)
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "test" {
			return true
		}
	}
	name = strings.ToLower(name)
	return strings.HasPrefix(name, "test_") ||
		strings.HasSuffix(name, "_test.py") ||
		strings.HasSuffix(name, "_test.ts") ||
		strings.HasSuffix(name, "_test.tsx") ||
		strings.HasSuffix(name, "_test.go")
}

// IsLintable reports whether p has a source extension linters understand.
func IsLintable(p string) bool {
	return lintableExtensions[strings.ToLower(path.Ext(p))]
}

// BuildTestCommand appends the test files among files to base when mode is
// ScopeChanged. Quarantined paths are dropped. With nothing left the base
// command runs unchanged.
func BuildTestCommand(base, files []string, mode string, quarantine []string) []string {
	skip := make(map[string]bool, len(quarantine))
	for _, q := range quarantine {
		skip[q] = true
	}
	return build(base, files, mode, func(f string) bool {
		return IsTestFile(f) && !skip[f]
	})
}

// BuildLintCommand appends the lintable files among files to base when mode
// is ScopeChanged.
func BuildLintCommand(base, files []string, mode string) []string {
	return build(base, files, mode, IsLintable)
}

func build(base, files []string, mode string, keep func(string) bool) []string {
	cmd := append([]string(nil), base...)
	if mode == ScopeAll || len(files) == 0 {
		return cmd
	}
	for _, f := range files {
		if keep(f) {
			cmd = append(cmd, f)
		}
	}
	return cmd
}

// Describe renders the tool and its flags, for progress output.
func Describe(cmd []string) string {
	if len(cmd) == 0 {
		return "No command"
	}
	parts := []string{cmd[0]}
	for _, arg := range cmd[1:] {
		if strings.HasPrefix(arg, "-") {
			parts = append(parts, arg)
		}
	}
	return strings.Join(parts, " ")
}
