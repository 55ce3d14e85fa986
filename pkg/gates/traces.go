package gates

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/trace"
)

// Trace names written by the review command.
const (
	TraceTests            = "tests"
	TraceUnitTests        = "tests_unit"
	TraceIntegrationTests = "tests_integration"
	TraceLint             = "lint"
)

// TestsGate checks recorded test runs. A phase with unit or integration
// suites is checked per suite; otherwise the single "tests" trace is used.
type TestsGate struct{}

// Name implements Gate.
func (TestsGate) Name() string { return "tests" }

// Description implements Gate.
func (TestsGate) Description() string {
	return "Recorded test runs passed"
}

// IsEnabled implements Gate.
func (TestsGate) IsEnabled(phase *plan.Phase) bool {
	g := phase.Gates.Tests
	return g != nil && (g.MustPass || g.Split())
}

// Run implements Gate.
func (TestsGate) Run(_ context.Context, phase *plan.Phase, _ *plan.Plan, rc *RunContext) ([]string, error) {
	g := phase.Gates.Tests
	if !g.Split() {
		return checkTrace(rc, TraceTests, "Tests", false)
	}

	var issues []string
	suites := []struct {
		trace string
		label string
		suite *plan.TestSuite
	}{
		{TraceUnitTests, "Unit tests", g.Unit},
		{TraceIntegrationTests, "Integration tests", g.Integration},
	}
	for _, s := range suites {
		if s.suite == nil {
			continue
		}
		found, err := checkTrace(rc, s.trace, s.label, s.suite.AllowSkip)
		if err != nil {
			return nil, err
		}
		issues = append(issues, found...)
	}
	return issues, nil
}

// LintGate checks the recorded lint run.
type LintGate struct{}

// Name implements Gate.
func (LintGate) Name() string { return "lint" }

// Description implements Gate.
func (LintGate) Description() string {
	return "Recorded lint run passed"
}

// IsEnabled implements Gate.
func (LintGate) IsEnabled(phase *plan.Phase) bool {
	return phase.Gates.Lint != nil && phase.Gates.Lint.MustPass
}

// Run implements Gate.
func (LintGate) Run(_ context.Context, _ *plan.Phase, _ *plan.Plan, rc *RunContext) ([]string, error) {
	return checkTrace(rc, TraceLint, "Linting", false)
}

// checkTrace turns a trace record into issues. With allowSkip a missing or
// failing run is logged as a warning instead.
func checkTrace(rc *RunContext, name, label string, allowSkip bool) ([]string, error) {
	rec, err := trace.Read(rc.TracesDir, name)
	if err != nil {
		return nil, err
	}
	if rec.Passed() {
		return nil, nil
	}

	var issue string
	switch {
	case !rec.Found:
		issue = fmt.Sprintf("%s %s not been run yet", label, verb(label))
	case !rec.Parsed:
		issue = fmt.Sprintf("Could not parse %s results from trace", strings.ToLower(label))
	case rec.TimedOut:
		issue = fmt.Sprintf("%s timed out after %s. See %s", label, rec.Timeout, displayPath(rc, rec.Path))
	default:
		issue = fmt.Sprintf("%s failed with exit code %d. See %s", label, rec.ExitCode, displayPath(rc, rec.Path))
	}

	if allowSkip {
		rc.logger().Warnf("%s (allow_skip set, not blocking)", issue)
		return nil, nil
	}
	return []string{issue}, nil
}

func verb(label string) string {
	if strings.HasSuffix(label, "s") {
		return "have"
	}
	return "has"
}

func displayPath(rc *RunContext, path string) string {
	if rc.Root == "" {
		return path
	}
	rel, err := filepath.Rel(rc.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
