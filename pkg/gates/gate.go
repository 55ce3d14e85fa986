// Package gates holds the independent pass/fail checks a phase must clear.
package gates

import (
	"context"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/integrity"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/logging"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/vcs"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/workspace"
)

// Gate is one verification step of the judge.
type Gate interface {
	// Name returns the unique identifier used in plans and verdicts (e.g., "drift")
	Name() string

	// Description returns a human-readable summary of what the gate checks
	Description() string

	// IsEnabled reports whether the phase configures this gate
	IsEnabled(phase *plan.Phase) bool

	// Run performs the check and returns its issues; none means the gate passed.
	// A returned error is a fault in the gate itself, not a failed check.
	Run(ctx context.Context, phase *plan.Phase, p *plan.Plan, rc *RunContext) ([]string, error)
}

// Result is the outcome of one gate.
type Result struct {
	Gate   string   `json:"gate"`
	Issues []string `json:"issues"`
}

// Passed reports whether the gate produced no issues.
func (r Result) Passed() bool {
	return len(r.Issues) == 0
}

// RunContext carries what gates need to know about the current run.
type RunContext struct {
	Root      string
	TracesDir string
	// Baseline is the commit recorded when the phase started.
	Baseline string
	Changes  *vcs.Changes
	// Context is the phase's mutable context record, if loaded.
	Context   *state.PhaseContext
	Workspace *workspace.Guard
	Integrity *integrity.Guard
	Logger    *logging.Logger
}

// ChangedFiles returns the change set, empty when none was computed.
func (rc *RunContext) ChangedFiles() []string {
	if rc == nil || rc.Changes == nil {
		return nil
	}
	return rc.Changes.Files
}

func (rc *RunContext) logger() *logging.Logger {
	if rc == nil || rc.Logger == nil {
		return logging.NewNop()
	}
	return rc.Logger
}
