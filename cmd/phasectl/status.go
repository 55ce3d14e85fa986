package main

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/judge"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/verdict"
)

const maxStatusIssues = 5

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active phase and its latest verdict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.status()
		},
	}
}

func (a *app) status() error {
	cur, err := a.store.LoadCurrent()
	if errors.Is(err, state.ErrNoActivePhase) {
		a.println(ui.Muted("No active phase. Run: phasectl start <phase>"))
		return nil
	}
	if err != nil {
		return err
	}

	a.println(ui.Header("Phase " + cur.PhaseID))
	a.printf("   Started:  %s\n", cur.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if cur.BaselineSHA != "" {
		a.printf("   Baseline: %s\n", shortSHA(cur.BaselineSHA))
	}

	pc, err := a.store.LoadContext(cur.PhaseID)
	if err != nil {
		return err
	}
	a.printf("   Mode:     %s\n", pc.Mode)
	if len(pc.TestCmd) > 0 {
		a.printf("   Tests:    %s\n", strings.Join(pc.TestCmd, " "))
	}
	if len(pc.LintCmd) > 0 {
		a.printf("   Lint:     %s\n", strings.Join(pc.LintCmd, " "))
	}
	if runs := pc.Counters[judge.CounterRuns]; runs > 0 {
		a.printf("   Reviews:  %d (%d approved, %d rejected)\n",
			runs, pc.Counters[judge.CounterApprovals], pc.Counters[judge.CounterRejections])
	}
	a.println()

	st, err := a.verdicts.Status(cur.PhaseID)
	if err != nil {
		return err
	}
	switch st {
	case verdict.StateApproved:
		a.println(ui.Pass("Approved"))
		a.println("   Next: phasectl next")
	case verdict.StateRejected:
		a.println(ui.Fail("Rejected"))
		if v, err := a.verdicts.ReadRejection(cur.PhaseID); err == nil {
			a.print(ui.List(v.Issues, maxStatusIssues))
		}
		a.printf("   Critique: %s\n", a.rel(a.verdicts.RejectionPath(cur.PhaseID)))
	default:
		a.println(ui.Muted("Not reviewed yet"))
		a.printf("   Run: phasectl review %s\n", cur.PhaseID)
	}

	if audit := state.NewAudit(a.paths.ScopeAuditDir); audit.HasJustification(cur.PhaseID) {
		a.println()
		a.println(ui.Warn("Scope justification on file: %s", a.rel(filepath.Join(a.paths.ScopeAuditDir, cur.PhaseID+".md"))))
	}
	return nil
}
