package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/integrity"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/lock"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/vcs"
)

func newStartCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "start <phase>",
		Short: "Activate a phase and record its baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.start(cmd.Context(), args[0], force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an active phase that has not been approved")
	return cmd
}

func newNextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Advance from an approved phase to the next one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.next(cmd.Context())
		},
	}
}

func (a *app) acquire(ctx context.Context) (*lock.Handle, error) {
	return lock.AcquireWithOptions(ctx, a.paths.LockFile, lock.Options{
		Timeout:      a.cfg.Lock.Timeout,
		PollInterval: a.cfg.Lock.PollInterval,
	})
}

func (a *app) release(h *lock.Handle) {
	if err := h.Release(); err != nil {
		a.log.Warnf("failed to release lock: %v", err)
	}
}

// loadPlan loads and validates the plan, printing schema problems.
func (a *app) loadPlan() (*plan.Plan, error) {
	p, err := plan.LoadAndValidate(a.paths.Plan)
	var ve *plan.ValidationError
	if errors.As(err, &ve) {
		a.println(ui.Fail("Plan validation failed:"))
		a.print(ui.List(ve.Errors, 0))
		return nil, fmt.Errorf("%s is invalid", a.rel(a.paths.Plan))
	}
	return p, err
}

func (a *app) print(s string) {
	fmt.Fprint(a.out, s)
}

func (a *app) start(ctx context.Context, phaseID string, force bool) error {
	h, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer a.release(h)

	p, err := a.loadPlan()
	if err != nil {
		return err
	}
	phase, err := p.Phase(phaseID)
	if err != nil {
		return err
	}

	cur, err := a.store.LoadCurrent()
	switch {
	case errors.Is(err, state.ErrNoActivePhase):
	case err != nil:
		return fmt.Errorf("failed to load current phase: %w", err)
	case cur.PhaseID != phaseID && !a.verdicts.IsApproved(cur.PhaseID) && !force:
		return fmt.Errorf("phase %s is still active and not approved (use --force to replace it)", cur.PhaseID)
	}

	a.println(ui.Header("Starting phase " + phaseID))
	return a.activate(phase)
}

// activate records phase as current with a fresh baseline and binding.
func (a *app) activate(phase *plan.Phase) error {
	baseline, err := vcs.HeadSHA(a.root)
	if err != nil {
		a.log.Warnf("no baseline for %s: %v", phase.ID, err)
		a.println(ui.Warn("Could not record a baseline commit: %v", err))
	}
	planSHA, manifestSHA, err := integrity.CaptureBinding(a.paths.Plan, a.paths.Manifest)
	if err != nil {
		return err
	}

	cur := &state.Current{
		PhaseID:     phase.ID,
		StartedAt:   time.Now().UTC(),
		BaselineSHA: baseline,
		PlanSHA:     planSHA,
		ManifestSHA: manifestSHA,
	}
	if err := a.store.SaveCurrent(cur); err != nil {
		return err
	}
	if _, err := a.store.UpdateContext(phase.ID, func(pc *state.PhaseContext) error {
		pc.BaselineSHA = baseline
		return nil
	}); err != nil {
		return err
	}
	a.log.Infof("phase %s started at %s", phase.ID, shortSHA(baseline))

	a.println(ui.Pass("Phase %s activated", phase.ID))
	if baseline != "" {
		a.println(ui.Muted("   Baseline: " + shortSHA(baseline)))
	}
	a.println()
	a.printBrief(phase)
	a.println("Next steps:")
	a.println("  1. Implement the phase requirements")
	a.printf("  2. Run: phasectl review %s\n", phase.ID)
	return nil
}

func (a *app) printBrief(phase *plan.Phase) {
	var body strings.Builder
	body.WriteString(ui.Header(phase.ID))
	if phase.Description != "" {
		body.WriteString("\n" + phase.Description)
	}
	if brief := strings.TrimSpace(phase.Brief); brief != "" {
		body.WriteString("\n\n" + brief)
	}
	a.println(ui.BoxStyle.Render(body.String()))
	a.println()

	if len(phase.Scope.Include) > 0 || len(phase.Scope.Exclude) > 0 {
		a.println("Scope:")
		for _, pattern := range phase.Scope.Include {
			a.println("   " + ui.Pass("%s", pattern))
		}
		for _, pattern := range phase.Scope.Exclude {
			a.println("   " + ui.Fail("%s", pattern))
		}
		a.println()
	}
	if len(phase.Artifacts.MustExist) > 0 {
		a.println("Required artifacts:")
		a.print(ui.List(phase.Artifacts.MustExist, 0))
		a.println()
	}
	if len(phase.DriftRules.ForbidChanges) > 0 {
		a.println("Forbidden changes:")
		a.print(ui.List(phase.DriftRules.ForbidChanges, 0))
		a.println()
	}
}

func (a *app) next(ctx context.Context) error {
	h, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer a.release(h)

	cur, err := a.store.LoadCurrent()
	if errors.Is(err, state.ErrNoActivePhase) {
		return errors.New("no active phase")
	}
	if err != nil {
		return err
	}

	if !a.verdicts.IsApproved(cur.PhaseID) {
		a.println(ui.Fail("Phase %s is not approved yet", cur.PhaseID))
		a.printf("   Run: phasectl review %s\n", cur.PhaseID)
		return errRejected
	}

	p, err := a.loadPlan()
	if err != nil {
		return err
	}
	nextPhase, err := p.Next(cur.PhaseID)
	if err != nil {
		return err
	}
	if nextPhase == nil {
		if err := a.store.ClearCurrent(); err != nil {
			return err
		}
		a.log.Infof("plan %s complete", p.ID)
		a.println(ui.Pass("All phases complete!"))
		return nil
	}

	a.println(ui.Pass("Phase %s complete", cur.PhaseID))
	a.println(ui.Header("Next phase: " + nextPhase.ID))
	return a.activate(nextPhase)
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
