package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
)

func newContextCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show or change the active phase's context",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the active phase's context",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.contextShow()
			},
		},
		&cobra.Command{
			Use:   "set-mode <EXPLORE|LOCK>",
			Short: "Switch the active phase between EXPLORE and LOCK",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				mode, err := state.ParseMode(strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				return a.updateContext(cmd.Context(), func(pc *state.PhaseContext) error {
					pc.Mode = mode
					return nil
				}, fmt.Sprintf("Mode set to %s", mode))
			},
		},
		&cobra.Command{
			Use:   "set-test-cmd -- <command...>",
			Short: "Override the plan's test command for the active phase",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.updateContext(cmd.Context(), func(pc *state.PhaseContext) error {
					if err := unlocked(pc, "test"); err != nil {
						return err
					}
					pc.TestCmd = args
					return nil
				}, "Test command set to: "+strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "set-lint-cmd -- <command...>",
			Short: "Override the plan's lint command for the active phase",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.updateContext(cmd.Context(), func(pc *state.PhaseContext) error {
					if err := unlocked(pc, "lint"); err != nil {
						return err
					}
					pc.LintCmd = args
					return nil
				}, "Lint command set to: "+strings.Join(args, " "))
			},
		},
	)
	return cmd
}

func unlocked(pc *state.PhaseContext, what string) error {
	if pc.Mode == state.ModeLock {
		return fmt.Errorf("phase %s is in %s mode; the %s command cannot change", pc.PhaseID, state.ModeLock, what)
	}
	return nil
}

func (a *app) activePhase() (string, error) {
	cur, err := a.store.LoadCurrent()
	if err != nil {
		return "", err
	}
	return cur.PhaseID, nil
}

func (a *app) updateContext(ctx context.Context, fn func(*state.PhaseContext) error, done string) error {
	h, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer a.release(h)

	phaseID, err := a.activePhase()
	if err != nil {
		return err
	}
	if _, err := a.store.UpdateContext(phaseID, fn); err != nil {
		return err
	}
	a.log.Infof("context for %s: %s", phaseID, done)
	a.println(ui.Pass("%s: %s", phaseID, done))
	return nil
}

func (a *app) contextShow() error {
	phaseID, err := a.activePhase()
	if err != nil {
		return err
	}
	pc, err := a.store.LoadContext(phaseID)
	if err != nil {
		return err
	}
	a.println(ui.Header("Context " + pc.PhaseID))
	a.printf("   Mode:     %s\n", pc.Mode)
	a.printf("   Test cmd: %s\n", orPlan(pc.TestCmd))
	a.printf("   Lint cmd: %s\n", orPlan(pc.LintCmd))
	if pc.BaselineSHA != "" {
		a.printf("   Baseline: %s\n", shortSHA(pc.BaselineSHA))
	}
	names := make([]string, 0, len(pc.Counters))
	for name := range pc.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a.printf("   %s: %d\n", name, pc.Counters[name])
	}
	return nil
}

func orPlan(argv []string) string {
	if len(argv) == 0 {
		return ui.Muted("(from plan)")
	}
	return strings.Join(argv, " ")
}
