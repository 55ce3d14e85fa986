package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/gates"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/judge"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/review"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/scope"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/trace"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/vcs"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/verdict"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/workspace"
)

const maxListedChanges = 10

func newReviewCmd(a *app) *cobra.Command {
	var skipTraces bool
	cmd := &cobra.Command{
		Use:   "review <phase>",
		Short: "Run the phase's tests and lint, then judge it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.review(cmd.Context(), args[0], skipTraces)
		},
	}
	cmd.Flags().BoolVar(&skipTraces, "no-run", false, "judge the existing traces without running tests or lint")
	return cmd
}

func newJudgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "judge <phase>",
		Short: "Evaluate the phase's gates and write a verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.judge(cmd.Context(), args[0])
		},
	}
}

// requireActive returns the pointer when phaseID is the active phase.
func (a *app) requireActive(phaseID string) (*state.Current, error) {
	cur, err := a.store.LoadCurrent()
	if errors.Is(err, state.ErrNoActivePhase) {
		return nil, fmt.Errorf("phase %s is not active (run: phasectl start %s)", phaseID, phaseID)
	}
	if err != nil {
		return nil, err
	}
	if cur.PhaseID != phaseID {
		return nil, fmt.Errorf("phase %s is not active; the active phase is %s", phaseID, cur.PhaseID)
	}
	return cur, nil
}

func (a *app) review(ctx context.Context, phaseID string, skipTraces bool) error {
	cur, err := a.requireActive(phaseID)
	if err != nil {
		return err
	}
	a.println(ui.Header("Reviewing phase " + phaseID))
	a.println()

	p, err := plan.LoadAndValidate(a.paths.Plan)
	if err != nil {
		a.println(ui.Warn("Plan problem, skipping test and lint runs: %v", err))
		a.println()
		return a.judge(ctx, phaseID)
	}
	phase, err := p.Phase(phaseID)
	if err != nil {
		return err
	}

	files := a.showChanges(ctx, cur, p, phase)

	if !skipTraces {
		if err := a.lockedTraces(ctx, p, phase, files); err != nil {
			return err
		}
	}

	return a.judge(ctx, phaseID)
}

// lockedTraces runs the traces under the repository lock. The lock is
// released before judging because Evaluate takes it itself.
func (a *app) lockedTraces(ctx context.Context, p *plan.Plan, phase *plan.Phase, files []string) error {
	h, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer a.release(h)

	pc, err := a.store.LoadContext(phase.ID)
	if err != nil {
		return err
	}
	a.runTraces(ctx, p, phase, pc, files)
	return nil
}

func (a *app) showChanges(ctx context.Context, cur *state.Current, p *plan.Plan, phase *plan.Phase) []string {
	changes, err := vcs.New(a.root).ChangedFiles(ctx, cur.BaselineSHA, p.Base())
	if err != nil {
		a.println(ui.Warn("Could not list changed files: %v", err))
		a.println()
		return nil
	}
	for _, w := range changes.Warnings {
		a.println(ui.Warn("%s", w))
	}
	if len(changes.Files) == 0 {
		a.println(ui.Warn("No changed files detected"))
		a.println()
		return nil
	}

	a.printf("Changed files (%d):\n", len(changes.Files))
	a.print(ui.List(changes.Files, maxListedChanges))
	if len(phase.Scope.Include) > 0 {
		res := scope.Classify(changes.Files, phase.Scope.Include, phase.Scope.Exclude)
		a.println(ui.Muted(fmt.Sprintf("   %d in scope, %d out of scope", len(res.InScope), len(res.OutOfScope))))
	}
	a.println()
	return changes.Files
}

// runTraces records the test and lint runs the phase's gates will read.
func (a *app) runTraces(ctx context.Context, p *plan.Plan, phase *plan.Phase, pc *state.PhaseContext, files []string) {
	baseTest := []string(p.TestCommand)
	if len(pc.TestCmd) > 0 {
		baseTest = pc.TestCmd
	}

	if tests := phase.Gates.Tests; tests != nil {
		var quarantine []string
		for _, q := range tests.Quarantine {
			quarantine = append(quarantine, q.Path)
		}
		a.println("Running tests...")
		switch {
		case tests.Split():
			suites := []struct {
				name  string
				label string
				suite *plan.TestSuite
			}{
				{gates.TraceUnitTests, "Unit tests", tests.Unit},
				{gates.TraceIntegrationTests, "Integration tests", tests.Integration},
			}
			for _, s := range suites {
				if s.suite == nil {
					continue
				}
				base := []string(s.suite.Command)
				if len(base) == 0 {
					base = baseTest
				}
				a.recordTrace(ctx, s.name, s.label, trace.BuildTestCommand(base, files, tests.TestScope, quarantine))
			}
		case tests.MustPass:
			a.recordTrace(ctx, gates.TraceTests, "Tests", trace.BuildTestCommand(baseTest, files, tests.TestScope, quarantine))
		}
		a.println()
	}

	if lint := phase.Gates.Lint; lint != nil && lint.MustPass {
		base := []string(p.LintCommand)
		if len(pc.LintCmd) > 0 {
			base = pc.LintCmd
		}
		a.println("Running lint...")
		a.recordTrace(ctx, gates.TraceLint, "Lint", trace.BuildLintCommand(base, files, lint.LintScope))
		a.println()
	}
}

func (a *app) recordTrace(ctx context.Context, name, label string, argv []string) {
	if len(argv) == 0 {
		a.println(ui.Warn("   %s: no command configured (set test_command/lint_command in the plan)", label))
		return
	}
	a.printf("   %s: %s\n", label, trace.Describe(argv))

	rec, err := trace.Run(ctx, trace.RunOptions{
		Name:      name,
		Command:   argv,
		Dir:       a.root,
		TracesDir: a.paths.TracesDir,
		Timeout:   a.cfg.Trace.Timeout,
	})
	switch {
	case errors.Is(err, trace.ErrToolNotFound):
		a.println(ui.Warn("   %s: %v", label, err))
	case err != nil:
		a.log.Errorf("trace %s failed: %v", name, err)
		a.println(ui.Fail("   %s: %v", label, err))
	case rec.TimedOut:
		a.println("   " + ui.Fail("timed out after %s", rec.Timeout))
	case rec.ExitCode == 0:
		a.println("   " + ui.Pass("pass"))
	default:
		a.println("   " + ui.Fail("failed (exit %d)", rec.ExitCode))
	}
}

func (a *app) reviewSettings() review.Settings {
	s := review.DefaultSettings()
	r := a.cfg.Review
	if r.Model != "" {
		s.Model = r.Model
	}
	if r.MaxTokens > 0 {
		s.MaxTokens = r.MaxTokens
	}
	s.Temperature = r.Temperature
	if r.Timeout > 0 {
		s.Timeout = r.Timeout
	}
	if r.MaxContextTokens > 0 {
		s.MaxContextTokens = r.MaxContextTokens
	}
	return s
}

func (a *app) newJudge() (*judge.Judge, error) {
	guard, err := workspace.NewGuard(a.root)
	if err != nil {
		return nil, err
	}
	log := a.log.Named("judge")
	llm := &gates.LLMReviewGate{
		APIKeyEnv: a.cfg.Review.APIKeyEnv,
		BaseURL:   a.cfg.Review.BaseURL,
		Settings:  a.reviewSettings(),
	}
	return judge.New(judge.Deps{
		Paths:        a.paths,
		LockTimeout:  a.cfg.Lock.Timeout,
		PollInterval: a.cfg.Lock.PollInterval,
		SelfPath:     a.cfg.Judge.SelfPath,
		Registry:     gates.DefaultRegistry(llm),
		Changes:      vcs.New(a.root),
		Store:        a.store,
		Verdicts:     a.verdicts,
		Workspace:    guard,
		Logger:       log,
		OnTransition: func(from, to judge.State) {
			log.Debugf("state %s -> %s", from, to)
		},
	}), nil
}

func (a *app) judge(ctx context.Context, phaseID string) error {
	j, err := a.newJudge()
	if err != nil {
		return err
	}
	a.println("Invoking judge...")
	out, err := j.Evaluate(ctx, phaseID)
	if err != nil {
		return err
	}
	a.println()
	a.printOutcome(out)
	if !out.Approved() {
		return errRejected
	}
	return nil
}

func (a *app) printOutcome(out *judge.Outcome) {
	v := out.Verdict
	if v.Passed {
		a.println(ui.Pass("Phase %s approved", v.PhaseID))
		a.println(ui.Muted("   " + a.rel(a.verdicts.ApprovalPath(v.PhaseID))))
		a.println()
		a.println("Next: phasectl next")
		return
	}

	switch v.Category {
	case verdict.CategoryTamper:
		a.println(ui.Fail("Phase %s rejected: protocol integrity violation", v.PhaseID))
	case verdict.CategoryStateCorruption:
		a.println(ui.Fail("Phase %s rejected: phase binding broken", v.PhaseID))
	case verdict.CategoryPlan:
		a.println(ui.Fail("Phase %s rejected: plan error", v.PhaseID))
	default:
		a.println(ui.Fail("Phase %s rejected with %d issue(s)", v.PhaseID, v.IssueCount))
	}
	a.println()
	for _, r := range v.GateResults {
		if r.Passed() {
			a.println("   " + ui.Pass("%s", r.Gate))
		} else {
			a.println("   " + ui.Fail("%s (%d)", r.Gate, len(r.Issues)))
		}
	}
	if len(v.GateResults) > 0 {
		a.println()
	}
	for _, issue := range v.Issues {
		a.println(ui.Indent("- "+issue, 3))
	}
	a.println()
	a.printf("Critique: %s\n", a.rel(a.verdicts.RejectionPath(v.PhaseID)))
}
