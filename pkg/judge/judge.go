// Package judge evaluates a phase and records the verdict.
//
// One evaluation walks a fixed sequence of states while holding the
// repository lock:
//
//	Idle -> LockAcquired -> PlanValidated -> IntegrityChecked
//	     -> GatesEvaluated -> VerdictWritten -> Idle
//
// A plan, tamper or binding failure writes a rejection directly from the
// state where it was found and no gate runs.
package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/config"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/gates"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/integrity"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/lock"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/logging"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/vcs"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/verdict"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/workspace"
)

// State is a step of the evaluation state machine.
type State string

const (
	StateIdle             State = "Idle"
	StateLockAcquired     State = "LockAcquired"
	StatePlanValidated    State = "PlanValidated"
	StateIntegrityChecked State = "IntegrityChecked"
	StateGatesEvaluated   State = "GatesEvaluated"
	StateVerdictWritten   State = "VerdictWritten"
)

// Context counters updated after every verdict.
const (
	CounterRuns       = "judge_runs"
	CounterApprovals  = "approvals"
	CounterRejections = "rejections"
)

// ErrPhaseNotActive is returned when the requested phase is not the one
// recorded by start.
var ErrPhaseNotActive = errors.New("phase is not the active phase")

// ChangeProvider computes a phase's change set.
type ChangeProvider interface {
	ChangedFiles(ctx context.Context, baseline, baseBranch string) (*vcs.Changes, error)
}

// Deps are the collaborators of a Judge.
type Deps struct {
	Paths        config.Paths
	LockTimeout  time.Duration
	PollInterval time.Duration
	// SelfPath is the evaluator's manifest entry, relative to the root.
	SelfPath string

	Registry  *gates.Registry
	Changes   ChangeProvider
	Store     *state.Store
	Verdicts  *verdict.Writer
	Workspace *workspace.Guard
	Logger    *logging.Logger

	// OnTransition is called on every state change.
	OnTransition func(from, to State)
}

// Outcome describes a finished evaluation.
type Outcome struct {
	Verdict  *verdict.Verdict
	Category verdict.Category
	// Trail lists every state visited, starting and ending with Idle.
	Trail []State
	// GatesRun is the number of gates that produced a result.
	GatesRun int
}

// Approved reports whether the verdict passed.
func (o *Outcome) Approved() bool {
	return o != nil && o.Verdict != nil && o.Verdict.Passed
}

// Judge evaluates phases.
type Judge struct {
	deps   Deps
	engine *gates.Engine
	log    *logging.Logger
}

// New creates a judge. Registry defaults to gates.DefaultRegistry(nil).
func New(deps Deps) *Judge {
	if deps.Registry == nil {
		deps.Registry = gates.DefaultRegistry(nil)
	}
	if deps.Store == nil {
		deps.Store = state.NewStore(deps.Paths.StateDir)
	}
	if deps.Verdicts == nil {
		deps.Verdicts = verdict.NewWriter(deps.Paths.CritiquesDir)
	}
	if deps.Changes == nil {
		deps.Changes = vcs.New(deps.Paths.Root)
	}
	log := deps.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Judge{deps: deps, engine: gates.NewEngine(deps.Registry), log: log}
}

// run tracks one evaluation's progress through the states.
type run struct {
	j       *Judge
	current State
	outcome *Outcome
}

func (r *run) to(next State) {
	prev := r.current
	r.current = next
	r.outcome.Trail = append(r.outcome.Trail, next)
	r.j.log.Debugf("judge: %s -> %s", prev, next)
	if r.j.deps.OnTransition != nil {
		r.j.deps.OnTransition(prev, next)
	}
}

// Evaluate judges phaseID and writes its verdict. The returned error is
// operational: lock timeout, a phase that is not active, or a failure to
// read state or persist the verdict. A rejection is not an error.
func (j *Judge) Evaluate(ctx context.Context, phaseID string) (*Outcome, error) {
	r := &run{j: j, current: StateIdle, outcome: &Outcome{Trail: []State{StateIdle}}}

	held, err := lock.AcquireWithOptions(ctx, j.deps.Paths.LockFile, lock.Options{
		Timeout:      j.deps.LockTimeout,
		PollInterval: j.deps.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := held.Release(); err != nil {
			j.log.Warnf("failed to release lock: %v", err)
		}
		r.to(StateIdle)
	}()
	r.to(StateLockAcquired)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cur, err := j.deps.Store.LoadCurrent()
	if errors.Is(err, state.ErrNoActivePhase) {
		return nil, fmt.Errorf("%w: %s (no phase started)", ErrPhaseNotActive, phaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current phase: %w", err)
	}
	if cur.PhaseID != phaseID {
		return nil, fmt.Errorf("%w: %s (active phase is %s)", ErrPhaseNotActive, phaseID, cur.PhaseID)
	}

	p, phase, issues := j.loadPlan(phaseID)
	if len(issues) > 0 {
		return r.reject(phaseID, verdict.CategoryPlan, issues, nil)
	}
	r.to(StatePlanValidated)

	guard, err := integrity.NewGuard(integrity.Options{
		Root:         j.deps.Paths.Root,
		PlanPath:     j.deps.Paths.Plan,
		ManifestPath: j.deps.Paths.Manifest,
		SelfPath:     j.deps.SelfPath,
		Policy:       PolicyFor(p),
	})
	if err != nil {
		return r.reject(phaseID, verdict.CategoryPlan, []string{err.Error()}, nil)
	}

	if err := guard.SelfCheck(); err != nil {
		var tamper *integrity.TamperError
		if !errors.As(err, &tamper) {
			return nil, err
		}
		j.log.Errorf("evaluator tamper detected: %s", tamper.Path)
		return r.reject(phaseID, verdict.CategoryTamper, []string{tamper.Issue()}, nil)
	}

	changes := j.changes(ctx, phaseID, cur.BaselineSHA, p.Base())

	if issues := guard.VerifyManifest(phaseID, changes.Files); len(issues) > 0 {
		return r.reject(phaseID, verdict.CategoryTamper, issues, nil)
	}
	if issues := guard.VerifyPhaseBinding(cur); len(issues) > 0 {
		return r.reject(phaseID, verdict.CategoryStateCorruption, issues, nil)
	}
	r.to(StateIntegrityChecked)

	pc, err := j.deps.Store.LoadContext(phaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load phase context: %w", err)
	}

	for _, w := range changes.Warnings {
		j.log.Warnf("%s", w)
	}
	if len(changes.Files) == 0 {
		j.log.Infof("no changes detected for %s", phaseID)
	}

	rc := &gates.RunContext{
		Root:      j.deps.Paths.Root,
		TracesDir: j.deps.Paths.TracesDir,
		Baseline:  cur.BaselineSHA,
		Changes:   changes,
		Context:   pc,
		Workspace: j.deps.Workspace,
		Integrity: guard,
		Logger:    j.log,
	}
	results := j.engine.Run(ctx, phase, p, rc)
	r.outcome.GatesRun = len(results)
	r.to(StateGatesEvaluated)

	return r.finish(verdict.New(phaseID, verdict.CategoryGates, gates.Issues(results), results))
}

func (j *Judge) loadPlan(phaseID string) (*plan.Plan, *plan.Phase, []string) {
	p, err := plan.LoadAndValidate(j.deps.Paths.Plan)
	if err != nil {
		var ve *plan.ValidationError
		if errors.As(err, &ve) {
			return nil, nil, ve.Errors
		}
		return nil, nil, []string{err.Error()}
	}
	phase, err := p.Phase(phaseID)
	if err != nil {
		return nil, nil, []string{err.Error()}
	}
	return p, phase, nil
}

// changes never fails the run: provider errors become warnings over an
// empty change set.
func (j *Judge) changes(ctx context.Context, phaseID, baseline, baseBranch string) *vcs.Changes {
	changes, err := j.deps.Changes.ChangedFiles(ctx, baseline, baseBranch)
	if err != nil {
		j.log.Warnf("could not compute changes for %s: %v", phaseID, err)
		return &vcs.Changes{Warnings: []string{fmt.Sprintf("Change detection failed: %v", err)}}
	}
	return changes
}

// PolicyFor converts the plan's protocol lock, nil when it has none.
func PolicyFor(p *plan.Plan) *integrity.Policy {
	if p.ProtocolLock == nil {
		return nil
	}
	return &integrity.Policy{
		ProtectedGlobs: p.ProtocolLock.ProtectedGlobs,
		AllowInPhases:  p.ProtocolLock.AllowInPhases,
	}
}

func (r *run) reject(phaseID string, category verdict.Category, issues []string, results []gates.Result) (*Outcome, error) {
	r.j.log.Warnf("rejecting %s before gates (%s): %d issue(s)", phaseID, category, len(issues))
	return r.finish(verdict.New(phaseID, category, issues, results))
}

func (r *run) finish(v *verdict.Verdict) (*Outcome, error) {
	if err := r.j.deps.Verdicts.Write(v); err != nil {
		return nil, fmt.Errorf("failed to write verdict: %w", err)
	}
	r.outcome.Verdict = v
	r.outcome.Category = v.Category
	r.to(StateVerdictWritten)

	_, err := r.j.deps.Store.UpdateContext(v.PhaseID, func(pc *state.PhaseContext) error {
		pc.Increment(CounterRuns)
		if v.Passed {
			pc.Increment(CounterApprovals)
		} else {
			pc.Increment(CounterRejections)
		}
		return nil
	})
	if err != nil {
		r.j.log.Warnf("failed to update counters for %s: %v", v.PhaseID, err)
	}

	if v.Passed {
		r.j.log.Infof("phase %s approved", v.PhaseID)
	} else {
		r.j.log.Infof("phase %s rejected with %d issue(s)", v.PhaseID, v.IssueCount)
	}
	return r.outcome, nil
}
