package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/scope"
)

// maxListed caps file lists in issue text.
const maxListed = 10

// DriftGate rejects forbidden changes and more out-of-scope changes than the
// phase allows.
type DriftGate struct{}

// Name implements Gate.
func (DriftGate) Name() string { return "drift" }

// Description implements Gate.
func (DriftGate) Description() string {
	return "Changes stay within the phase scope and avoid forbidden files"
}

// IsEnabled implements Gate.
func (DriftGate) IsEnabled(phase *plan.Phase) bool {
	return phase.Gates.Drift != nil || len(phase.DriftRules.ForbidChanges) > 0
}

// Run implements Gate. Forbidden files are reported once, in their own issue,
// and do not count against the out-of-scope allowance.
func (DriftGate) Run(_ context.Context, phase *plan.Phase, _ *plan.Plan, rc *RunContext) ([]string, error) {
	changed := rc.ChangedFiles()
	if len(changed) == 0 {
		rc.logger().Infof("drift: no changes detected for %s", phase.ID)
		return nil, nil
	}

	var issues []string

	forbidden := scope.CheckForbidden(changed, phase.DriftRules.ForbidChanges)
	if len(forbidden) > 0 {
		var sb strings.Builder
		sb.WriteString("Forbidden files changed (these require a separate phase):\n")
		writeList(&sb, forbidden)
		sb.WriteString("\n\nTo fix:")
		for _, hint := range restoreHints(rc, forbidden, len(forbidden)) {
			sb.WriteString("\n  " + hint)
		}
		issues = append(issues, sb.String())
	}

	if phase.Gates.Drift == nil {
		return issues, nil
	}

	res := scope.Classify(changed, phase.Scope.Include, phase.Scope.Exclude)
	outOfScope := without(res.OutOfScope, forbidden)
	allowed := phase.Gates.Drift.AllowedOutOfScopeChanges
	if len(outOfScope) > allowed {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Out-of-scope changes detected (%d files, %d allowed):\n", len(outOfScope), allowed)
		writeList(&sb, outOfScope)
		sb.WriteString("\n\nOptions to fix:")
		hints := restoreHints(rc, outOfScope, 3)
		for i, hint := range hints {
			fmt.Fprintf(&sb, "\n  %d. %s", i+1, hint)
		}
		fmt.Fprintf(&sb, "\n  %d. Update the scope of %s in .repo/plan.yaml", len(hints)+1, phase.ID)
		fmt.Fprintf(&sb, "\n  %d. Split the out-of-scope work into a separate phase", len(hints)+2)
		issues = append(issues, sb.String())
	}
	return issues, nil
}

func writeList(sb *strings.Builder, files []string) {
	for i, f := range files {
		if i == maxListed {
			fmt.Fprintf(sb, "\n  ... and %d more", len(files)-maxListed)
			return
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("  - " + f)
	}
}

// restoreHints builds git commands that undo changes to files, splitting
// uncommitted edits from files only changed by commits since the baseline.
// At most limit files are named per command.
func restoreHints(rc *RunContext, files []string, limit int) []string {
	uncommitted, committed := files, []string(nil)
	if rc.Changes != nil {
		uncommitted, committed = rc.Changes.Split(files)
	}

	var hints []string
	if len(uncommitted) > 0 {
		hints = append(hints, "Revert uncommitted changes: git restore --worktree --staged -- "+joinLimited(uncommitted, limit))
	}
	if len(committed) > 0 {
		if rc.Baseline != "" {
			hints = append(hints, fmt.Sprintf("Restore committed files to baseline: git restore --source=%s -- %s", rc.Baseline, joinLimited(committed, limit)))
		} else {
			hints = append(hints, "Revert committed changes: git revert <commits> (or git restore --source=<baseline> -- "+joinLimited(committed, limit)+")")
		}
	}
	return hints
}

func joinLimited(files []string, limit int) string {
	if len(files) <= limit {
		return strings.Join(files, " ")
	}
	return fmt.Sprintf("%s (and %d more)", strings.Join(files[:limit], " "), len(files)-limit)
}

func without(files, drop []string) []string {
	if len(drop) == 0 {
		return files
	}
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	var out []string
	for _, f := range files {
		if !skip[f] {
			out = append(out, f)
		}
	}
	return out
}
