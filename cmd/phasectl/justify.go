package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/scope"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/vcs"
)

// maxJustificationBytes bounds what is read from stdin.
const maxJustificationBytes = 64 * 1024

func newJustifyScopeCmd(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "justify-scope <phase>",
		Short: "Record why out-of-scope files were changed",
		Long:  "Record a justification for out-of-scope changes, read from --message or stdin. Justifications are kept for human review and do not change gate results.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.justifyScope(cmd.Context(), args[0], message)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "justification text")
	return cmd
}

func (a *app) justifyScope(ctx context.Context, phaseID, message string) error {
	h, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer a.release(h)

	cur, err := a.requireActive(phaseID)
	if err != nil {
		return err
	}
	p, err := a.loadPlan()
	if err != nil {
		return err
	}
	phase, err := p.Phase(phaseID)
	if err != nil {
		return err
	}

	changes, err := vcs.New(a.root).ChangedFiles(ctx, cur.BaselineSHA, p.Base())
	if err != nil {
		return fmt.Errorf("failed to list changed files: %w", err)
	}
	outOfScope := scope.Classify(changes.Files, phase.Scope.Include, phase.Scope.Exclude).OutOfScope
	if len(outOfScope) == 0 {
		a.println(ui.Pass("No out-of-scope changes in %s", phaseID))
		return nil
	}

	a.printf("Out-of-scope files (%d):\n", len(outOfScope))
	a.print(ui.List(outOfScope, maxListedChanges))

	if strings.TrimSpace(message) == "" {
		data, err := io.ReadAll(io.LimitReader(a.in, maxJustificationBytes))
		if err != nil {
			return fmt.Errorf("failed to read justification: %w", err)
		}
		message = string(data)
	}

	path, err := state.NewAudit(a.paths.ScopeAuditDir).SaveJustification(phaseID, outOfScope, message)
	if err != nil {
		return err
	}
	a.log.Infof("scope justification recorded for %s (%d file(s))", phaseID, len(outOfScope))
	a.println(ui.Pass("Justification saved: %s", a.rel(path)))
	a.println(ui.Muted("   Justifications are reviewed by a human; the drift gate still applies."))
	return nil
}
