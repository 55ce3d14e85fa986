package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/integrity"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/judge"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
)

func newManifestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Manage the protocol manifest",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "generate [files...]",
			Short: "Hash the protected files into the manifest",
			Long:  "Hash every file matching the plan's protected globs, or only the given files, and write the protocol manifest.",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.manifestGenerate(cmd.Context(), args)
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Compare protected files with the manifest",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.manifestVerify()
			},
		},
	)
	return cmd
}

func (a *app) integrityGuard(p *plan.Plan) (*integrity.Guard, error) {
	return integrity.NewGuard(integrity.Options{
		Root:         a.root,
		PlanPath:     a.paths.Plan,
		ManifestPath: a.paths.Manifest,
		SelfPath:     a.cfg.Judge.SelfPath,
		Policy:       judge.PolicyFor(p),
	})
}

func (a *app) manifestGenerate(ctx context.Context, files []string) error {
	h, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	defer a.release(h)

	p, err := a.loadPlan()
	if err != nil {
		return err
	}
	if p.ProtocolLock == nil && len(files) == 0 {
		return errors.New("plan has no protocol_lock; add protected_globs or pass the files to hash")
	}
	guard, err := a.integrityGuard(p)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		if files, err = guard.CollectProtected(); err != nil {
			return fmt.Errorf("failed to collect protected files: %w", err)
		}
	}

	m, missing, err := integrity.GenerateManifest(a.root, files)
	if err != nil {
		return err
	}
	for _, f := range missing {
		a.println(ui.Warn("Skipping missing file: %s", f))
	}
	if err := m.Save(a.paths.Manifest); err != nil {
		return err
	}
	a.log.Infof("manifest written with %d file(s)", len(m.Files))
	a.println(ui.Pass("Manifest written: %s (%d file(s))", a.rel(a.paths.Manifest), len(m.Files)))

	if cur, err := a.store.LoadCurrent(); err == nil {
		a.println(ui.Warn("Phase %s is bound to the previous manifest. Restart it: phasectl start %s", cur.PhaseID, cur.PhaseID))
	}
	return nil
}

func (a *app) manifestVerify() error {
	p, err := a.loadPlan()
	if err != nil {
		return err
	}
	guard, err := a.integrityGuard(p)
	if err != nil {
		return err
	}

	var phaseID string
	if cur, err := a.store.LoadCurrent(); err == nil {
		phaseID = cur.PhaseID
	} else if !errors.Is(err, state.ErrNoActivePhase) {
		return err
	}

	if issues := guard.VerifyManifest(phaseID, nil); len(issues) > 0 {
		a.println(ui.Fail("Protocol integrity check failed:"))
		a.print(ui.List(issues, 0))
		return errRejected
	}
	a.println(ui.Pass("Protected files match the manifest"))
	return nil
}
