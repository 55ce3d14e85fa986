package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the plan against its schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate()
		},
	}
}

func (a *app) validate() error {
	p, err := plan.LoadAndValidate(a.paths.Plan)
	var ve *plan.ValidationError
	switch {
	case errors.As(err, &ve):
		a.println(ui.Fail("Plan validation failed (%d problem(s)):", len(ve.Errors)))
		a.print(ui.List(ve.Errors, 0))
		return errRejected
	case err != nil:
		return err
	}

	a.println(ui.Pass("Plan %s is valid", p.ID))
	for _, id := range p.PhaseIDs() {
		a.println("   - " + id)
	}
	return nil
}
