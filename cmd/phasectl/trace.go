package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/trace"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
)

func newTraceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <name> -- <command...>",
		Short: "Run a command and record its output as a trace",
		Long:  "Run a command from the repository root and record its exit code and output in .repo/traces/last_<name>.txt. A failing command exits 1.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.trace(cmd.Context(), args[0], args[1:])
		},
	}
}

func (a *app) trace(ctx context.Context, name string, argv []string) error {
	h, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	rec, err := trace.Run(ctx, trace.RunOptions{
		Name:      name,
		Command:   argv,
		Dir:       a.root,
		TracesDir: a.paths.TracesDir,
		Timeout:   a.cfg.Trace.Timeout,
	})
	a.release(h)
	if err != nil {
		return err
	}
	switch {
	case rec.TimedOut:
		a.println(ui.Fail("%s timed out after %s", name, rec.Timeout))
	case rec.Passed():
		a.println(ui.Pass("%s passed", name))
	default:
		a.println(ui.Fail("%s failed (exit %d)", name, rec.ExitCode))
	}
	a.println(ui.Muted("   " + a.rel(rec.Path)))
	if !rec.Passed() {
		return errRejected
	}
	return nil
}
