// Command phasectl drives a gated phase plan: it starts phases, records test
// and lint traces, asks the judge for a verdict and advances through the plan.
//
// Exit codes: 0 success or approval, 1 rejection or failed check, 2
// operational error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/config"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/logging"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/verdict"
)

const version = "0.2.0"

const (
	exitOK       = 0
	exitRejected = 1
	exitError    = 2
)

// errRejected marks an outcome that was already reported to the user.
var errRejected = errors.New("rejected")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{in: stdin, out: stdout}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errRejected):
		return exitRejected
	default:
		fmt.Fprintln(stderr, ui.Fail("%v", err))
		return exitError
	}
}

// app holds what every command needs. It is populated before each command runs.
type app struct {
	rootFlag   string
	configFlag string

	root     string
	cfg      *config.Config
	paths    config.Paths
	log      *logging.Logger
	store    *state.Store
	verdicts *verdict.Writer

	in  io.Reader
	out io.Writer
}

func (a *app) setup() error {
	root, err := filepath.Abs(a.rootFlag)
	if err != nil {
		return fmt.Errorf("failed to resolve root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	a.root = root

	cfg, err := config.Load(root, a.configFlag)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.paths = cfg.Paths(root)
	a.store = state.NewStore(a.paths.StateDir)
	a.verdicts = verdict.NewWriter(a.paths.CritiquesDir)

	log, err := logging.NewLogger("phasectl", logging.Options{
		Dir:    a.paths.LogsDir,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	a.log = log
	if err != nil {
		fmt.Fprintln(a.out, ui.Warn("logging to stderr: %v", err))
	}
	a.log.Debugf("phasectl %s in %s", version, root)
	return nil
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Close()
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) println(args ...any) {
	fmt.Fprintln(a.out, args...)
}

// rel shortens an absolute path under the root for display.
func (a *app) rel(path string) string {
	if r, err := filepath.Rel(a.root, path); err == nil {
		return filepath.ToSlash(r)
	}
	return path
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "phasectl",
		Short:         "Gated phase orchestrator",
		Long:          "phasectl walks an agent through a plan of phases. Each phase must pass the judge's gates before the next one starts.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.rootFlag, "root", ".", "repository root")
	root.PersistentFlags().StringVar(&a.configFlag, "config", "", "config file (default <root>/"+config.DefaultFile+")")

	root.AddCommand(
		newInitCmd(a),
		newStartCmd(a),
		newReviewCmd(a),
		newJudgeCmd(a),
		newNextCmd(a),
		newStatusCmd(a),
		newValidateCmd(a),
		newManifestCmd(a),
		newJustifyScopeCmd(a),
		newContextCmd(a),
		newTraceCmd(a),
	)
	return root
}
