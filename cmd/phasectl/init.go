package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/state"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/ui"
)

// runtimeIgnore keeps phasectl's own bookkeeping out of the change set.
const runtimeIgnore = `# phasectl runtime files
state/
critiques/
traces/
logs/
scope_audit/
.judge.lock
`

const starterPlan = `plan:
  id: my-project
  summary: Describe the goal of this plan
  base_branch: main
  test_command: pytest -q
  lint_command: ruff check

  protocol_lock:
    protected_globs:
      - ".repo/plan.yaml"
      - "bin/**"

  phases:
    - id: P01-setup
      description: Project skeleton
      brief: |
        Create the initial layout and a first passing test.
      scope:
        include:
          - "src/**"
          - "tests/**"
      artifacts:
        must_exist:
          - src/
      gates:
        tests:
          must_pass: true
        drift:
          allowed_out_of_scope_changes: 0
`

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .repo layout and a starter plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.initRepo()
		},
	}
}

func (a *app) initRepo() error {
	for _, dir := range a.paths.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", a.rel(dir), err)
		}
	}
	a.println(ui.Pass("Created %s", a.rel(a.paths.RepoDir)))

	created, err := writeIfMissing(filepath.Join(a.paths.RepoDir, ".gitignore"), runtimeIgnore)
	if err != nil {
		return err
	}
	if created {
		a.println(ui.Pass("Wrote %s", a.rel(filepath.Join(a.paths.RepoDir, ".gitignore"))))
	}

	created, err = writeIfMissing(a.paths.Plan, starterPlan)
	if err != nil {
		return err
	}
	if created {
		a.println(ui.Pass("Wrote starter plan %s", a.rel(a.paths.Plan)))
	} else {
		a.println(ui.Muted("   Keeping existing " + a.rel(a.paths.Plan)))
	}

	a.println()
	a.println("Next steps:")
	a.printf("  1. Edit %s\n", a.rel(a.paths.Plan))
	a.println("  2. Run: phasectl validate")
	a.println("  3. Run: phasectl manifest generate")
	a.println("  4. Run: phasectl start <phase>")
	return nil
}

func writeIfMissing(path, content string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := state.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
