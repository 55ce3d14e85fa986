package gates

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/workspace"
)

// ArtifactsGate requires declared artifacts to exist and be non-empty.
type ArtifactsGate struct{}

// Name implements Gate.
func (ArtifactsGate) Name() string { return "artifacts" }

// Description implements Gate.
func (ArtifactsGate) Description() string {
	return "Required artifacts exist and are non-empty"
}

// IsEnabled implements Gate. An empty list passes trivially.
func (ArtifactsGate) IsEnabled(*plan.Phase) bool { return true }

// Run implements Gate. Directories satisfy existence and skip the size check.
func (ArtifactsGate) Run(_ context.Context, phase *plan.Phase, _ *plan.Plan, rc *RunContext) ([]string, error) {
	if len(phase.Artifacts.MustExist) == 0 {
		return nil, nil
	}
	if rc.Workspace == nil {
		return nil, errors.New("no workspace guard configured")
	}

	var issues []string
	for _, artifact := range phase.Artifacts.MustExist {
		info, err := rc.Workspace.Stat(artifact)
		switch {
		case errors.Is(err, workspace.ErrOutsideWorkspace):
			issues = append(issues, fmt.Sprintf("Artifact path outside repository: %s", artifact))
		case errors.Is(err, os.ErrNotExist):
			issues = append(issues, fmt.Sprintf("Missing required artifact: %s", artifact))
		case err != nil:
			return nil, fmt.Errorf("failed to stat artifact %s: %w", artifact, err)
		case info.Mode().IsRegular() && info.Size() == 0:
			issues = append(issues, fmt.Sprintf("Artifact is empty: %s", artifact))
		}
	}
	return issues, nil
}
