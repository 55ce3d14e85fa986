package gates

import (
	"context"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
)

// IntegrityGate reports protocol file tampering in the gate breakdown. The
// judge runs the same checks as a fatal precondition, so on a normal run this
// gate has nothing to add.
type IntegrityGate struct{}

// Name implements Gate.
func (IntegrityGate) Name() string { return "integrity" }

// Description implements Gate.
func (IntegrityGate) Description() string {
	return "Protocol files match the manifest"
}

// IsEnabled implements Gate.
func (IntegrityGate) IsEnabled(*plan.Phase) bool { return true }

// Run implements Gate.
func (IntegrityGate) Run(_ context.Context, phase *plan.Phase, _ *plan.Plan, rc *RunContext) ([]string, error) {
	if rc.Integrity == nil {
		return nil, nil
	}
	return rc.Integrity.VerifyManifest(phase.ID, rc.ChangedFiles()), nil
}
