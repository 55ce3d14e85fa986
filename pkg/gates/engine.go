package gates

import (
	"context"
	"fmt"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
)

// Engine runs a registry's gates against a phase.
type Engine struct {
	registry *Registry
}

// NewEngine creates an engine over registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Run executes every enabled gate in registration order. A gate that errors
// or panics contributes exactly one issue and the remaining gates still run.
// Disabled gates produce no result.
func (e *Engine) Run(ctx context.Context, phase *plan.Phase, p *plan.Plan, rc *RunContext) []Result {
	log := rc.logger()
	var results []Result
	for _, g := range e.registry.List() {
		if !g.IsEnabled(phase) {
			log.Debugf("gate %s disabled for %s", g.Name(), phase.ID)
			continue
		}
		issues := runIsolated(ctx, g, phase, p, rc)
		if len(issues) == 0 {
			log.Infof("gate %s passed", g.Name())
		} else {
			log.Infof("gate %s reported %d issue(s)", g.Name(), len(issues))
		}
		results = append(results, Result{Gate: g.Name(), Issues: issues})
	}
	return results
}

func runIsolated(ctx context.Context, g Gate, phase *plan.Phase, p *plan.Plan, rc *RunContext) (issues []string) {
	defer func() {
		if r := recover(); r != nil {
			issues = []string{fmt.Sprintf("Gate %s failed: %v", g.Name(), r)}
		}
	}()
	issues, err := g.Run(ctx, phase, p, rc)
	if err != nil {
		return []string{fmt.Sprintf("Gate %s failed: %v", g.Name(), err)}
	}
	return issues
}

// Issues flattens results into one ordered list.
func Issues(results []Result) []string {
	var all []string
	for _, r := range results {
		all = append(all, r.Issues...)
	}
	return all
}
