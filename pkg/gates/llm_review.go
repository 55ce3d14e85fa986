package gates

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/review"
	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/scope"
)

// CompleterFactory builds a completer for an API key.
type CompleterFactory func(apiKey, baseURL string) (review.Completer, error)

// LLMReviewGate asks a language model to review the phase's changed code.
// Reviewed files are limited to the phase scope when the scope has include
// patterns.
type LLMReviewGate struct {
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string
	BaseURL   string
	Settings  review.Settings
	Counter   review.TokenCounter
	// NewCompleter defaults to the OpenAI completer.
	NewCompleter CompleterFactory
}

// Name implements Gate.
func (*LLMReviewGate) Name() string { return "llm_review" }

// Description implements Gate.
func (*LLMReviewGate) Description() string {
	return "Semantic code review of changed files"
}

// IsEnabled implements Gate.
func (*LLMReviewGate) IsEnabled(phase *plan.Phase) bool {
	return phase.Gates.LLMReview != nil && phase.Gates.LLMReview.Enabled
}

// Run implements Gate.
func (g *LLMReviewGate) Run(ctx context.Context, phase *plan.Phase, p *plan.Plan, rc *RunContext) ([]string, error) {
	if rc.Workspace == nil {
		return nil, errors.New("no workspace guard configured")
	}

	envName := g.APIKeyEnv
	if envName == "" {
		envName = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(envName)
	if apiKey == "" {
		return []string{fmt.Sprintf("LLM review enabled but %s not set", envName)}, nil
	}

	factory := g.NewCompleter
	if factory == nil {
		factory = func(apiKey, baseURL string) (review.Completer, error) {
			return review.NewOpenAICompleter(apiKey, baseURL)
		}
	}
	completer, err := factory(apiKey, g.BaseURL)
	if err != nil {
		return []string{fmt.Sprintf("LLM review failed: %v", err)}, nil
	}

	counter := g.Counter
	if counter == nil {
		counter = review.DefaultCounter()
	}
	svc := review.NewService(completer, counter, rc.Workspace, g.Settings.WithPlan(p.LLMReview))

	files := rc.ChangedFiles()
	if len(phase.Scope.Include) > 0 {
		files = scope.Classify(files, phase.Scope.Include, phase.Scope.Exclude).InScope
	}

	res, err := svc.Review(ctx, review.Request{
		PhaseID:     phase.ID,
		Description: phase.Description,
		Files:       files,
	})
	if err != nil {
		return []string{fmt.Sprintf("LLM review failed: %v", err)}, nil
	}

	log := rc.logger()
	log.Infof("llm review of %s: %d file(s) reviewed, %d skipped, %d prompt tokens",
		phase.ID, len(res.Reviewed), len(res.Skipped), res.PromptTokens)
	if len(res.Skipped) > 0 {
		log.Warnf("llm review skipped files over budget: %v", res.Skipped)
	}
	if res.Approved {
		return nil, nil
	}
	return res.Issues, nil
}
