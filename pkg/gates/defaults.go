package gates

import "github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/review"

// DefaultRegistry returns the built-in gates in evaluation order. llm may be
// nil for a review gate with default settings.
func DefaultRegistry(llm *LLMReviewGate) *Registry {
	if llm == nil {
		llm = &LLMReviewGate{Settings: review.DefaultSettings()}
	}
	return NewRegistry().MustRegister(
		ArtifactsGate{},
		IntegrityGate{},
		DriftGate{},
		TestsGate{},
		LintGate{},
		DocsGate{},
		llm,
	)
}
