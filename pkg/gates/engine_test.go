package gates

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PM-Frontier-Labs/judge-gated-orchestrator/pkg/plan"
)

type stubGate struct {
	name    string
	enabled bool
	issues  []string
	err     error
	panics  bool
	calls   int
}

func (g *stubGate) Name() string { return g.name }
func (g *stubGate) Description() string { return "stub" }
func (g *stubGate) IsEnabled(*plan.Phase) bool { return g.enabled }
func (g *stubGate) Run(context.Context, *plan.Phase, *plan.Plan, *RunContext) ([]string, error) {
	g.calls++
	if g.panics {
		panic("boom")
	}
	return g.issues, g.err
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubGate{name: "a"}))

	err := r.Register(&stubGate{name: "a"})
	assert.ErrorIs(t, err, ErrDuplicateGate)

	assert.Error(t, r.Register(&stubGate{name: ""}))
	assert.Equal(t, []string{"a"}, r.Names())
}

func TestRegistryPreservesOrder(t *testing.T) {
	r := NewRegistry().MustRegister(&stubGate{name: "c"}, &stubGate{name: "a"}, &stubGate{name: "b"})

	assert.Equal(t, []string{"c", "a", "b"}, r.Names())

	g, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", g.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry().MustRegister(&stubGate{name: "x"}, &stubGate{name: "x"})
	})
}

func TestEngineIsolatesGateFailures(t *testing.T) {
	failing := &stubGate{name: "erroring", enabled: true, err: errors.New("disk on fire")}
	panicking := &stubGate{name: "panicking", enabled: true, panics: true}
	passing := &stubGate{name: "passing", enabled: true}
	rejecting := &stubGate{name: "rejecting", enabled: true, issues: []string{"one", "two"}}
	disabled := &stubGate{name: "disabled"}

	engine := NewEngine(NewRegistry().MustRegister(failing, panicking, passing, rejecting, disabled))
	results := engine.Run(context.Background(), &plan.Phase{ID: "P01"}, &plan.Plan{}, nil)

	require.Len(t, results, 4)
	assert.Equal(t, []string{"Gate erroring failed: disk on fire"}, results[0].Issues)
	assert.Equal(t, []string{"Gate panicking failed: boom"}, results[1].Issues)
	assert.True(t, results[2].Passed())
	assert.Equal(t, []string{"one", "two"}, results[3].Issues)

	assert.Zero(t, disabled.calls)
	assert.Equal(t, 1, passing.calls)

	assert.Equal(t, []string{
		"Gate erroring failed: disk on fire",
		"Gate panicking failed: boom",
		"one",
		"two",
	}, Issues(results))
}

func TestDefaultRegistryOrder(t *testing.T) {
	r := DefaultRegistry(nil)
	assert.Equal(t, []string{"artifacts", "integrity", "drift", "tests", "lint", "docs", "llm_review"}, r.Names())

	llm, ok := r.Get("llm_review")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", llm.(*LLMReviewGate).Settings.Model)
}
