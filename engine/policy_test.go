package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dunning"
)

func TestPolicyByName(t *testing.T) {
	cases := map[string]ExhaustionPolicy{
		"":                    AdvancePolicy{},
		"advance":             AdvancePolicy{},
		" HOLD ":              HoldPolicy{},
		"escalate":            EscalatePolicy{},
		"escalate-final-step": EscalateFinalStepPolicy{},
	}
	for name, want := range cases {
		got, err := PolicyByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := PolicyByName("retry-forever")
	require.Error(t, err)
	assert.True(t, dunning.IsValidation(err))
}

func TestEscalateFinalStepPolicyDecisions(t *testing.T) {
	p := EscalateFinalStepPolicy{}
	assert.Equal(t, dunning.DecisionAdvance, p.OnRetryExhausted(&dunning.Execution{CurrentStep: 0, TotalSteps: 3}))
	assert.Equal(t, dunning.DecisionAdvance, p.OnRetryExhausted(&dunning.Execution{CurrentStep: 1, TotalSteps: 3}))
	assert.Equal(t, dunning.DecisionEscalate, p.OnRetryExhausted(&dunning.Execution{CurrentStep: 2, TotalSteps: 3}))
}

func TestPolicyFunc(t *testing.T) {
	var seen *dunning.Execution
	p := PolicyFunc(func(exec *dunning.Execution) dunning.Decision {
		seen = exec
		return dunning.DecisionHold
	})
	exec := &dunning.Execution{ID: "e1"}
	assert.Equal(t, dunning.DecisionHold, p.OnRetryExhausted(exec))
	assert.Same(t, exec, seen)
	assert.Equal(t, []string{"advance", "escalate", "escalate_final_step", "hold"}, PolicyNames())
}
