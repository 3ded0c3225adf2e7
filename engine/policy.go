package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-dunning"
)

// ExhaustionPolicy decides what happens to an execution whose current step
// ran out of retries.
type ExhaustionPolicy interface {
	OnRetryExhausted(exec *dunning.Execution) dunning.Decision
}

// PolicyFunc adapts a function to ExhaustionPolicy.
type PolicyFunc func(exec *dunning.Execution) dunning.Decision

func (f PolicyFunc) OnRetryExhausted(exec *dunning.Execution) dunning.Decision {
	return f(exec)
}

// AdvancePolicy skips the failing step and keeps the campaign moving.
type AdvancePolicy struct{}

func (AdvancePolicy) OnRetryExhausted(*dunning.Execution) dunning.Decision {
	return dunning.DecisionAdvance
}

// HoldPolicy keeps retrying the same step with a fresh retry budget.
type HoldPolicy struct{}

func (HoldPolicy) OnRetryExhausted(*dunning.Execution) dunning.Decision {
	return dunning.DecisionHold
}

// EscalatePolicy moves the execution to the failed state.
type EscalatePolicy struct{}

func (EscalatePolicy) OnRetryExhausted(*dunning.Execution) dunning.Decision {
	return dunning.DecisionEscalate
}

// EscalateFinalStepPolicy advances past intermediate steps but fails the
// execution when the last step cannot be delivered.
type EscalateFinalStepPolicy struct{}

func (EscalateFinalStepPolicy) OnRetryExhausted(exec *dunning.Execution) dunning.Decision {
	if exec != nil && exec.CurrentStep >= exec.TotalSteps-1 {
		return dunning.DecisionEscalate
	}
	return dunning.DecisionAdvance
}

const (
	PolicyAdvance           = "advance"
	PolicyHold              = "hold"
	PolicyEscalate          = "escalate"
	PolicyEscalateFinalStep = "escalate_final_step"
)

var namedPolicies = map[string]ExhaustionPolicy{
	PolicyAdvance:           AdvancePolicy{},
	PolicyHold:              HoldPolicy{},
	PolicyEscalate:          EscalatePolicy{},
	PolicyEscalateFinalStep: EscalateFinalStepPolicy{},
}

// PolicyNames lists the names accepted by PolicyByName.
func PolicyNames() []string {
	out := make([]string, 0, len(namedPolicies))
	for name := range namedPolicies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PolicyByName resolves a configured policy name. Empty means advance.
func PolicyByName(name string) (ExhaustionPolicy, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	norm = strings.ReplaceAll(norm, "-", "_")
	if norm == "" {
		return AdvancePolicy{}, nil
	}
	policy, ok := namedPolicies[norm]
	if !ok {
		return nil, dunning.NewError(dunning.ErrValidation,
			fmt.Sprintf("unknown exhaustion policy %q", name), nil,
			map[string]any{"allowed": PolicyNames()})
	}
	return policy, nil
}
