package dunning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateMinLifetimeValue(t *testing.T) {
	rules := ExclusionRules{RuleMinLifetimeValue: 5000}

	assert.True(t, IsExcluded(rules, CustomerSnapshot{LifetimeValue: 6000}))
	assert.True(t, IsExcluded(rules, CustomerSnapshot{LifetimeValue: 5000}))
	assert.False(t, IsExcluded(rules, CustomerSnapshot{LifetimeValue: 1000}))

	// decoded JSON numbers arrive as float64
	assert.True(t, IsExcluded(ExclusionRules{RuleMinLifetimeValue: 5000.0}, CustomerSnapshot{LifetimeValue: 6000}))
}

func TestEvaluateTiersAndIDs(t *testing.T) {
	rules := ExclusionRules{
		RuleCustomerTiers: []any{"enterprise", "Partner"},
		RuleCustomerIDs:   []string{"cust-7"},
	}

	ev := Evaluate(rules, CustomerSnapshot{CustomerID: "cust-1", Tier: "partner"})
	assert.True(t, ev.Excluded)
	assert.Equal(t, []string{RuleCustomerTiers}, ev.Matched)

	ev = Evaluate(rules, CustomerSnapshot{CustomerID: "cust-7", Tier: "basic"})
	assert.True(t, ev.Excluded)
	assert.Equal(t, []string{RuleCustomerIDs}, ev.Matched)

	assert.False(t, IsExcluded(rules, CustomerSnapshot{CustomerID: "cust-2", Tier: "basic"}))
	assert.False(t, IsExcluded(rules, CustomerSnapshot{}))
}

func TestEvaluateIgnoresMalformedRules(t *testing.T) {
	rules := ExclusionRules{
		RuleMinLifetimeValue: "lots",
		RuleCustomerTiers:    []any{"gold", 3},
		"region":             "emea",
		RuleCustomerIDs:      nil,
	}
	ev := Evaluate(rules, CustomerSnapshot{CustomerID: "c", LifetimeValue: 1e9, Tier: "gold"})

	assert.False(t, ev.Excluded)
	require.Len(t, ev.Warnings, 3)
	assert.Contains(t, ev.Warnings[0], `"customer_tiers"`)
	assert.Contains(t, ev.Warnings[1], `"min_lifetime_value"`)
	assert.Contains(t, ev.Warnings[2], `"region"`)
}

func TestEvaluateEmptyRules(t *testing.T) {
	ev := Evaluate(nil, CustomerSnapshot{LifetimeValue: 1})
	assert.False(t, ev.Excluded)
	assert.Empty(t, ev.Warnings)
}

func TestExclusionRulesClone(t *testing.T) {
	rules := ExclusionRules{RuleCustomerIDs: []string{"a"}}
	cp := rules.Clone()
	cp[RuleCustomerIDs].([]string)[0] = "b"
	assert.Equal(t, "a", rules[RuleCustomerIDs].([]string)[0])
}
