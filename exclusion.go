package dunning

import (
	"fmt"
	"sort"
	"strings"
)

const (
	RuleMinLifetimeValue = "min_lifetime_value"
	RuleCustomerTiers    = "customer_tiers"
	RuleCustomerIDs      = "customer_ids"
)

// ExclusionRules maps named predicates to threshold values.
type ExclusionRules map[string]any

// Clone copies the rule map and any string/any slices inside it.
func (r ExclusionRules) Clone() ExclusionRules {
	if r == nil {
		return nil
	}
	out := make(ExclusionRules, len(r))
	for k, v := range r {
		switch vv := v.(type) {
		case []string:
			out[k] = append([]string(nil), vv...)
		case []any:
			out[k] = append([]any(nil), vv...)
		default:
			out[k] = v
		}
	}
	return out
}

// CustomerSnapshot is the read-only subset of customer attributes the
// evaluator looks at.
type CustomerSnapshot struct {
	CustomerID    string  `json:"customer_id"`
	LifetimeValue float64 `json:"lifetime_value"`
	Tier          string  `json:"tier"`
}

// Evaluation is the outcome of checking a snapshot against rules.
type Evaluation struct {
	Excluded bool
	// Matched lists the rule names that excluded the customer.
	Matched []string
	// Warnings lists rules that were ignored because they were malformed.
	Warnings []string
}

// IsExcluded reports whether any configured rule excludes the customer.
func IsExcluded(rules ExclusionRules, snapshot CustomerSnapshot) bool {
	return Evaluate(rules, snapshot).Excluded
}

// Evaluate applies every rule to the snapshot. Rules are ORed; unset rules
// never exclude; malformed rules are ignored and reported as warnings.
func Evaluate(rules ExclusionRules, snapshot CustomerSnapshot) Evaluation {
	var ev Evaluation
	if len(rules) == 0 {
		return ev
	}

	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := rules[key]
		if raw == nil {
			continue
		}
		matched, err := evaluateRule(key, raw, snapshot)
		if err != nil {
			ev.Warnings = append(ev.Warnings, fmt.Sprintf("exclusion rule %q ignored: %v", key, err))
			continue
		}
		if matched {
			ev.Excluded = true
			ev.Matched = append(ev.Matched, key)
		}
	}
	return ev
}

func evaluateRule(key string, raw any, snapshot CustomerSnapshot) (bool, error) {
	switch key {
	case RuleMinLifetimeValue:
		floor, ok := toFloat(raw)
		if !ok {
			return false, fmt.Errorf("expected number, got %T", raw)
		}
		return snapshot.LifetimeValue >= floor, nil
	case RuleCustomerTiers:
		tiers, ok := toStrings(raw)
		if !ok {
			return false, fmt.Errorf("expected list of strings, got %T", raw)
		}
		tier := strings.TrimSpace(snapshot.Tier)
		if tier == "" {
			return false, nil
		}
		for _, t := range tiers {
			if strings.EqualFold(strings.TrimSpace(t), tier) {
				return true, nil
			}
		}
		return false, nil
	case RuleCustomerIDs:
		ids, ok := toStrings(raw)
		if !ok {
			return false, fmt.Errorf("expected list of strings, got %T", raw)
		}
		id := strings.TrimSpace(snapshot.CustomerID)
		if id == "" {
			return false, nil
		}
		for _, candidate := range ids {
			if strings.TrimSpace(candidate) == id {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown rule")
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toStrings(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case string:
		return []string{vv}, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
