package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-dunning"
)

// CampaignSet is the on-disk format of a campaign definition file.
type CampaignSet struct {
	Campaigns []CampaignDefinition `yaml:"campaigns" json:"campaigns"`
}

type CampaignDefinition struct {
	ID                string             `yaml:"id" json:"id"`
	Name              string             `yaml:"name" json:"name"`
	Description       string             `yaml:"description" json:"description"`
	TriggerAfterDays  int                `yaml:"trigger_after_days" json:"trigger_after_days"`
	MaxRetries        int                `yaml:"max_retries" json:"max_retries"`
	RetryIntervalDays int                `yaml:"retry_interval_days" json:"retry_interval_days"`
	Priority          int                `yaml:"priority" json:"priority"`
	Active            *bool              `yaml:"active" json:"active"`
	Actions           []ActionDefinition `yaml:"actions" json:"actions"`
	ExclusionRules    map[string]any     `yaml:"exclusion_rules" json:"exclusion_rules"`
}

// ActionDefinition is the flattened file form of dunning.Action.
type ActionDefinition struct {
	Kind        string `yaml:"kind" json:"kind"`
	DelayDays   int    `yaml:"delay_days" json:"delay_days"`
	TemplateRef string `yaml:"template_ref" json:"template_ref"`
	Subject     string `yaml:"subject" json:"subject"`
	Reason      string `yaml:"reason" json:"reason"`
}

// ParseCampaignSet parses JSON or YAML into a CampaignSet and validates
// every definition.
func ParseCampaignSet(data []byte) (CampaignSet, error) {
	var set CampaignSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		// yaml can handle JSON too, so a single attempt is fine
		return set, dunning.NewError(dunning.ErrValidation, "invalid campaign file", err, nil)
	}
	return set, set.Validate()
}

func (s CampaignSet) Validate() error {
	if len(s.Campaigns) == 0 {
		return dunning.NewError(dunning.ErrValidation, "campaign file defines no campaigns", nil, nil)
	}
	names := make(map[string]int, len(s.Campaigns))
	for i, def := range s.Campaigns {
		c, err := def.Campaign("validation")
		if err == nil {
			err = c.Validate()
		}
		if err != nil {
			return dunning.NewError(dunning.ErrValidation,
				fmt.Sprintf("campaign %d (%s): %v", i, def.Name, err), err,
				map[string]any{"index": i})
		}
		key := strings.ToLower(strings.TrimSpace(def.Name))
		if prev, dup := names[key]; dup {
			return dunning.NewError(dunning.ErrValidation,
				fmt.Sprintf("campaign %d duplicates the name of campaign %d", i, prev), nil,
				map[string]any{"name": def.Name})
		}
		names[key] = i
	}
	return nil
}

// Campaign converts the definition to a campaign owned by tenantID.
// Definitions are active unless they say otherwise.
func (d CampaignDefinition) Campaign(tenantID string) (*dunning.Campaign, error) {
	actions := make([]dunning.Action, 0, len(d.Actions))
	for i, a := range d.Actions {
		action, err := a.Action()
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, action)
	}

	active := true
	if d.Active != nil {
		active = *d.Active
	}

	var rules dunning.ExclusionRules
	if len(d.ExclusionRules) > 0 {
		rules = dunning.ExclusionRules(d.ExclusionRules).Clone()
	}

	return &dunning.Campaign{
		ID:                strings.TrimSpace(d.ID),
		TenantID:          tenantID,
		Name:              strings.TrimSpace(d.Name),
		Description:       d.Description,
		TriggerAfterDays:  d.TriggerAfterDays,
		MaxRetries:        d.MaxRetries,
		RetryIntervalDays: d.RetryIntervalDays,
		Priority:          d.Priority,
		IsActive:          active,
		Actions:           actions,
		ExclusionRules:    rules,
	}, nil
}

func (a ActionDefinition) Action() (dunning.Action, error) {
	kind, ok := dunning.ParseActionKind(a.Kind)
	if !ok {
		return dunning.Action{}, fmt.Errorf("unknown action kind %q", a.Kind)
	}
	switch kind {
	case dunning.ActionEmail:
		action := dunning.EmailAction(a.DelayDays, strings.TrimSpace(a.TemplateRef))
		action.Email.Subject = a.Subject
		return action, nil
	case dunning.ActionSMS:
		return dunning.SMSAction(a.DelayDays, strings.TrimSpace(a.TemplateRef)), nil
	default:
		action := dunning.SuspendServiceAction(a.DelayDays, a.Reason)
		action.Suspend.TemplateRef = strings.TrimSpace(a.TemplateRef)
		return action, nil
	}
}
