package dunning

import (
	"fmt"
	"sort"
	"strings"
)

// ActionKind identifies one channel of collection outreach.
type ActionKind string

const (
	ActionEmail          ActionKind = "email"
	ActionSMS            ActionKind = "sms"
	ActionSuspendService ActionKind = "suspend_service"
)

var knownActionKinds = map[ActionKind]struct{}{
	ActionEmail:          {},
	ActionSMS:            {},
	ActionSuspendService: {},
}

// ActionKinds returns the catalog of supported kinds in a stable order.
func ActionKinds() []ActionKind {
	out := make([]ActionKind, 0, len(knownActionKinds))
	for kind := range knownActionKinds {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseActionKind normalizes s and reports whether it names a known kind.
// "suspend-service" is accepted as an alias of suspend_service.
func ParseActionKind(s string) (ActionKind, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	kind := ActionKind(norm)
	_, ok := knownActionKinds[kind]
	return kind, ok
}

func (k ActionKind) Valid() bool {
	_, ok := knownActionKinds[k]
	return ok
}

func (k ActionKind) String() string { return string(k) }

type EmailConfig struct {
	TemplateRef string `json:"template_ref" yaml:"template_ref"`
	Subject     string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

type SMSConfig struct {
	TemplateRef string `json:"template_ref" yaml:"template_ref"`
}

type SuspendConfig struct {
	TemplateRef string `json:"template_ref,omitempty" yaml:"template_ref,omitempty"`
	Reason      string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Action is one step of a campaign. Exactly one of the per-kind config
// blocks is set, and it must match Kind.
type Action struct {
	Kind      ActionKind     `json:"kind" yaml:"kind"`
	DelayDays int            `json:"delay_days" yaml:"delay_days"`
	Email     *EmailConfig   `json:"email,omitempty" yaml:"email,omitempty"`
	SMS       *SMSConfig     `json:"sms,omitempty" yaml:"sms,omitempty"`
	Suspend   *SuspendConfig `json:"suspend,omitempty" yaml:"suspend,omitempty"`
}

// EmailAction builds an email step.
func EmailAction(delayDays int, templateRef string) Action {
	return Action{Kind: ActionEmail, DelayDays: delayDays, Email: &EmailConfig{TemplateRef: templateRef}}
}

// SMSAction builds an sms step.
func SMSAction(delayDays int, templateRef string) Action {
	return Action{Kind: ActionSMS, DelayDays: delayDays, SMS: &SMSConfig{TemplateRef: templateRef}}
}

// SuspendServiceAction builds a service suspension step.
func SuspendServiceAction(delayDays int, reason string) Action {
	return Action{Kind: ActionSuspendService, DelayDays: delayDays, Suspend: &SuspendConfig{Reason: reason}}
}

// TemplateRef returns the template reference carried by the active config.
func (a Action) TemplateRef() string {
	switch a.Kind {
	case ActionEmail:
		if a.Email != nil {
			return a.Email.TemplateRef
		}
	case ActionSMS:
		if a.SMS != nil {
			return a.SMS.TemplateRef
		}
	case ActionSuspendService:
		if a.Suspend != nil {
			return a.Suspend.TemplateRef
		}
	}
	return ""
}

// Validate checks the action shape against the catalog.
func (a Action) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	if a.DelayDays < 0 {
		return fmt.Errorf("delay_days must be non-negative, got %d", a.DelayDays)
	}

	set := 0
	if a.Email != nil {
		set++
	}
	if a.SMS != nil {
		set++
	}
	if a.Suspend != nil {
		set++
	}

	switch a.Kind {
	case ActionEmail:
		if a.Email == nil {
			return fmt.Errorf("email action requires email config")
		}
		if strings.TrimSpace(a.Email.TemplateRef) == "" {
			return fmt.Errorf("email action requires template_ref")
		}
	case ActionSMS:
		if a.SMS == nil {
			return fmt.Errorf("sms action requires sms config")
		}
		if strings.TrimSpace(a.SMS.TemplateRef) == "" {
			return fmt.Errorf("sms action requires template_ref")
		}
	case ActionSuspendService:
		if a.Suspend == nil {
			return fmt.Errorf("suspend_service action requires suspend config")
		}
	}
	if set != 1 {
		return fmt.Errorf("%s action must carry only its own config block", a.Kind)
	}
	return nil
}

// ValidateActions checks an ordered action list: non-empty, every action
// valid, delays non-decreasing.
func ValidateActions(actions []Action) error {
	if len(actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	prev := 0
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		if a.DelayDays < prev {
			return fmt.Errorf("action %d: delay_days %d is before previous step (%d)", i, a.DelayDays, prev)
		}
		prev = a.DelayDays
	}
	return nil
}

func cloneAction(a Action) Action {
	cp := a
	if a.Email != nil {
		e := *a.Email
		cp.Email = &e
	}
	if a.SMS != nil {
		s := *a.SMS
		cp.SMS = &s
	}
	if a.Suspend != nil {
		s := *a.Suspend
		cp.Suspend = &s
	}
	return cp
}

// CloneActions deep-copies an action list.
func CloneActions(in []Action) []Action {
	if in == nil {
		return nil
	}
	out := make([]Action, len(in))
	for i := range in {
		out[i] = cloneAction(in[i])
	}
	return out
}
