package dunning

import (
	"fmt"
	"strings"
	"time"
)

// Campaign is a reusable, ordered definition of collection actions plus
// retry and exclusion policy.
type Campaign struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	TriggerAfterDays  int  `json:"trigger_after_days"`
	MaxRetries        int  `json:"max_retries"`
	RetryIntervalDays int  `json:"retry_interval_days"`
	Priority          int  `json:"priority"`
	IsActive          bool `json:"is_active"`

	Actions        []Action       `json:"actions"`
	ExclusionRules ExclusionRules `json:"exclusion_rules,omitempty"`

	TotalExecutions      int64 `json:"total_executions"`
	SuccessfulExecutions int64 `json:"successful_executions"`
	TotalRecoveredAmount int64 `json:"total_recovered_amount"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Version   int        `json:"version"`
}

// RetryPolicy is the retry portion of a campaign, snapshotted onto each
// execution at start.
type RetryPolicy struct {
	MaxRetries        int `json:"max_retries"`
	RetryIntervalDays int `json:"retry_interval_days"`
}

func (c *Campaign) RetryPolicy() RetryPolicy {
	if c == nil {
		return RetryPolicy{}
	}
	return RetryPolicy{MaxRetries: c.MaxRetries, RetryIntervalDays: c.RetryIntervalDays}
}

func (c *Campaign) Deleted() bool {
	return c != nil && c.DeletedAt != nil
}

// Validate checks the campaign definition. It never looks at counters.
func (c *Campaign) Validate() error {
	if c == nil {
		return NewError(ErrValidation, "campaign required", nil, nil)
	}
	fail := func(msg string, args ...any) error {
		return NewError(ErrValidation, fmt.Sprintf(msg, args...), nil, map[string]any{
			"campaign_id": c.ID,
		})
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return fail("tenant id required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fail("campaign name required")
	}
	if c.TriggerAfterDays < 0 {
		return fail("trigger_after_days must be non-negative, got %d", c.TriggerAfterDays)
	}
	if c.MaxRetries < 0 {
		return fail("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.RetryIntervalDays < 0 {
		return fail("retry_interval_days must be non-negative, got %d", c.RetryIntervalDays)
	}
	if err := ValidateActions(c.Actions); err != nil {
		return NewError(ErrValidation, "invalid campaign actions", err, map[string]any{
			"campaign_id": c.ID,
			"reason":      err.Error(),
		})
	}
	return nil
}

// Clone returns a deep copy safe to hand across store boundaries.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Actions = CloneActions(c.Actions)
	cp.ExclusionRules = c.ExclusionRules.Clone()
	if c.DeletedAt != nil {
		t := *c.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}
