package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/goliatone/go-dunning"
	"github.com/goliatone/go-dunning/store"
)

// CampaignPatch carries the fields to change. Nil fields are left alone.
// A non-zero ExpectedVersion must match the stored version.
type CampaignPatch struct {
	Name              *string
	Description       *string
	TriggerAfterDays  *int
	MaxRetries        *int
	RetryIntervalDays *int
	Priority          *int
	IsActive          *bool
	Actions           []dunning.Action
	ExclusionRules    dunning.ExclusionRules

	ExpectedVersion int
}

func (p CampaignPatch) apply(c *dunning.Campaign) {
	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.TriggerAfterDays != nil {
		c.TriggerAfterDays = *p.TriggerAfterDays
	}
	if p.MaxRetries != nil {
		c.MaxRetries = *p.MaxRetries
	}
	if p.RetryIntervalDays != nil {
		c.RetryIntervalDays = *p.RetryIntervalDays
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.Actions != nil {
		c.Actions = dunning.CloneActions(p.Actions)
	}
	if p.ExclusionRules != nil {
		c.ExclusionRules = p.ExclusionRules.Clone()
	}
}

// CreateCampaign validates and stores a new campaign. Counters start at
// zero whatever the input carries.
func (e *Engine) CreateCampaign(ctx context.Context, in *dunning.Campaign) (*dunning.Campaign, error) {
	if in == nil {
		return nil, dunning.NewError(dunning.ErrValidation, "campaign required", nil, nil)
	}
	c := in.Clone()
	c.TenantID = strings.TrimSpace(c.TenantID)
	c.Name = strings.TrimSpace(c.Name)
	if strings.TrimSpace(c.ID) == "" {
		c.ID = e.newID()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	c.TotalExecutions = 0
	c.SuccessfulExecutions = 0
	c.TotalRecoveredAmount = 0
	c.CreatedAt = now
	c.UpdatedAt = now
	c.DeletedAt = nil
	c.Version = 1

	if err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		return tx.InsertCampaign(ctx, c)
	}); err != nil {
		return nil, err
	}

	e.log(ctx, map[string]any{"tenant_id": c.TenantID, "campaign_id": c.ID}).
		Info("campaign created with %d actions", len(c.Actions))
	return c, nil
}

// GetCampaign returns a live campaign. Soft-deleted campaigns are not found.
func (e *Engine) GetCampaign(ctx context.Context, tenantID, campaignID string) (*dunning.Campaign, error) {
	c, err := e.store.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Deleted() {
		return nil, dunning.NewError(dunning.ErrNotFound, "campaign not found", nil, map[string]any{
			"tenant_id": tenantID,
			"id":        campaignID,
		})
	}
	return c, nil
}

func (e *Engine) ListCampaigns(ctx context.Context, tenantID string, activeOnly bool) ([]*dunning.Campaign, error) {
	if err := requireField("tenant_id", tenantID); err != nil {
		return nil, err
	}
	return e.store.ListCampaigns(ctx, store.CampaignFilter{TenantID: tenantID, ActiveOnly: activeOnly})
}

// UpdateCampaign applies patch under a version check. In-flight executions
// keep the plan and retry policy they were started with.
func (e *Engine) UpdateCampaign(ctx context.Context, tenantID, campaignID string, patch CampaignPatch) (*dunning.Campaign, error) {
	var updated *dunning.Campaign
	err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		current, err := tx.LockCampaign(ctx, tenantID, campaignID)
		if err != nil {
			return err
		}
		if current.Deleted() {
			return dunning.NewError(dunning.ErrNotFound, "campaign not found", nil, map[string]any{
				"tenant_id": tenantID,
				"id":        campaignID,
			})
		}
		expected := current.Version
		if patch.ExpectedVersion != 0 && patch.ExpectedVersion != current.Version {
			return dunning.NewError(dunning.ErrConcurrencyConflict, "campaign version conflict", nil, map[string]any{
				"id":               campaignID,
				"expected_version": patch.ExpectedVersion,
				"actual_version":   current.Version,
			})
		}

		next := current.Clone()
		patch.apply(next)
		if err := next.Validate(); err != nil {
			return err
		}
		next.UpdatedAt = e.now()
		version, err := tx.UpdateCampaign(ctx, next, expected)
		if err != nil {
			return err
		}
		next.Version = version
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log(ctx, map[string]any{"tenant_id": tenantID, "campaign_id": campaignID}).
		Info("campaign updated to version %d", updated.Version)
	return updated, nil
}

// DeleteCampaign soft-deletes a campaign. It is refused while any
// non-terminal execution references the campaign.
func (e *Engine) DeleteCampaign(ctx context.Context, tenantID, campaignID string) error {
	err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		current, err := tx.LockCampaign(ctx, tenantID, campaignID)
		if err != nil {
			return err
		}
		if current.Deleted() {
			return dunning.NewError(dunning.ErrNotFound, "campaign not found", nil, map[string]any{
				"tenant_id": tenantID,
				"id":        campaignID,
			})
		}
		open, err := tx.ListExecutions(ctx, store.ExecutionFilter{
			TenantID:   tenantID,
			CampaignID: campaignID,
			Statuses:   openStatuses,
		})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return dunning.NewError(dunning.ErrInvalidState, "campaign has running executions", nil, map[string]any{
				"campaign_id":     campaignID,
				"open_executions": len(open),
			})
		}
		now := e.now()
		current.DeletedAt = &now
		current.UpdatedAt = now
		_, err = tx.UpdateCampaign(ctx, current, current.Version)
		return err
	})
	if err != nil {
		return err
	}
	e.log(ctx, map[string]any{"tenant_id": tenantID, "campaign_id": campaignID}).Info("campaign deleted")
	return nil
}

// SelectCampaign picks the campaign that should handle an invoice that is
// daysOverdue days late: active, triggered, not excluding the customer,
// highest priority first, then oldest, then lowest id. It returns nil when
// nothing applies.
func (e *Engine) SelectCampaign(ctx context.Context, tenantID string, daysOverdue int, snapshot dunning.CustomerSnapshot) (*dunning.Campaign, error) {
	if err := requireField("tenant_id", tenantID); err != nil {
		return nil, err
	}
	campaigns, err := e.store.ListCampaigns(ctx, store.CampaignFilter{TenantID: tenantID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	candidates := make([]*dunning.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if c.Deleted() || !c.IsActive || c.TriggerAfterDays > daysOverdue {
			continue
		}
		ev := dunning.Evaluate(c.ExclusionRules, snapshot)
		logger := e.log(ctx, map[string]any{"tenant_id": tenantID, "campaign_id": c.ID, "customer_id": snapshot.CustomerID})
		for _, warning := range ev.Warnings {
			logger.Warn("%s", warning)
		}
		if ev.Excluded {
			logger.Debug("customer excluded by rules %v", ev.Matched)
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return candidates[0], nil
}

// EnrollInput describes an overdue invoice to enroll into dunning.
type EnrollInput struct {
	TenantID          string
	CustomerID        string
	InvoiceID         string
	SubscriptionID    string
	OutstandingAmount int64
	DaysOverdue       int
}

// EnrollInvoice resolves the customer snapshot, selects a campaign and
// starts an execution. It returns nil without error when no campaign
// applies or the customer is excluded everywhere.
func (e *Engine) EnrollInvoice(ctx context.Context, in EnrollInput) (*dunning.Execution, error) {
	if e.snapshots == nil {
		return nil, dunning.NewError(dunning.ErrInvalidState, "customer snapshot provider not configured", nil, nil)
	}
	if err := requireField("customer_id", in.CustomerID); err != nil {
		return nil, err
	}
	snapshot, err := e.snapshots.CustomerSnapshot(ctx, in.TenantID, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if snapshot.CustomerID == "" {
		snapshot.CustomerID = in.CustomerID
	}

	campaign, err := e.SelectCampaign(ctx, in.TenantID, in.DaysOverdue, snapshot)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		e.log(ctx, map[string]any{"tenant_id": in.TenantID, "invoice_id": in.InvoiceID}).
			Info("no campaign applies to invoice")
		return nil, nil
	}
	return e.StartExecution(ctx, StartExecutionInput{
		TenantID:          in.TenantID,
		CampaignID:        campaign.ID,
		CustomerID:        in.CustomerID,
		InvoiceID:         in.InvoiceID,
		SubscriptionID:    in.SubscriptionID,
		OutstandingAmount: in.OutstandingAmount,
	})
}
