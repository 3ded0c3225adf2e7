package store

import (
	"context"
	"time"

	"github.com/goliatone/go-dunning"
)

// CounterDelta carries explicit increments (or absolute values for resets)
// for the campaign aggregate counters.
type CounterDelta struct {
	TotalExecutions      int64
	SuccessfulExecutions int64
	TotalRecoveredAmount int64
}

func (d CounterDelta) IsZero() bool {
	return d.TotalExecutions == 0 && d.SuccessfulExecutions == 0 && d.TotalRecoveredAmount == 0
}

type CampaignFilter struct {
	TenantID       string
	ActiveOnly     bool
	IncludeDeleted bool
}

type ExecutionFilter struct {
	TenantID   string
	CampaignID string
	InvoiceID  string
	Statuses   []dunning.ExecutionStatus
}

type ActionLogFilter struct {
	TenantID    string
	CampaignID  string
	ExecutionID string
}

// Reader is the read side shared by stores and transactions.
//
// GetCampaign returns soft-deleted campaigns too; callers check Deleted.
// Missing rows yield an error matching dunning.IsNotFound.
type Reader interface {
	GetCampaign(ctx context.Context, tenantID, campaignID string) (*dunning.Campaign, error)
	ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*dunning.Campaign, error)
	GetExecution(ctx context.Context, tenantID, executionID string) (*dunning.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*dunning.Execution, error)
	ListActionLog(ctx context.Context, filter ActionLogFilter) ([]dunning.ActionLogEntry, error)
}

// Tx is the transactional boundary. Writes are visible to later reads in
// the same transaction and become durable only when the transaction
// function returns nil.
type Tx interface {
	Reader

	// LockCampaign and LockExecution read a row and hold it until the
	// transaction ends.
	LockCampaign(ctx context.Context, tenantID, campaignID string) (*dunning.Campaign, error)
	LockExecution(ctx context.Context, tenantID, executionID string) (*dunning.Execution, error)

	InsertCampaign(ctx context.Context, c *dunning.Campaign) error
	// UpdateCampaign writes definition fields only; counters are untouched.
	UpdateCampaign(ctx context.Context, c *dunning.Campaign, expectedVersion int) (int, error)
	IncrementCampaignCounters(ctx context.Context, tenantID, campaignID string, delta CounterDelta) error
	SetCampaignCounters(ctx context.Context, tenantID, campaignID string, counters CounterDelta) error

	// InsertExecution rejects a second non-terminal execution for the same
	// campaign and invoice with dunning.ErrDuplicateExecution.
	InsertExecution(ctx context.Context, e *dunning.Execution) error
	UpdateExecution(ctx context.Context, e *dunning.Execution, expectedVersion int) (int, error)

	AppendActionLog(ctx context.Context, entry dunning.ActionLogEntry) error
}

// Store persists campaigns, executions and the action log.
type Store interface {
	Reader
	// DueExecutions lists non-terminal executions with next_action_at <= now
	// across tenants, oldest first.
	DueExecutions(ctx context.Context, now time.Time, limit int) ([]*dunning.Execution, error)
	RunInTransaction(ctx context.Context, fn func(Tx) error) error
}

func notFound(kind, tenantID, id string) error {
	return dunning.NewError(dunning.ErrNotFound, kind+" not found", nil, map[string]any{
		"tenant_id": tenantID,
		"id":        id,
	})
}

func versionConflict(kind, id string, expected, actual int) error {
	return dunning.NewError(dunning.ErrConcurrencyConflict, kind+" version conflict", nil, map[string]any{
		"id":               id,
		"expected_version": expected,
		"actual_version":   actual,
	})
}

func duplicateExecution(e *dunning.Execution) error {
	return dunning.NewError(dunning.ErrDuplicateExecution, "", nil, map[string]any{
		"tenant_id":   e.TenantID,
		"campaign_id": e.CampaignID,
		"invoice_id":  e.InvoiceID,
	})
}

func statusIn(status dunning.ExecutionStatus, statuses []dunning.ExecutionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
