package dunning

import (
	"context"
	"time"
)

// ActionRequest is everything a notifier needs to perform one step.
type ActionRequest struct {
	TenantID       string
	CampaignID     string
	ExecutionID    string
	CustomerID     string
	InvoiceID      string
	SubscriptionID string

	StepNumber        int
	Attempt           int
	Action            Action
	OutstandingAmount int64
	RecoveredAmount   int64
}

// ActionExecutor performs the side effect for one action. The returned
// detail string is stored on the log entry.
type ActionExecutor interface {
	Execute(ctx context.Context, req ActionRequest) (string, error)
}

// ActionExecutorFunc adapts a function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, req ActionRequest) (string, error)

func (f ActionExecutorFunc) Execute(ctx context.Context, req ActionRequest) (string, error) {
	return f(ctx, req)
}

// CustomerSnapshotProvider resolves the attributes used by exclusion rules.
type CustomerSnapshotProvider interface {
	CustomerSnapshot(ctx context.Context, tenantID, customerID string) (CustomerSnapshot, error)
}

// CustomerSnapshotFunc adapts a function to CustomerSnapshotProvider.
type CustomerSnapshotFunc func(ctx context.Context, tenantID, customerID string) (CustomerSnapshot, error)

func (f CustomerSnapshotFunc) CustomerSnapshot(ctx context.Context, tenantID, customerID string) (CustomerSnapshot, error) {
	return f(ctx, tenantID, customerID)
}

// Decision is the outcome of the exhaustion policy.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionAdvance  Decision = "advance"
	DecisionHold     Decision = "hold"
	DecisionEscalate Decision = "escalate"
)

// ActionResult reports the outcome of one ExecuteNextAction call.
type ActionResult struct {
	ExecutionID     string
	StepNumber      int
	ActionType      ActionKind
	Status          LogStatus
	Detail          string
	Attempt         int
	Decision        Decision
	ExecutionStatus ExecutionStatus
	NextActionAt    *time.Time
}
