package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dunning"
	"github.com/goliatone/go-dunning/runner"
	"github.com/goliatone/go-dunning/store"
)

var openStatuses = []dunning.ExecutionStatus{dunning.StatusPending, dunning.StatusInProgress}

// StartExecutionInput identifies the invoice a campaign should run against.
type StartExecutionInput struct {
	TenantID          string
	CampaignID        string
	CustomerID        string
	InvoiceID         string
	SubscriptionID    string
	OutstandingAmount int64
}

func (in StartExecutionInput) validate() error {
	for _, f := range []struct{ name, value string }{
		{"tenant_id", in.TenantID},
		{"campaign_id", in.CampaignID},
		{"customer_id", in.CustomerID},
		{"invoice_id", in.InvoiceID},
	} {
		if err := requireField(f.name, f.value); err != nil {
			return err
		}
	}
	if in.OutstandingAmount < 0 {
		return dunning.NewError(dunning.ErrValidation,
			fmt.Sprintf("outstanding amount must be non-negative, got %d", in.OutstandingAmount), nil,
			map[string]any{"invoice_id": in.InvoiceID})
	}
	return nil
}

// StartExecution creates a pending execution and counts it on the
// campaign. Exclusion rules are not consulted here.
func (e *Engine) StartExecution(ctx context.Context, in StartExecutionInput) (*dunning.Execution, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var exec *dunning.Execution
	err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		campaign, err := tx.LockCampaign(ctx, in.TenantID, in.CampaignID)
		if err != nil {
			return err
		}
		if campaign.Deleted() {
			return dunning.NewError(dunning.ErrNotFound, "campaign not found", nil, map[string]any{
				"tenant_id": in.TenantID,
				"id":        in.CampaignID,
			})
		}
		if !campaign.IsActive {
			return dunning.NewError(dunning.ErrInvalidState, "campaign is not active", nil, map[string]any{
				"campaign_id": campaign.ID,
			})
		}
		if len(campaign.Actions) == 0 {
			return dunning.NewError(dunning.ErrInvalidState, "campaign has no actions", nil, map[string]any{
				"campaign_id": campaign.ID,
			})
		}

		now := e.now()
		exec = &dunning.Execution{
			ID:                e.newID(),
			TenantID:          in.TenantID,
			CampaignID:        campaign.ID,
			SubscriptionID:    strings.TrimSpace(in.SubscriptionID),
			CustomerID:        strings.TrimSpace(in.CustomerID),
			InvoiceID:         strings.TrimSpace(in.InvoiceID),
			OutstandingAmount: in.OutstandingAmount,
			TotalSteps:        len(campaign.Actions),
			Plan:              dunning.CloneActions(campaign.Actions),
			Policy:            campaign.RetryPolicy(),
			StartedAt:         now,
			Status:            dunning.StatusPending,
			Log:               []dunning.LogEntry{},
			UpdatedAt:         now,
			Version:           1,
		}
		first, _ := exec.ScheduledAt(0)
		exec.NextActionAt = &first

		if err := tx.InsertExecution(ctx, exec); err != nil {
			return err
		}
		return tx.IncrementCampaignCounters(ctx, in.TenantID, campaign.ID, store.CounterDelta{TotalExecutions: 1})
	})
	if err != nil {
		return nil, err
	}

	e.log(ctx, executionFields(exec)).Info("execution started, first action at %s", exec.NextActionAt.Format(time.RFC3339))
	return exec, nil
}

func (e *Engine) GetExecution(ctx context.Context, tenantID, executionID string) (*dunning.Execution, error) {
	return e.store.GetExecution(ctx, tenantID, executionID)
}

func (e *Engine) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*dunning.Execution, error) {
	if err := requireField("tenant_id", filter.TenantID); err != nil {
		return nil, err
	}
	return e.store.ListExecutions(ctx, filter)
}

// ActionLog returns the durable attempt history of one execution.
func (e *Engine) ActionLog(ctx context.Context, tenantID, executionID string) ([]dunning.ActionLogEntry, error) {
	return e.store.ListActionLog(ctx, store.ActionLogFilter{TenantID: tenantID, ExecutionID: executionID})
}

// DueExecutions lists executions whose next action is due now.
func (e *Engine) DueExecutions(ctx context.Context, limit int) ([]*dunning.Execution, error) {
	return e.store.DueExecutions(ctx, e.now(), limit)
}

// ExecuteNextAction performs the current step of an execution. Notifier
// failures are recorded in the returned result, never returned as errors.
// The per-execution lock is held for the whole read-modify-write.
func (e *Engine) ExecuteNextAction(ctx context.Context, tenantID, executionID string) (*dunning.ActionResult, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	exec, err := e.store.GetExecution(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() || exec.CurrentStep >= exec.TotalSteps {
		return nil, invalidState("execution has no pending action", exec)
	}
	action, ok := exec.CurrentAction()
	if !ok {
		return nil, invalidState("execution plan does not cover current step", exec)
	}

	logger := e.log(ctx, executionFields(exec))
	attempt := exec.RetryCount + 1
	req := dunning.ActionRequest{
		TenantID:          exec.TenantID,
		CampaignID:        exec.CampaignID,
		ExecutionID:       exec.ID,
		CustomerID:        exec.CustomerID,
		InvoiceID:         exec.InvoiceID,
		SubscriptionID:    exec.SubscriptionID,
		StepNumber:        exec.CurrentStep,
		Attempt:           attempt,
		Action:            action,
		OutstandingAmount: exec.OutstandingAmount,
		RecoveredAmount:   exec.RecoveredAmount,
	}

	handler := runner.NewHandler(
		runner.WithTimeout(e.actionTimeout),
		runner.WithLogger(logger),
	)
	detail, runErr := runner.RunAction(ctx, handler, e.executor, req)

	now := e.now()
	next := exec.Clone()
	result := &dunning.ActionResult{
		ExecutionID: exec.ID,
		StepNumber:  exec.CurrentStep,
		ActionType:  action.Kind,
		Attempt:     attempt,
	}

	if runErr == nil {
		result.Status = dunning.LogSuccess
		result.Detail = detail
		next.Log = append(next.Log, dunning.LogEntry{
			StepNumber: exec.CurrentStep,
			ActionType: action.Kind,
			Status:     dunning.LogSuccess,
			Timestamp:  now,
			Detail:     detail,
		})
		e.advance(next, now)
	} else {
		failure := dunning.NewError(dunning.ErrActionFailed, "action failed", runErr, map[string]any{
			"execution_id": exec.ID,
			"step":         exec.CurrentStep,
			"action_type":  string(action.Kind),
		})
		result.Status = dunning.LogFailure
		result.Detail = failureDetail(detail, runErr)
		next.Log = append(next.Log, dunning.LogEntry{
			StepNumber: exec.CurrentStep,
			ActionType: action.Kind,
			Status:     dunning.LogFailure,
			Timestamp:  now,
			Detail:     result.Detail,
		})
		result.Decision = e.handleFailure(next, now, runErr)
		logger.Warn("%s attempt %d failed: %s (code=%s decision=%s)", action.Kind, attempt, result.Detail,
			dunning.ErrorCode(failure), decisionLabel(result.Decision))
	}

	entry := dunning.ActionLogEntry{
		ID:          e.newID(),
		TenantID:    exec.TenantID,
		CampaignID:  exec.CampaignID,
		ExecutionID: exec.ID,
		StepNumber:  exec.CurrentStep,
		ActionType:  action.Kind,
		Status:      result.Status,
		Attempt:     attempt,
		Detail:      result.Detail,
		CreatedAt:   now,
	}
	next.UpdatedAt = now

	err = e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		current, err := tx.LockExecution(ctx, tenantID, executionID)
		if err != nil {
			return err
		}
		if current.Version != exec.Version {
			return dunning.NewError(dunning.ErrConcurrencyConflict, "execution changed while action was running", nil, map[string]any{
				"execution_id":     exec.ID,
				"expected_version": exec.Version,
				"actual_version":   current.Version,
				"status":           string(current.Status),
			})
		}
		version, err := tx.UpdateExecution(ctx, next, exec.Version)
		if err != nil {
			return err
		}
		next.Version = version
		return tx.AppendActionLog(ctx, entry)
	})
	if err != nil {
		logger.Error("execution save failed after %s attempt: %v", action.Kind, err)
		if dunning.IsConcurrencyConflict(err) {
			// the attempt happened even though its outcome was discarded
			if logErr := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
				return tx.AppendActionLog(ctx, entry)
			}); logErr != nil {
				logger.Error("action log append failed for discarded %s attempt: %v", action.Kind, logErr)
			}
		}
		return nil, err
	}

	result.ExecutionStatus = next.Status
	if next.NextActionAt != nil {
		result.NextActionAt = dunning.TimePtr(*next.NextActionAt)
	}
	logger.Info("step %d %s -> %s, execution %s", result.StepNumber, action.Kind, result.Status, next.Status)
	return result, nil
}

// advance moves to the next step, completing the execution past the last.
func (e *Engine) advance(exec *dunning.Execution, now time.Time) {
	exec.Status = dunning.StatusInProgress
	exec.CurrentStep++
	exec.RetryCount = 0
	if exec.CurrentStep >= exec.TotalSteps {
		exec.CurrentStep = exec.TotalSteps
		complete(exec, dunning.StatusCompleted, dunning.CompletionStepsExhausted, now)
		return
	}
	at, _ := exec.ScheduledAt(exec.CurrentStep)
	exec.NextActionAt = &at
}

func (e *Engine) handleFailure(exec *dunning.Execution, now time.Time, cause error) dunning.Decision {
	exec.Status = dunning.StatusInProgress
	exec.RetryCount++

	strategy := runner.BoundedStrategy{
		MaxRetries: exec.Policy.MaxRetries,
		Strategy:   e.backoff(exec.Policy),
	}
	decision := runner.DecideRetry(strategy, exec.RetryCount, cause)
	if decision.ShouldRetry {
		at := now.Add(decision.Delay)
		exec.NextActionAt = &at
		return dunning.DecisionNone
	}

	verdict := e.policy.OnRetryExhausted(exec.Clone())
	switch verdict {
	case dunning.DecisionHold:
		exec.RetryCount = 0
		at := now.Add(dunning.Days(exec.Policy.RetryIntervalDays))
		exec.NextActionAt = &at
	case dunning.DecisionEscalate:
		complete(exec, dunning.StatusFailed, dunning.CompletionRetriesEscalated, now)
	default:
		verdict = dunning.DecisionAdvance
		kind := dunning.ActionKind("")
		if action, ok := exec.CurrentAction(); ok {
			kind = action.Kind
		}
		exec.Log = append(exec.Log, dunning.LogEntry{
			StepNumber: exec.CurrentStep,
			ActionType: kind,
			Status:     dunning.LogSkipped,
			Timestamp:  now,
			Detail:     fmt.Sprintf("retries exhausted after %d attempts", exec.RetryCount),
		})
		e.advance(exec, now)
	}
	return verdict
}

// CancelExecution stops a pending or in-progress execution. Canceling a
// terminal execution is an InvalidState error.
func (e *Engine) CancelExecution(ctx context.Context, tenantID, executionID, reason, actor string) (*dunning.Execution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	var canceled *dunning.Execution
	err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		current, err := tx.LockExecution(ctx, tenantID, executionID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return invalidState("execution already terminal", current)
		}
		now := e.now()
		next := current.Clone()
		next.CanceledReason = strings.TrimSpace(reason)
		next.CanceledBy = strings.TrimSpace(actor)
		next.CompletionReason = ""
		complete(next, dunning.StatusCanceled, "", now)
		next.UpdatedAt = now
		version, err := tx.UpdateExecution(ctx, next, current.Version)
		if err != nil {
			return err
		}
		next.Version = version
		canceled = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log(ctx, executionFields(canceled)).Info("execution canceled by %q: %s", canceled.CanceledBy, canceled.CanceledReason)
	return canceled, nil
}

// RecordPaymentRecovery adds a payment to the execution. Reaching the
// outstanding amount completes a running execution. Execution and campaign
// counters are written in one transaction.
func (e *Engine) RecordPaymentRecovery(ctx context.Context, tenantID, executionID string, amount int64) (*dunning.Execution, error) {
	if amount <= 0 {
		return nil, dunning.NewError(dunning.ErrValidation,
			fmt.Sprintf("recovered amount must be positive, got %d", amount), nil,
			map[string]any{"execution_id": executionID})
	}

	unlock := e.locks.Lock(executionID)
	defer unlock()

	var (
		settled    *dunning.Execution
		settledNow bool
	)
	err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		current, err := tx.LockExecution(ctx, tenantID, executionID)
		if err != nil {
			return err
		}
		if current.Status == dunning.StatusCanceled {
			return invalidState("cannot record payment on a canceled execution", current)
		}

		now := e.now()
		next := current.Clone()
		next.RecoveredAmount += amount
		next.UpdatedAt = now

		delta := store.CounterDelta{TotalRecoveredAmount: amount}
		if !next.Status.Terminal() && next.RecoveredAmount >= next.OutstandingAmount {
			complete(next, dunning.StatusCompleted, dunning.CompletionPaymentRecovered, now)
			delta.SuccessfulExecutions = 1
			settledNow = true
		}

		version, err := tx.UpdateExecution(ctx, next, current.Version)
		if err != nil {
			return err
		}
		next.Version = version
		if err := tx.IncrementCampaignCounters(ctx, tenantID, next.CampaignID, delta); err != nil {
			return err
		}
		settled = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := e.log(ctx, executionFields(settled))
	if settledNow {
		logger.Info("execution settled by payment, recovered %d of %d", settled.RecoveredAmount, settled.OutstandingAmount)
	} else {
		logger.Info("payment of %d recorded, recovered %d of %d", amount, settled.RecoveredAmount, settled.OutstandingAmount)
	}
	return settled, nil
}

func complete(exec *dunning.Execution, status dunning.ExecutionStatus, reason dunning.CompletionReason, now time.Time) {
	exec.Status = status
	exec.CompletionReason = reason
	exec.CompletedAt = dunning.TimePtr(now)
	exec.NextActionAt = nil
}

func failureDetail(detail string, err error) string {
	detail = strings.TrimSpace(detail)
	if err == nil {
		return detail
	}
	if detail == "" {
		return err.Error()
	}
	return detail + ": " + err.Error()
}

func decisionLabel(d dunning.Decision) string {
	if d == dunning.DecisionNone {
		return "retry"
	}
	return string(d)
}

func executionFields(exec *dunning.Execution) map[string]any {
	if exec == nil {
		return nil
	}
	return map[string]any{
		"tenant_id":    exec.TenantID,
		"campaign_id":  exec.CampaignID,
		"execution_id": exec.ID,
		"step":         exec.CurrentStep,
	}
}
