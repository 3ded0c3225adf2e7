package dunning

import "time"

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "pending"
	StatusInProgress ExecutionStatus = "in_progress"
	StatusCompleted  ExecutionStatus = "completed"
	StatusCanceled   ExecutionStatus = "canceled"
	// StatusFailed is only reached when the exhaustion policy escalates.
	StatusFailed ExecutionStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

// CompletionReason records why an execution reached a terminal state.
type CompletionReason string

const (
	CompletionStepsExhausted   CompletionReason = "steps_exhausted"
	CompletionPaymentRecovered CompletionReason = "payment_recovered"
	CompletionRetriesEscalated CompletionReason = "retries_escalated"
)

// LogStatus is the outcome recorded for an action attempt.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogFailure LogStatus = "failure"
	// LogSkipped marks a step advanced after its retries ran out.
	LogSkipped LogStatus = "skipped"
)

// LogEntry is the execution's embedded mirror of the action log.
type LogEntry struct {
	StepNumber int        `json:"step_number"`
	ActionType ActionKind `json:"action_type"`
	Status     LogStatus  `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	Detail     string     `json:"detail,omitempty"`
}

// Execution is one run of a campaign against one overdue invoice.
type Execution struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	CampaignID     string `json:"campaign_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	CustomerID     string `json:"customer_id"`
	InvoiceID      string `json:"invoice_id"`

	OutstandingAmount int64 `json:"outstanding_amount"`
	RecoveredAmount   int64 `json:"recovered_amount"`

	CurrentStep int         `json:"current_step"`
	TotalSteps  int         `json:"total_steps"`
	RetryCount  int         `json:"retry_count"`
	Plan        []Action    `json:"plan"`
	Policy      RetryPolicy `json:"policy"`

	NextActionAt *time.Time `json:"next_action_at,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	Status           ExecutionStatus  `json:"status"`
	CompletionReason CompletionReason `json:"completion_reason,omitempty"`
	Log              []LogEntry       `json:"execution_log"`

	CanceledReason string `json:"canceled_reason,omitempty"`
	CanceledBy     string `json:"canceled_by,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Due reports whether the execution should be acted on at now.
func (e *Execution) Due(now time.Time) bool {
	if e == nil || e.Status.Terminal() || e.NextActionAt == nil {
		return false
	}
	return !e.NextActionAt.After(now)
}

// CurrentAction returns the planned action at CurrentStep.
func (e *Execution) CurrentAction() (Action, bool) {
	if e == nil || e.CurrentStep < 0 || e.CurrentStep >= len(e.Plan) {
		return Action{}, false
	}
	return e.Plan[e.CurrentStep], true
}

// ScheduledAt returns StartedAt offset by the delay of step.
func (e *Execution) ScheduledAt(step int) (time.Time, bool) {
	if e == nil || step < 0 || step >= len(e.Plan) {
		return time.Time{}, false
	}
	return e.StartedAt.Add(Days(e.Plan[step].DelayDays)), true
}

// Clone returns a deep copy.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Plan = CloneActions(e.Plan)
	if e.Log != nil {
		cp.Log = append([]LogEntry(nil), e.Log...)
	}
	cp.NextActionAt = cloneTime(e.NextActionAt)
	cp.CompletedAt = cloneTime(e.CompletedAt)
	return &cp
}

// ActionLogEntry is one durable, insert-only record of an action attempt.
type ActionLogEntry struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	CampaignID  string     `json:"campaign_id"`
	ExecutionID string     `json:"execution_id"`
	StepNumber  int        `json:"step_number"`
	ActionType  ActionKind `json:"action_type"`
	Status      LogStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	Detail      string     `json:"detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Days converts a day count into a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
