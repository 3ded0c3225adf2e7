package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dunning"
	"github.com/goliatone/go-dunning/store"
)

var t0 = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

type harness struct {
	engine *Engine
	store  *store.InMemoryStore
	clock  *dunning.ManualClock
	exec   *scriptedExecutor
	logs   *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// scriptedExecutor fails or succeeds per action kind and records calls.
type scriptedExecutor struct {
	mu    sync.Mutex
	fail  map[dunning.ActionKind]error
	hook  func(ctx context.Context, req dunning.ActionRequest) (string, error)
	calls []dunning.ActionRequest
}

func (s *scriptedExecutor) Execute(ctx context.Context, req dunning.ActionRequest) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	hook := s.hook
	err := s.fail[req.Action.Kind]
	s.mu.Unlock()

	if hook != nil {
		return hook(ctx, req)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s sent", req.Action.Kind), nil
}

func (s *scriptedExecutor) failKind(kind dunning.ActionKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail == nil {
		s.fail = make(map[dunning.ActionKind]error)
	}
	s.fail[kind] = err
}

func (s *scriptedExecutor) clearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = nil
}

func (s *scriptedExecutor) setHook(fn func(ctx context.Context, req dunning.ActionRequest) (string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store: store.NewInMemoryStore(),
		clock: dunning.NewManualClock(t0),
		exec:  &scriptedExecutor{},
		logs:  &syncBuffer{},
	}
	var seq int64
	base := []Option{
		WithClock(h.clock),
		WithLogger(dunning.NewFmtLogger(h.logs)),
		WithIDGenerator(func() string {
			return fmt.Sprintf("id-%03d", atomic.AddInt64(&seq, 1))
		}),
	}
	eng, err := New(h.store, h.exec, append(base, opts...)...)
	require.NoError(t, err)
	h.engine = eng
	return h
}

// standardCampaign is email on day 0, sms on day 3, suspension on day 7.
func standardCampaign(tenant string) *dunning.Campaign {
	return &dunning.Campaign{
		TenantID:          tenant,
		Name:              "Standard dunning",
		MaxRetries:        3,
		RetryIntervalDays: 1,
		IsActive:          true,
		Actions: []dunning.Action{
			dunning.EmailAction(0, "overdue-email"),
			dunning.SMSAction(3, "overdue-sms"),
			dunning.SuspendServiceAction(7, "non-payment"),
		},
	}
}

func (h *harness) createCampaign(t *testing.T, c *dunning.Campaign) *dunning.Campaign {
	t.Helper()
	created, err := h.engine.CreateCampaign(context.Background(), c)
	require.NoError(t, err)
	return created
}

func (h *harness) start(t *testing.T, c *dunning.Campaign, invoice string, amount int64) *dunning.Execution {
	t.Helper()
	exec, err := h.engine.StartExecution(context.Background(), StartExecutionInput{
		TenantID:          c.TenantID,
		CampaignID:        c.ID,
		CustomerID:        "cust-" + invoice,
		InvoiceID:         invoice,
		OutstandingAmount: amount,
	})
	require.NoError(t, err)
	return exec
}

func (h *harness) step(t *testing.T, exec *dunning.Execution) *dunning.ActionResult {
	t.Helper()
	res, err := h.engine.ExecuteNextAction(context.Background(), exec.TenantID, exec.ID)
	require.NoError(t, err)
	return res
}

func (h *harness) reload(t *testing.T, exec *dunning.Execution) *dunning.Execution {
	t.Helper()
	got, err := h.engine.GetExecution(context.Background(), exec.TenantID, exec.ID)
	require.NoError(t, err)
	checkInvariants(t, got)
	return got
}

func (h *harness) campaign(t *testing.T, c *dunning.Campaign) *dunning.Campaign {
	t.Helper()
	got, err := h.store.GetCampaign(context.Background(), c.TenantID, c.ID)
	require.NoError(t, err)
	return got
}

func checkInvariants(t *testing.T, exec *dunning.Execution) {
	t.Helper()
	if exec.CurrentStep < 0 || exec.CurrentStep > exec.TotalSteps {
		t.Fatalf("current_step %d out of bounds [0,%d]", exec.CurrentStep, exec.TotalSteps)
	}
	if exec.RetryCount > exec.Policy.MaxRetries+1 {
		t.Fatalf("retry_count %d exceeds max_retries+1 (%d)", exec.RetryCount, exec.Policy.MaxRetries+1)
	}
	if exec.TotalSteps != len(exec.Plan) {
		t.Fatalf("total_steps %d does not match plan length %d", exec.TotalSteps, len(exec.Plan))
	}
	noNext := exec.Status.Terminal() || exec.CurrentStep == exec.TotalSteps
	if noNext != (exec.NextActionAt == nil) {
		t.Fatalf("next_action_at nil=%v but status=%s step=%d/%d", exec.NextActionAt == nil, exec.Status, exec.CurrentStep, exec.TotalSteps)
	}
}
