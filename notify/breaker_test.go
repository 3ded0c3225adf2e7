package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/goliatone/go-dunning"
)

type flakyExecutor struct {
	err   error
	calls int
}

func (f *flakyExecutor) Execute(context.Context, dunning.ActionRequest) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "ok", nil
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	clock := dunning.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	next := &flakyExecutor{err: errors.New("provider down")}
	cb := NewCircuitBreaker(next, 2, time.Minute, WithBreakerClock(clock))
	ctx := context.Background()
	req := dunning.ActionRequest{Action: dunning.EmailAction(0, "t")}

	_, err := cb.Execute(ctx, req)
	assert.EqualError(t, err, "provider down")
	assert.False(t, cb.Open())
	_, _ = cb.Execute(ctx, req)
	assert.True(t, cb.Open())

	_, err = cb.Execute(ctx, req)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, next.calls)

	clock.Advance(2 * time.Minute)
	_, err = cb.Execute(ctx, req)
	assert.EqualError(t, err, "provider down", "half-open trial call reaches the executor")
	assert.True(t, cb.Open())
	assert.Equal(t, 3, next.calls)

	_, err = cb.Execute(ctx, req)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clock.Advance(2 * time.Minute)
	next.err = nil
	detail, err := cb.Execute(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, "ok", detail)
	assert.False(t, cb.Open())
}

func TestCircuitBreakerPanicDuringTrialReopens(t *testing.T) {
	clock := dunning.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	panics := true
	calls := 0
	next := dunning.ActionExecutorFunc(func(context.Context, dunning.ActionRequest) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("provider down")
		}
		if panics {
			panic("publisher crashed")
		}
		return "ok", nil
	})
	cb := NewCircuitBreaker(next, 1, time.Minute, WithBreakerClock(clock))
	ctx := context.Background()
	req := dunning.ActionRequest{Action: dunning.SMSAction(0, "t")}

	_, err := cb.Execute(ctx, req)
	assert.EqualError(t, err, "provider down")
	assert.True(t, cb.Open())

	clock.Advance(2 * time.Minute)
	assert.PanicsWithValue(t, "publisher crashed", func() {
		_, _ = cb.Execute(ctx, req)
	})
	assert.True(t, cb.Open(), "a panicking trial call keeps the circuit open")

	_, err = cb.Execute(ctx, req)
	assert.ErrorIs(t, err, ErrCircuitOpen, "reset timeout restarts from the panic")

	clock.Advance(2 * time.Minute)
	panics = false
	detail, err := cb.Execute(ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, "ok", detail)
	assert.False(t, cb.Open())
	assert.Equal(t, 3, calls)
}
