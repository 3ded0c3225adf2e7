package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-dunning"
)

var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreaker stops calling a failing executor for resetTimeout after
// failureThreshold consecutive failures. Once the timeout passes, a single
// trial call is let through; its result closes or re-opens the circuit.
type CircuitBreaker struct {
	mu sync.Mutex

	next  dunning.ActionExecutor
	clock dunning.Clock

	failureThreshold int
	resetTimeout     time.Duration

	failures      int
	lastFailure   time.Time
	isOpen        bool
	trialInFlight bool
}

type BreakerOption func(*CircuitBreaker)

func WithBreakerClock(clock dunning.Clock) BreakerOption {
	return func(cb *CircuitBreaker) {
		if clock != nil {
			cb.clock = clock
		}
	}
}

func NewCircuitBreaker(next dunning.ActionExecutor, failureThreshold int, resetTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	cb := &CircuitBreaker{
		next:             next,
		clock:            dunning.SystemClock{},
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cb)
		}
	}
	return cb
}

// Execute forwards to the wrapped executor while the circuit is closed. A
// panic in the wrapped executor counts as a failure and is re-raised.
func (c *CircuitBreaker) Execute(ctx context.Context, req dunning.ActionRequest) (detail string, err error) {
	if !c.acquire() {
		return "", ErrCircuitOpen
	}
	defer func() {
		if r := recover(); r != nil {
			c.recordResult(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	detail, err = c.next.Execute(ctx, req)
	c.recordResult(err)
	return detail, err
}

// Open reports whether calls are currently being rejected.
func (c *CircuitBreaker) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

func (c *CircuitBreaker) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpen {
		return true
	}
	if c.trialInFlight || c.clock.Now().Sub(c.lastFailure) <= c.resetTimeout {
		return false
	}
	c.trialInFlight = true
	return true
}

func (c *CircuitBreaker) recordResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.trialInFlight = false
	if err == nil {
		c.failures = 0
		c.isOpen = false
		return
	}

	c.failures++
	if c.isOpen || c.failures >= c.failureThreshold {
		c.isOpen = true
		c.lastFailure = c.clock.Now()
	}
}
