package engine

import (
	"time"

	"github.com/goliatone/go-dunning"
	"github.com/goliatone/go-dunning/runner"
)

// DefaultActionTimeout bounds a single notifier call.
const DefaultActionTimeout = 30 * time.Second

// BackoffFactory builds the retry delay strategy for an execution's
// snapshotted retry policy.
type BackoffFactory func(policy dunning.RetryPolicy) runner.RetryStrategy

// FixedIntervalBackoff waits RetryIntervalDays between attempts.
func FixedIntervalBackoff(policy dunning.RetryPolicy) runner.RetryStrategy {
	return runner.FixedIntervalStrategy{Interval: dunning.Days(policy.RetryIntervalDays)}
}

// ExponentialBackoff doubles the retry interval per attempt, capped at max.
func ExponentialBackoff(max time.Duration) BackoffFactory {
	return func(policy dunning.RetryPolicy) runner.RetryStrategy {
		return runner.ExponentialBackoffStrategy{
			Base:   dunning.Days(policy.RetryIntervalDays),
			Factor: 2,
			Max:    max,
		}
	}
}

type Option func(*Engine)

func WithLogger(logger dunning.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithClock(clock dunning.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithExhaustionPolicy(policy ExhaustionPolicy) Option {
	return func(e *Engine) {
		if policy != nil {
			e.policy = policy
		}
	}
}

func WithBackoff(factory BackoffFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.backoff = factory
		}
	}
}

func WithActionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.actionTimeout = d
		}
	}
}

func WithSnapshotProvider(p dunning.CustomerSnapshotProvider) Option {
	return func(e *Engine) {
		e.snapshots = p
	}
}

// WithIDGenerator replaces the uuid based id source.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}
