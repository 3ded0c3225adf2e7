package runner

import (
	"math"
	"time"
)

// RetryStrategy encapsulates the delay between retries.
type RetryStrategy interface {
	// SleepDuration returns how long to wait before the next attempt.
	// attempt is 1 for the first retry after a failure.
	SleepDuration(attempt int, err error) time.Duration
}

// RetryDecision is the full answer of a strategy for one failed attempt.
type RetryDecision struct {
	ShouldRetry bool
	Delay       time.Duration
	Metadata    map[string]any
}

// RetryDecider is implemented by strategies that can also refuse a retry.
type RetryDecider interface {
	DecideRetry(attempt int, err error) RetryDecision
}

// DecideRetry asks strategy for a decision. Strategies that only know
// delays always retry.
func DecideRetry(strategy RetryStrategy, attempt int, err error) RetryDecision {
	if strategy == nil {
		return RetryDecision{ShouldRetry: true}
	}
	if decider, ok := strategy.(RetryDecider); ok {
		return decider.DecideRetry(attempt, err)
	}
	return RetryDecision{ShouldRetry: true, Delay: strategy.SleepDuration(attempt, err)}
}

// NoDelayStrategy retries immediately.
type NoDelayStrategy struct{}

func (NoDelayStrategy) SleepDuration(_ int, _ error) time.Duration {
	return 0
}

// FixedIntervalStrategy waits the same interval before every retry.
type FixedIntervalStrategy struct {
	Interval time.Duration
}

func (f FixedIntervalStrategy) SleepDuration(_ int, _ error) time.Duration {
	if f.Interval < 0 {
		return 0
	}
	return f.Interval
}

// ExponentialBackoffStrategy grows the delay by Factor per attempt.
//
//	ExponentialBackoffStrategy{
//	    Base:   time.Hour,
//	    Factor: 2,
//	    Max:    72 * time.Hour,
//	}
type ExponentialBackoffStrategy struct {
	Base   time.Duration
	Factor float64
	// Max caps the growth when positive.
	Max time.Duration
}

func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(e.Base) * math.Pow(factor, float64(attempt-1))
	if e.Max > 0 && (delay > float64(e.Max) || math.IsInf(delay, 1)) {
		return e.Max
	}
	return time.Duration(delay)
}

// BoundedStrategy allows at most MaxRetries retries, delegating delays to
// Strategy (no delay when nil).
type BoundedStrategy struct {
	MaxRetries int
	Strategy   RetryStrategy
}

func (b BoundedStrategy) SleepDuration(attempt int, err error) time.Duration {
	if b.Strategy == nil {
		return 0
	}
	return b.Strategy.SleepDuration(attempt, err)
}

func (b BoundedStrategy) DecideRetry(attempt int, err error) RetryDecision {
	if attempt > b.MaxRetries {
		return RetryDecision{
			ShouldRetry: false,
			Metadata:    map[string]any{"max_retries": b.MaxRetries, "attempt": attempt},
		}
	}
	return RetryDecision{ShouldRetry: true, Delay: b.SleepDuration(attempt, err)}
}
