package runner

import (
	"fmt"
	"testing"
	"time"
)

type fixedDecisionStrategy struct {
	decision RetryDecision
}

func (f fixedDecisionStrategy) SleepDuration(int, error) time.Duration {
	return f.decision.Delay
}

func (f fixedDecisionStrategy) DecideRetry(int, error) RetryDecision {
	return f.decision
}

func TestDecideRetryUsesDeciderWhenAvailable(t *testing.T) {
	strategy := fixedDecisionStrategy{
		decision: RetryDecision{
			ShouldRetry: false,
			Delay:       25 * time.Millisecond,
			Metadata:    map[string]any{"source": "test"},
		},
	}

	decision := DecideRetry(strategy, 1, fmt.Errorf("boom"))
	if decision.ShouldRetry {
		t.Fatal("expected strategy decision to disable retry")
	}
	if decision.Delay != 25*time.Millisecond {
		t.Fatalf("unexpected delay: %s", decision.Delay)
	}
	if decision.Metadata["source"] != "test" {
		t.Fatal("expected metadata propagation")
	}
}

func TestDecideRetryFallsBackToSleepDuration(t *testing.T) {
	strategy := ExponentialBackoffStrategy{
		Base:   10 * time.Millisecond,
		Factor: 2,
		Max:    100 * time.Millisecond,
	}
	decision := DecideRetry(strategy, 3, nil)
	if !decision.ShouldRetry {
		t.Fatal("expected fallback strategy to retry")
	}
	if decision.Delay != 40*time.Millisecond {
		t.Fatalf("unexpected fallback delay: %s", decision.Delay)
	}
}

func TestExponentialBackoffCapsAtMax(t *testing.T) {
	strategy := ExponentialBackoffStrategy{Base: time.Hour, Factor: 3, Max: 5 * time.Hour}
	cases := map[int]time.Duration{
		0: time.Hour,
		1: time.Hour,
		2: 3 * time.Hour,
		3: 5 * time.Hour,
		9: 5 * time.Hour,
	}
	for attempt, want := range cases {
		if got := strategy.SleepDuration(attempt, nil); got != want {
			t.Errorf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestFixedIntervalStrategy(t *testing.T) {
	s := FixedIntervalStrategy{Interval: 48 * time.Hour}
	if got := s.SleepDuration(7, nil); got != 48*time.Hour {
		t.Fatalf("expected 48h, got %s", got)
	}
	if got := (FixedIntervalStrategy{Interval: -time.Second}).SleepDuration(1, nil); got != 0 {
		t.Fatalf("expected negative interval to clamp to 0, got %s", got)
	}
}

func TestBoundedStrategyDecision(t *testing.T) {
	s := BoundedStrategy{MaxRetries: 2, Strategy: FixedIntervalStrategy{Interval: time.Minute}}

	for attempt := 1; attempt <= 2; attempt++ {
		d := DecideRetry(s, attempt, nil)
		if !d.ShouldRetry || d.Delay != time.Minute {
			t.Fatalf("attempt %d: expected retry after 1m, got %+v", attempt, d)
		}
	}
	d := DecideRetry(s, 3, nil)
	if d.ShouldRetry {
		t.Fatal("expected no retry past max")
	}
	if d.Metadata["max_retries"] != 2 {
		t.Fatalf("expected max_retries metadata, got %v", d.Metadata)
	}
}

func TestNilStrategyRetries(t *testing.T) {
	if d := DecideRetry(nil, 1, nil); !d.ShouldRetry || d.Delay != 0 {
		t.Fatalf("unexpected decision %+v", d)
	}
}
