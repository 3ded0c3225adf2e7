package cron

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-dunning"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// SweepEngine is the part of the engine a sweep drives.
type SweepEngine interface {
	DueExecutions(ctx context.Context, limit int) ([]*dunning.Execution, error)
	ExecuteNextAction(ctx context.Context, tenantID, executionID string) (*dunning.ActionResult, error)
}

// SweepReport summarises one sweep.
type SweepReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Due       int
	// Succeeded and Failed count action outcomes; a failed action is still
	// a successful engine call.
	Succeeded int
	Failed    int
	Completed int
	// Skipped counts executions another worker changed first.
	Skipped int
	Errors  []error
}

// Sweeper executes the current step of every due execution.
type Sweeper struct {
	engine       SweepEngine
	logger       dunning.Logger
	clock        dunning.Clock
	batchSize    int
	concurrency  int
	errorHandler func(error)
}

type SweeperOption func(*Sweeper)

func WithBatchSize(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithConcurrency(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithSweepLogger(logger dunning.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithSweepClock(clock dunning.Clock) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSweepErrorHandler receives every engine error raised during a sweep.
func WithSweepErrorHandler(fn func(error)) SweeperOption {
	return func(s *Sweeper) {
		s.errorHandler = fn
	}
}

func NewSweeper(engine SweepEngine, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		engine:      engine,
		clock:       dunning.SystemClock{},
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = dunning.NormalizeLogger(s.logger)
	return s
}

// Sweep loads up to one batch of due executions and steps each of them
// with bounded parallelism. Per-execution errors are collected in the
// report; only listing failures and context cancellation are returned.
func (s *Sweeper) Sweep(ctx context.Context) (report SweepReport, err error) {
	report.StartedAt = s.clock.Now()
	defer func() { report.Duration = s.clock.Now().Sub(report.StartedAt) }()

	due, err := s.engine.DueExecutions(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("sweep: listing due executions failed: %v", err)
		return report, err
	}
	report.Due = len(due)
	if len(due) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, exec := range due {
		exec := exec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.engine.ExecuteNextAction(gctx, exec.TenantID, exec.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if res.Status == dunning.LogSuccess {
					report.Succeeded++
				} else {
					report.Failed++
				}
				if res.ExecutionStatus.Terminal() {
					report.Completed++
				}
			case dunning.IsConcurrencyConflict(err), dunning.IsInvalidState(err), dunning.IsNotFound(err):
				report.Skipped++
			default:
				report.Errors = append(report.Errors, err)
				if s.errorHandler != nil {
					s.errorHandler(err)
				}
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return report, err
	}

	s.logger.Info("sweep: %d due, %d succeeded, %d failed, %d completed, %d skipped, %d errors",
		report.Due, report.Succeeded, report.Failed, report.Completed, report.Skipped, len(report.Errors))
	return report, ctx.Err()
}

// Run sweeps once and discards the report. It fits ScheduleCron.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}
