package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-dunning"
)

// ErrTimeout is returned when fn does not return before the deadline.
var ErrTimeout = errors.New("runner: timed out")

// PanicError wraps a value recovered from a panicking function.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("runner: panic: %v", p.Value)
}

type Option func(*Handler)

func WithTimeout(t time.Duration) Option {
	return func(h *Handler) {
		h.timeout = t
	}
}

func WithDeadline(d time.Time) Option {
	return func(h *Handler) {
		h.deadline = d
	}
}

// WithMaxRetries sets in-process retries per Run. Defaults to 0.
func WithMaxRetries(max int) Option {
	return func(h *Handler) {
		h.maxRetries = max
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(h *Handler) {
		if fn == nil {
			fn = func(error) {}
		}
		h.errorHandler = fn
	}
}

func WithLogger(l dunning.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithRetryStrategy sets the delay between in-process retries.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(h *Handler) {
		h.retryStrategy = s
	}
}

// Handler runs a function with a bounded time budget, converting panics
// into errors.
type Handler struct {
	mu sync.Mutex

	logger        dunning.Logger
	errorHandler  func(error)
	retryStrategy RetryStrategy

	runs           int
	successfulRuns int

	maxRetries int
	timeout    time.Duration
	deadline   time.Time
}

func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		errorHandler:  func(error) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	h.logger = dunning.NormalizeLogger(h.logger)
	return h
}

// Run invokes fn until it succeeds or retries are used up and returns the
// last error. A function that ignores ctx is abandoned once ctx expires.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	if h == nil {
		return errors.New("runner: handler not configured")
	}
	if fn == nil {
		return errors.New("runner: function required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	h.mu.Lock()
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = h.attempt(ctx, fn)
		if err == nil {
			break
		}
		if attempt == maxRetries || ctx.Err() != nil {
			break
		}

		h.errorHandler(fmt.Errorf("attempt %d of %d: %w", attempt+1, maxRetries+1, err))
		decision := DecideRetry(strategy, attempt+1, err)
		if !decision.ShouldRetry {
			break
		}
		if decision.Delay > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				attempt = maxRetries
			case <-time.After(decision.Delay):
			}
		}
	}

	h.mu.Lock()
	h.runs++
	if err == nil {
		h.successfulRuns++
	}
	h.mu.Unlock()

	if err != nil {
		h.errorHandler(err)
	}
	return err
}

// Stats returns total and successful run counts.
func (h *Handler) Stats() (runs, successful int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, h.successfulRuns
}

func (h *Handler) attempt(parent context.Context, fn func(context.Context) error) error {
	ctx, cancel := h.contextWithSettings(parent)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := dunning.PanicStack()
				h.logger.Error("runner recovered from panic: %v", r)
				done <- &PanicError{Value: r, Stack: stack}
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	}
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout > 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout > 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return context.WithCancel(parent)
	}
}

// RunAction invokes executor through h and returns its detail string.
func RunAction(ctx context.Context, h *Handler, executor dunning.ActionExecutor, req dunning.ActionRequest) (string, error) {
	if executor == nil {
		return "", errors.New("runner: action executor required")
	}
	var (
		mu     sync.Mutex
		detail string
	)
	err := h.Run(ctx, func(ctx context.Context) error {
		d, err := executor.Execute(ctx, req)
		mu.Lock()
		detail = d
		mu.Unlock()
		return err
	})
	mu.Lock()
	defer mu.Unlock()
	return detail, err
}
