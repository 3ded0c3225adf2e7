package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-dunning"
	"github.com/goliatone/go-dunning/store"
)

// Engine owns campaign definitions and drives executions through their
// lifecycle.
type Engine struct {
	store     store.Store
	executor  dunning.ActionExecutor
	snapshots dunning.CustomerSnapshotProvider

	logger        dunning.Logger
	clock         dunning.Clock
	policy        ExhaustionPolicy
	backoff       BackoffFactory
	actionTimeout time.Duration
	newID         func() string

	locks *keyLocker
}

func New(st store.Store, executor dunning.ActionExecutor, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("engine: store required")
	}
	if executor == nil {
		return nil, errors.New("engine: action executor required")
	}
	e := &Engine{
		store:         st,
		executor:      executor,
		clock:         dunning.SystemClock{},
		policy:        AdvancePolicy{},
		backoff:       FixedIntervalBackoff,
		actionTimeout: DefaultActionTimeout,
		newID:         uuid.NewString,
		locks:         newKeyLocker(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = dunning.NormalizeLogger(e.logger)
	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

func (e *Engine) log(ctx context.Context, fields map[string]any) dunning.Logger {
	logger := e.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	return dunning.WithLoggerFields(logger, fields)
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return dunning.NewError(dunning.ErrValidation, name+" required", nil, map[string]any{"field": name})
	}
	return nil
}

func invalidState(message string, exec *dunning.Execution) error {
	meta := map[string]any{}
	if exec != nil {
		meta["execution_id"] = exec.ID
		meta["status"] = string(exec.Status)
		meta["current_step"] = exec.CurrentStep
		meta["total_steps"] = exec.TotalSteps
	}
	return dunning.NewError(dunning.ErrInvalidState, message, nil, meta)
}
