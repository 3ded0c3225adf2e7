package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-dunning"
)

// Registry routes action requests to the executor registered for their
// kind. It is itself an ActionExecutor.
type Registry struct {
	mu        sync.RWMutex
	executors map[dunning.ActionKind]dunning.ActionExecutor
	fallback  dunning.ActionExecutor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[dunning.ActionKind]dunning.ActionExecutor)}
}

// Register binds executor to kind. Each kind can be registered once.
func (r *Registry) Register(kind dunning.ActionKind, executor dunning.ActionExecutor) error {
	if !kind.Valid() {
		return dunning.NewError(dunning.ErrValidation, fmt.Sprintf("unknown action kind %q", kind), nil,
			map[string]any{"allowed": dunning.ActionKinds()})
	}
	if executor == nil {
		return dunning.NewError(dunning.ErrValidation, "executor required", nil, map[string]any{"kind": string(kind)})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		return dunning.NewError(dunning.ErrInvalidState, fmt.Sprintf("executor already registered for %s", kind), nil,
			map[string]any{"kind": string(kind)})
	}
	r.executors[kind] = executor
	return nil
}

// SetFallback sets the executor used for kinds without a registration.
func (r *Registry) SetFallback(executor dunning.ActionExecutor) {
	r.mu.Lock()
	r.fallback = executor
	r.mu.Unlock()
}

// Kinds lists the registered kinds in catalog order.
func (r *Registry) Kinds() []dunning.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dunning.ActionKind, 0, len(r.executors))
	for _, kind := range dunning.ActionKinds() {
		if _, ok := r.executors[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}

func (r *Registry) Execute(ctx context.Context, req dunning.ActionRequest) (string, error) {
	r.mu.RLock()
	executor, ok := r.executors[req.Action.Kind]
	if !ok {
		executor = r.fallback
	}
	r.mu.RUnlock()

	if executor == nil {
		return "", dunning.NewError(dunning.ErrActionFailed, fmt.Sprintf("no executor registered for %s", req.Action.Kind), nil,
			map[string]any{"execution_id": req.ExecutionID, "kind": string(req.Action.Kind)})
	}
	return executor.Execute(ctx, req)
}
