package executors

import (
	"context"
	"sync"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// Executor performs the real-world side effect for one action type.
// Execute must honor ctx cancellation; the scheduler enforces a per-task
// timeout around it.
type Executor interface {
	Execute(ctx context.Context, task *domain.Task) error
	Action() domain.ActionType
}

// Registry maps action types to their executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[domain.ActionType]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.ActionType]Executor)}
}

// Register adds an executor. Safe to call concurrently.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Action()] = e
}

// Get returns the executor for the given action type.
// Returns UnknownActionError if not registered.
func (r *Registry) Get(action domain.ActionType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[action]
	if !ok {
		return nil, &domain.UnknownActionError{Action: action}
	}
	return e, nil
}
