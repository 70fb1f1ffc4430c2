package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/smilemakc/mbflow/pkg/models"
)

// Registry implements the Manager interface with thread-safe executor registration.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates a new executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// NewManager creates a new executor manager.
// Built-in executors should be registered separately using RegisterBuiltins function
// from pkg/executor/builtin package to avoid import cycles.
func NewManager() Manager {
	return NewRegistry()
}

// Register registers an executor for a specific node type.
func (r *Registry) Register(nodeType string, executor Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if nodeType == "" {
		return fmt.Errorf("node type cannot be empty")
	}

	if executor == nil {
		return fmt.Errorf("executor cannot be nil")
	}

	r.executors[nodeType] = executor
	return nil
}

// Get retrieves an executor by node type.
func (r *Registry) Get(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrExecutorNotFound, nodeType)
	}

	return executor, nil
}

// Has checks if an executor is registered for the given node type.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.executors[nodeType]
	return ok
}

// List returns a list of all registered executor types.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for nodeType := range r.executors {
		types = append(types, nodeType)
	}

	return types
}

// Unregister removes an executor for a specific node type.
func (r *Registry) Unregister(nodeType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executors[nodeType]; !ok {
		return fmt.Errorf("%w: %s", models.ErrExecutorNotFound, nodeType)
	}

	delete(r.executors, nodeType)
	return nil
}

// HealthChecker is an optional interface an Executor may implement to
// report readiness (e.g. a connection pool or upstream API is reachable).
// Registry.HealthCheck only calls it for executors that implement it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterDomain registers every executor in group under nodeType keys of
// "<domain>.<name>", the convention used to group related executors (e.g.
// all queue-job executors for a single subsystem) without name collisions
// against unrelated domains registered elsewhere.
func (r *Registry) RegisterDomain(domain string, group map[string]Executor) error {
	for name, ex := range group {
		if err := r.Register(domain+"."+name, ex); err != nil {
			return fmt.Errorf("failed to register %s executor %q: %w", domain, name, err)
		}
	}
	return nil
}

// HealthCheck runs HealthCheck on every registered executor that
// implements HealthChecker and returns the per-executor errors observed,
// keyed by node type. A nil map means every checked executor is healthy.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]Executor, len(r.executors))
	for nodeType, ex := range r.executors {
		snapshot[nodeType] = ex
	}
	r.mu.RUnlock()

	var errs map[string]error
	for nodeType, ex := range snapshot {
		checker, ok := ex.(HealthChecker)
		if !ok {
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[nodeType] = err
		}
	}
	return errs
}
