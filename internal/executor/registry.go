package executor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds the one shared executor per role. The application owns a
// single Registry and passes it to every component that submits work.
type Registry struct {
	mu        sync.Mutex
	executors map[string]*Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		executors: make(map[string]*Executor),
		logger:    logger.With("component", "executor_registry"),
	}
}

// Instance returns the executor registered for role, calling build to create
// it on first use. Every caller asking for the same role gets the same
// pointer; build runs at most once per role.
func (r *Registry) Instance(role string, build func() *Executor) *Executor {
	e, _ := r.TryInstance(role, func() (*Executor, error) {
		return build(), nil
	})
	return e
}

// TryInstance is Instance for builders that can fail. A failed build leaves
// the role unregistered so the next caller tries again.
func (r *Registry) TryInstance(role string, build func() (*Executor, error)) (*Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.executors[role]; ok {
		return e, nil
	}

	e, err := build()
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: builder for %s returned nil", ErrNoTarget, role)
	}
	r.executors[role] = e
	r.logger.Info("executor registered", "role", role, "executor", e.Name())
	return e, nil
}

// Get returns the executor registered for role, if any
func (r *Registry) Get(role string) (*Executor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executors[role]
	return e, ok
}

// Names returns the registered roles in sorted order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.executors))
	for role := range r.executors {
		names = append(names, role)
	}
	sort.Strings(names)
	return names
}

// StopAll stops every registered executor. Executors stay registered and can
// be started again.
func (r *Registry) StopAll() {
	for _, role := range r.Names() {
		e, ok := r.Get(role)
		if !ok {
			continue
		}
		e.Stop()
	}
	r.logger.Info("all executors stopped")
}

// Snapshot returns the status of every registered executor, ordered by role
func (r *Registry) Snapshot() []Status {
	roles := r.Names()
	out := make([]Status, 0, len(roles))
	for _, role := range roles {
		if e, ok := r.Get(role); ok {
			out = append(out, e.Status())
		}
	}
	return out
}
