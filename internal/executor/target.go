package executor

import (
	"context"
	"time"

	"github.com/phrazzld/offload/internal/task"
)

// Kind tells the dispatch loop how to schedule a target
type Kind int

const (
	// Sync targets process one task at a time, in receive order
	Sync Kind = iota
	// Async targets process every received task on its own goroutine
	Async
)

// String implements fmt.Stringer
func (k Kind) String() string {
	if k == Async {
		return "async"
	}
	return "sync"
}

// Func is the work performed for one task. It must always return a task
// carrying the same ID with Result set; returning nil or panicking is
// converted into a failed task by the dispatch loop.
type Func func(ctx context.Context, t *task.Task) *task.Task

// Target is the function an executor runs, tagged with how it is scheduled.
type Target struct {
	Kind Kind
	Fn   Func

	// Concurrency bounds the number of in-flight async tasks. Zero means
	// unbounded. Ignored for Sync targets.
	Concurrency int

	// Idle, when set, is invoked on every dispatch tick of IdleEvery.
	Idle      func(ctx context.Context)
	IdleEvery time.Duration
}

// DefaultIdleEvery is the dispatch tick used when a target sets Idle without
// an interval
const DefaultIdleEvery = 500 * time.Millisecond

// SyncTarget wraps fn as a sequential target
func SyncTarget(fn Func) Target {
	return Target{Kind: Sync, Fn: fn}
}

// AsyncTarget wraps fn as a concurrent target
func AsyncTarget(fn Func) Target {
	return Target{Kind: Async, Fn: fn}
}

// WithConcurrency returns a copy of the target limited to n in-flight tasks
func (t Target) WithConcurrency(n int) Target {
	t.Concurrency = n
	return t
}

// WithIdle returns a copy of the target that calls fn on every tick
func (t Target) WithIdle(every time.Duration, fn func(ctx context.Context)) Target {
	t.Idle = fn
	t.IdleEvery = every
	return t
}
