package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/offload/internal/redact"
	"github.com/phrazzld/offload/internal/task"
	"golang.org/x/sync/semaphore"
)

// Worker describes everything a dispatch loop needs: the target, the
// channel pair and where to log.
type Worker struct {
	Name    string
	Target  Target
	Tasks   <-chan *task.Task
	Results chan<- *task.Task
	Logger  *slog.Logger
	Metrics *Metrics
}

// Dispatch runs the worker loop until ctx is cancelled or the task channel is
// closed. Sync targets run each task to completion before the next receive;
// async targets run every task on its own goroutine and publish results in
// completion order. A closed task channel waits for in-flight tasks; a
// cancelled ctx abandons them.
func Dispatch(ctx context.Context, w Worker) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("worker", w.Name, "target_kind", w.Target.Kind.String())

	var idle <-chan time.Time
	if w.Target.Idle != nil {
		every := w.Target.IdleEvery
		if every <= 0 {
			every = DefaultIdleEvery
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		idle = ticker.C
	}

	var sem *semaphore.Weighted
	if w.Target.Kind == Async && w.Target.Concurrency > 0 {
		sem = semaphore.NewWeighted(int64(w.Target.Concurrency))
	}

	var inflight sync.WaitGroup

	logger.Debug("entering dispatch loop")
	defer logger.Debug("dispatch loop stopped")

	for {
		select {
		case <-ctx.Done():
			return

		case t, ok := <-w.Tasks:
			if !ok {
				logger.Debug("task channel closed, waiting for in-flight tasks")
				inflight.Wait()
				return
			}
			logger.Debug("worker got task", "task_id", t.ID)

			if w.Target.Kind == Sync {
				if !runSync(ctx, w, logger, t) {
					return
				}
				continue
			}

			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
			}
			inflight.Add(1)
			go func(t *task.Task) {
				defer inflight.Done()
				if sem != nil {
					defer sem.Release(1)
				}
				publish(ctx, w.Results, execute(ctx, w, logger, t))
			}(t)

		case <-idle:
			w.Target.Idle(ctx)
		}
	}
}

// runSync executes t on a separate goroutine and waits for it, so that a
// cancelled context abandons the task instead of waiting on it. It reports
// false when the loop must stop.
func runSync(ctx context.Context, w Worker, logger *slog.Logger, t *task.Task) bool {
	done := make(chan *task.Task, 1)
	go func() {
		done <- execute(ctx, w, logger, t)
	}()

	select {
	case out := <-done:
		return publish(ctx, w.Results, out)
	case <-ctx.Done():
		logger.Warn("abandoning in-flight task", "task_id", t.ID)
		return false
	}
}

// execute runs the target for one task and guarantees a non-nil result with
// the task's original ID.
func execute(ctx context.Context, w Worker, logger *slog.Logger, t *task.Task) (out *task.Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrWorkerPanic, r)
			logger.Error("target panicked",
				"task_id", t.ID,
				"error", redact.String(err.Error()))
			out = failed(t)
		}
		w.Metrics.observeTask(w.Name, out.Result, time.Since(start))
	}()

	out = w.Target.Fn(ctx, t)
	if out == nil {
		logger.Error("target returned no task",
			"task_id", t.ID,
			"error", ErrNilResult)
		return failed(t)
	}
	if out.ID != t.ID {
		logger.Warn("target changed task id, restoring it",
			"task_id", t.ID,
			"returned_id", out.ID)
		out.ID = t.ID
	}
	return out
}

// failed converts t into a failed task
func failed(t *task.Task) *task.Task {
	t.Fail(task.Localized(task.MsgWorkerFailed))
	return t
}

// publish pushes a result unless the worker is being torn down
func publish(ctx context.Context, results chan<- *task.Task, t *task.Task) bool {
	select {
	case results <- t:
		return true
	case <-ctx.Done():
		return false
	}
}
