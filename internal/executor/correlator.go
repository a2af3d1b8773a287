package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/offload/internal/task"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is how long a caller backs off after putting back a
// result that belongs to someone else
const DefaultPollInterval = 100 * time.Millisecond

// Queue is the part of an Executor the correlator needs
type Queue interface {
	PutTask(ctx context.Context, t *task.Task) error
	WaitResult(ctx context.Context) (*task.Task, error)
	PutResult(ctx context.Context, t *task.Task) error
}

// Correlator matches results to the callers that submitted them. Several
// callers can share one executor: a result read by the wrong caller is put
// back for its owner.
type Correlator struct {
	queue        Queue
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewCorrelator creates a correlator over q. A non-positive poll interval
// falls back to DefaultPollInterval.
func NewCorrelator(q Queue, pollInterval time.Duration, logger *slog.Logger) *Correlator {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		queue:        q,
		pollInterval: pollInterval,
		logger:       logger.With("component", "correlator"),
	}
}

// Await blocks until the result for id is available or ctx is done. Results
// for other ids are returned to the queue. A ctx that expires yields an error
// wrapping ErrResultTimeout.
func (c *Correlator) Await(ctx context.Context, id string) (*task.Task, error) {
	for {
		result, err := c.queue.WaitResult(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: task %s: %w", ErrResultTimeout, id, err)
			}
			return nil, err
		}

		if result.ID == id {
			return result, nil
		}

		c.logger.Debug("result belongs to another caller, putting it back",
			"task_id", id,
			"result_id", result.ID)
		if err := c.queue.PutResult(ctx, result); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: task %s: %w", ErrResultTimeout, id, err)
			}
			return nil, err
		}

		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: task %s: %w", ErrResultTimeout, id, ctx.Err())
		}
	}
}

// Submit enqueues t and waits for its result
func (c *Correlator) Submit(ctx context.Context, t *task.Task) (*task.Task, error) {
	if err := c.queue.PutTask(ctx, t); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: task %s: %w", ErrResultTimeout, t.ID, err)
		}
		return nil, fmt.Errorf("failed to submit task %s: %w", t.ID, err)
	}
	return c.Await(ctx, t.ID)
}

// SubmitAll submits every task concurrently and returns the results in input
// order. A task whose result does not arrive in time is returned as a failed
// copy carrying the timeout message; any other error aborts the batch.
func (c *Correlator) SubmitAll(ctx context.Context, tasks []*task.Task) ([]*task.Task, error) {
	out := make([]*task.Task, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			result, err := c.Submit(gctx, t)
			switch {
			case err == nil:
				out[i] = result
			case errors.Is(err, ErrResultTimeout) && ctx.Err() != nil:
				c.logger.Warn("task timed out", "task_id", t.ID)
				timedOut := t.Clone()
				timedOut.Fail(task.Localized(task.MsgTimeout))
				out[i] = timedOut
			default:
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Await waits on e for the result of id using the default poll interval
func Await(ctx context.Context, e Queue, id string) (*task.Task, error) {
	return NewCorrelator(e, DefaultPollInterval, nil).Await(ctx, id)
}

// Submit enqueues t on e and waits for its result
func Submit(ctx context.Context, e Queue, t *task.Task) (*task.Task, error) {
	return NewCorrelator(e, DefaultPollInterval, nil).Submit(ctx, t)
}

// SubmitAll submits tasks on e concurrently, see Correlator.SubmitAll
func SubmitAll(ctx context.Context, e Queue, tasks []*task.Task) ([]*task.Task, error) {
	return NewCorrelator(e, DefaultPollInterval, nil).SubmitAll(ctx, tasks)
}
