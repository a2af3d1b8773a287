package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/offload/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue is a Queue whose results are scripted by the test
type fakeQueue struct {
	mu       sync.Mutex
	put      []string
	putErr   error
	results  chan *task.Task
	requeued []string
	// refill is pushed after every WaitResult hit, the way a worker fills
	// the slot a reader just freed
	refill []*task.Task
}

func newFakeQueue(results ...*task.Task) *fakeQueue {
	q := &fakeQueue{results: make(chan *task.Task, 16)}
	for _, r := range results {
		q.results <- r
	}
	return q
}

func (q *fakeQueue) PutTask(_ context.Context, t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.putErr != nil {
		return q.putErr
	}
	q.put = append(q.put, t.ID)
	return nil
}

func (q *fakeQueue) WaitResult(ctx context.Context) (*task.Task, error) {
	select {
	case t := <-q.results:
		q.mu.Lock()
		if len(q.refill) > 0 {
			q.results <- q.refill[0]
			q.refill = q.refill[1:]
		}
		q.mu.Unlock()
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) PutResult(ctx context.Context, t *task.Task) error {
	select {
	case q.results <- t:
		q.mu.Lock()
		q.requeued = append(q.requeued, t.ID)
		q.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *fakeQueue) requeuedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.requeued...)
}

func finished(id string) *task.Task {
	t := task.New(task.KindGeneric, task.WithID(id))
	t.Succeed()
	return t
}

func TestCorrelator_Await(t *testing.T) {
	t.Parallel()

	t.Run("matching result first", func(t *testing.T) {
		t.Parallel()

		q := newFakeQueue(finished("a"))
		c := NewCorrelator(q, time.Millisecond, testLogger())

		r, err := c.Await(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "a", r.ID)
		assert.Empty(t, q.requeuedIDs())
	})

	t.Run("foreign result is put back", func(t *testing.T) {
		t.Parallel()

		q := newFakeQueue(finished("b"), finished("a"))
		c := NewCorrelator(q, time.Millisecond, testLogger())

		r, err := c.Await(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "a", r.ID)
		assert.Equal(t, []string{"b"}, q.requeuedIDs())

		// The foreign result is still available to its owner
		r, err = c.Await(context.Background(), "b")
		require.NoError(t, err)
		assert.Equal(t, "b", r.ID)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		q := newFakeQueue(finished("b"))
		c := NewCorrelator(q, time.Millisecond, testLogger())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := c.Await(ctx, "a")
		assert.ErrorIs(t, err, ErrResultTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestCorrelator_OutOfOrderResults(t *testing.T) {
	t.Parallel()

	// Results arrive in reverse submission order
	q := newFakeQueue(finished("t4"), finished("t3"), finished("t2"), finished("t1"), finished("t0"))
	c := NewCorrelator(q, time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tasks := make([]*task.Task, 5)
	for i := range tasks {
		tasks[i] = task.New(task.KindGeneric, task.WithID("t"+string(rune('0'+i))))
	}

	results, err := c.SubmitAll(ctx, tasks)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, tasks[i].ID, r.ID)
		assert.True(t, r.Result)
	}
}

func TestCorrelator_SubmitAllTimeout(t *testing.T) {
	t.Parallel()

	// Only "a" ever completes
	q := newFakeQueue(finished("a"))
	c := NewCorrelator(q, time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tasks := []*task.Task{
		task.New(task.KindGeneric, task.WithID("a")),
		task.New(task.KindGeneric, task.WithID("lost")),
	}
	results, err := c.SubmitAll(ctx, tasks)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Result)

	assert.Equal(t, "lost", results[1].ID)
	assert.False(t, results[1].Result)
	assert.Equal(t, task.StatusFailed, results[1].Status)
	assert.Equal(t, task.Localized(task.MsgTimeout), results[1].Message)

	// The submitted task itself is untouched
	assert.Equal(t, task.StatusPending, tasks[1].Status)
}

func TestCorrelator_SubmitError(t *testing.T) {
	t.Parallel()

	q := newFakeQueue()
	q.putErr = ErrNotRunning
	c := NewCorrelator(q, time.Millisecond, testLogger())

	_, err := c.Submit(context.Background(), task.New(task.KindGeneric))
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.False(t, errors.Is(err, ErrResultTimeout))

	_, err = c.SubmitAll(context.Background(), []*task.Task{task.New(task.KindGeneric)})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestCorrelator_DefaultPollInterval(t *testing.T) {
	t.Parallel()

	c := NewCorrelator(newFakeQueue(), 0, nil)
	assert.Equal(t, DefaultPollInterval, c.pollInterval)
}

func TestCorrelator_AwaitFullResultChannel(t *testing.T) {
	t.Parallel()

	// One slot, refilled by someone else's result as soon as it is read
	q := &fakeQueue{
		results: make(chan *task.Task, 1),
		refill:  []*task.Task{finished("other-2")},
	}
	q.results <- finished("other-1")

	c := NewCorrelator(q, time.Millisecond, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Await(ctx, "mine")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResultTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "Await must honour its deadline")
	assert.Empty(t, q.requeuedIDs())
}
