package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/offload/internal/task"
)

// DefaultQueueSize is the capacity of each channel when none is configured
const DefaultQueueSize = 500

// Config holds the externally configurable knobs of an executor
type Config struct {
	// QueueSize is the capacity of both the task and result channels
	QueueSize int
	// Name identifies the worker in logs, metrics and process listings
	Name string
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		QueueSize: DefaultQueueSize,
		Name:      "default",
	}
}

// Option customizes an Executor
type Option func(*Executor)

// WithConfig sets queue size and name
func WithConfig(cfg Config) Option {
	return func(e *Executor) {
		e.config = cfg
	}
}

// WithHost sets where the worker runs
func WithHost(h Host) Option {
	return func(e *Executor) {
		e.host = h
	}
}

// WithLogger sets the executor logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.baseLogger = l
	}
}

// WithMetrics enables Prometheus metrics
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// Executor owns one worker, a bounded task channel, a bounded result channel
// and a target function. All methods are safe for concurrent use.
type Executor struct {
	mu sync.Mutex

	target  Target
	config  Config
	host    Host
	metrics *Metrics

	baseLogger *slog.Logger
	logger     *slog.Logger

	tasks   chan *task.Task
	results chan *task.Task
	cancel  context.CancelFunc
	proc    Process

	// running is tasks submitted minus results consumed
	running atomic.Int64
}

// New creates a stopped executor for target
func New(target Target, opts ...Option) *Executor {
	e := &Executor{}
	e.apply(target, opts)
	e.logger.Info("executor initialized", "target_kind", target.Kind.String())
	return e
}

// apply resets construction parameters; callers hold mu or own e exclusively
func (e *Executor) apply(target Target, opts []Option) {
	e.target = target
	e.config = DefaultConfig()
	if e.host == nil {
		e.host = InProcessHost{}
	}
	if e.baseLogger == nil {
		e.baseLogger = slog.Default()
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.baseLogger.With("component", "executor", "executor", e.config.Name)
}

// Configure sets the queue size and worker name. It must be called before
// Start; while the worker is running the change is rejected with a warning
// and Reinitialize must be used instead.
func (e *Executor) Configure(queueSize int, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.aliveLocked() {
		e.logger.Warn("cannot configure a running executor, reinitialize it first",
			"queue_size", queueSize,
			"name", name)
		return
	}

	if queueSize <= 0 {
		e.logger.Warn("invalid queue size specified, using default",
			"specified_size", queueSize,
			"default_size", DefaultQueueSize)
		queueSize = DefaultQueueSize
	}
	e.config.QueueSize = queueSize
	if name != "" && name != e.config.Name {
		e.config.Name = name
		e.logger = e.baseLogger.With("component", "executor", "executor", name)
	}
}

// Start creates the channel pair and launches the worker. Starting a running
// executor is a no-op.
func (e *Executor) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.aliveLocked() {
		e.logger.Warn("executor is already running", "pid", e.proc.Pid())
		return nil
	}
	if e.target.Fn == nil {
		return ErrNoTarget
	}

	tasks := make(chan *task.Task, e.config.QueueSize)
	results := make(chan *task.Task, e.config.QueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	proc, err := e.host.Launch(ctx, Worker{
		Name:    e.config.Name,
		Target:  e.target,
		Tasks:   tasks,
		Results: results,
		Logger:  e.logger,
		Metrics: e.metrics,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to launch worker %s: %w", e.config.Name, err)
	}

	e.tasks = tasks
	e.results = results
	e.cancel = cancel
	e.proc = proc
	e.running.Store(0)
	e.metrics.setRunning(e.config.Name, 0)
	e.metrics.setWorkerUp(e.config.Name, true)

	e.logger.Info("executor started",
		"queue_size", e.config.QueueSize,
		"target_kind", e.target.Kind.String(),
		"pid", proc.Pid())
	return nil
}

// Stop terminates the worker and blocks until it has exited. Tasks without
// a result are lost; results already produced stay readable. Stopping a
// stopped executor is a no-op.
func (e *Executor) Stop() {
	e.mu.Lock()
	proc, cancel := e.proc, e.cancel
	e.mu.Unlock()

	if proc == nil {
		return
	}

	cancel()
	<-proc.Done()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc != proc {
		return
	}
	e.proc = nil
	e.cancel = nil

	// Only results already produced can still be consumed
	lost := e.running.Load() - int64(len(e.results))
	e.running.Store(int64(len(e.results)))
	e.metrics.setRunning(e.config.Name, e.running.Load())
	e.metrics.setWorkerUp(e.config.Name, false)

	e.logger.Info("executor stopped", "lost_tasks", max(lost, 0), "exit_error", proc.Err())
}

// Reinitialize stops the executor if needed and re-applies construction
// parameters in place. Holders of the executor keep the same pointer and see
// the new target after the next Start.
func (e *Executor) Reinitialize(target Target, opts ...Option) {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(target, opts)
	e.logger.Info("executor reinitialized", "target_kind", target.Kind.String())
}

// IsAlive reports whether a worker exists and is running
func (e *Executor) IsAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aliveLocked()
}

func (e *Executor) aliveLocked() bool {
	if e.proc == nil {
		return false
	}
	select {
	case <-e.proc.Done():
		return false
	default:
		return true
	}
}

// PutTask enqueues a copy of t for the worker, so the caller keeps sole
// ownership of t whichever host runs the worker. It blocks while the task
// channel is full, until space frees up or ctx is done.
func (e *Executor) PutTask(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	sent := t.Clone()

	e.mu.Lock()
	if !e.aliveLocked() {
		e.mu.Unlock()
		return ErrNotRunning
	}
	tasks, done, name, logger := e.tasks, e.proc.Done(), e.config.Name, e.logger
	e.mu.Unlock()

	e.metrics.setRunning(name, e.running.Add(1))

	select {
	case tasks <- sent:
		e.metrics.taskSubmitted(name)
		logger.Debug("task put", "task_id", t.ID, "queue_len", len(tasks))
		return nil
	case <-ctx.Done():
		e.metrics.setRunning(name, e.running.Add(-1))
		return ctx.Err()
	case <-done:
		e.metrics.setRunning(name, e.running.Add(-1))
		return ErrNotRunning
	}
}

// GetResult returns a result if one is available without blocking
func (e *Executor) GetResult() (*task.Task, bool) {
	results := e.resultChannel()

	select {
	case t := <-results:
		e.consumed()
		return t, true
	default:
		return nil, false
	}
}

// WaitResult blocks until a result is available or ctx is done
func (e *Executor) WaitResult(ctx context.Context) (*task.Task, error) {
	results := e.resultChannel()
	if results == nil {
		return nil, ErrNotRunning
	}

	select {
	case t := <-results:
		e.consumed()
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PutResult returns a result that belongs to another caller back to the
// result channel. It restores the count taken when the result was read, so
// a read followed by PutResult leaves NTasksRunning unchanged. The worker can
// refill the slot the result came from; if the channel stays full until ctx
// is done the result is dropped and ctx's error returned.
func (e *Executor) PutResult(ctx context.Context, t *task.Task) error {
	results := e.resultChannel()
	if results == nil {
		return ErrNotRunning
	}

	e.mu.Lock()
	name, logger := e.config.Name, e.logger
	e.mu.Unlock()

	e.metrics.setRunning(name, e.running.Add(1))

	select {
	case results <- t:
	default:
		select {
		case results <- t:
		case <-ctx.Done():
			e.metrics.setRunning(name, e.running.Add(-1))
			logger.Warn("result channel full, dropping result of another caller",
				"task_id", t.ID,
				"error", ctx.Err())
			return ctx.Err()
		}
	}

	e.metrics.resultRequeued(name)
	logger.Debug("result put back", "task_id", t.ID)
	return nil
}

func (e *Executor) consumed() {
	e.mu.Lock()
	name := e.config.Name
	e.mu.Unlock()

	e.metrics.setRunning(name, e.running.Add(-1))
	e.metrics.resultConsumed(name)
}

func (e *Executor) resultChannel() chan *task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results
}

// NTasksRunning returns tasks submitted minus results consumed
func (e *Executor) NTasksRunning() int64 {
	return e.running.Load()
}

// ResultsPending reports how many results are waiting to be consumed
func (e *Executor) ResultsPending() int {
	return len(e.resultChannel())
}

// QueueSize returns the configured channel capacity
func (e *Executor) QueueSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config.QueueSize
}

// Name returns the configured worker name
func (e *Executor) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config.Name
}

// Status is a point in time view of an executor
type Status struct {
	Name         string `json:"name"`
	Alive        bool   `json:"alive"`
	Pid          int    `json:"pid,omitempty"`
	TargetKind   string `json:"target_kind"`
	QueueSize    int    `json:"queue_size"`
	TasksRunning int64  `json:"tasks_running"`
}

// Status returns a snapshot of the executor state
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Name:         e.config.Name,
		Alive:        e.aliveLocked(),
		TargetKind:   e.target.Kind.String(),
		QueueSize:    e.config.QueueSize,
		TasksRunning: e.running.Load(),
	}
	if s.Alive {
		s.Pid = e.proc.Pid()
	}
	return s
}

// String implements fmt.Stringer
func (e *Executor) String() string {
	s := e.Status()
	return fmt.Sprintf("executor %s (queue_size: %d, alive: %t)", s.Name, s.QueueSize, s.Alive)
}
