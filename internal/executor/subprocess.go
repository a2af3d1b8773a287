package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/phrazzld/offload/internal/task"
)

// WorkerNameEnv carries the worker name into a child process
const WorkerNameEnv = "OFFLOAD_WORKER_NAME"

// SubprocessHost runs the dispatch loop in a child OS process. The child is
// expected to call Serve on its stdin and stdout; its stderr is forwarded to
// Stderr. The worker name becomes the child's argv[0] so it shows up in
// process listings.
//
// Tasks are written to the child as soon as they are queued, so PutTask
// starts blocking only once the child's own task queue and the pipe buffer
// are full as well. With the child serving the same queue size, roughly twice
// that many tasks are accepted before backpressure reaches the caller.
type SubprocessHost struct {
	// Path is the executable to start, usually os.Executable()
	Path string
	// Args are passed to the child after argv[0]
	Args []string
	// Env is appended to the current environment
	Env []string
	// Stderr receives the child's log output; os.Stderr when nil
	Stderr io.Writer
	// KillWait bounds how long Stop waits for pipes after killing the child
	KillWait time.Duration
}

// Launch implements Host
func (h SubprocessHost) Launch(ctx context.Context, w Worker) (Process, error) {
	if h.Path == "" {
		return nil, errors.New("subprocess host needs an executable path")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("worker", w.Name)

	cmd := exec.CommandContext(ctx, h.Path, h.Args...)
	if w.Name != "" {
		cmd.Args[0] = w.Name
	}
	cmd.Env = append(append(os.Environ(), h.Env...), WorkerNameEnv+"="+w.Name)
	cmd.Stderr = h.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.WaitDelay = h.KillWait
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}
	logger.Info("worker process started", "pid", cmd.Process.Pid)

	p := &subprocess{
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}

	// Forward tasks to the child
	go func() {
		defer stdin.Close()
		enc := NewEncoder(stdin)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case t, ok := <-w.Tasks:
				if !ok {
					return
				}
				if err := enc.Encode(t); err != nil {
					logger.Error("failed to send task to worker process",
						"task_id", t.ID,
						"error", err)
					return
				}
			}
		}
	}()

	// Collect results, then reap the child once stdout is drained
	go func() {
		dec := NewDecoder(stdout)
		for {
			t, err := dec.Decode()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Error("failed to read result from worker process", "error", err)
				}
				break
			}
			select {
			case w.Results <- t:
			case <-ctx.Done():
			}
		}

		p.setErr(cmd.Wait())
		logger.Info("worker process exited", "pid", p.pid, "error", p.Err())
		close(p.done)
	}()

	return p, nil
}

type subprocess struct {
	pid  int
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *subprocess) Done() <-chan struct{} { return p.done }

func (p *subprocess) Pid() int { return p.pid }

func (p *subprocess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *subprocess) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Serve is the child side of SubprocessHost. It decodes tasks from r, runs
// them through target and encodes results to w until ctx is cancelled or r
// reaches EOF.
func Serve(ctx context.Context, r io.Reader, w io.Writer, name string, target Target, capacity int, logger *slog.Logger) error {
	if target.Fn == nil {
		return ErrNoTarget
	}
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan *task.Task, capacity)
	results := make(chan *task.Task, capacity)

	// EOF on r closes the task channel so the loop drains and returns
	readErr := make(chan error, 1)
	go func() {
		defer close(tasks)
		dec := NewDecoder(r)
		for {
			t, err := dec.Decode()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
					cancel()
				}
				return
			}
			select {
			case tasks <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		enc := NewEncoder(w)
		write := func(t *task.Task) bool {
			if err := enc.Encode(t); err != nil {
				logger.Error("failed to write result", "task_id", t.ID, "error", err)
				cancel()
				return false
			}
			return true
		}
		for {
			select {
			case t := <-results:
				if !write(t) {
					return
				}
			case <-stop:
				for {
					select {
					case t := <-results:
						if !write(t) {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	logger.Info("worker serving", "worker", name, "queue_size", capacity)
	Dispatch(ctx, Worker{
		Name:    name,
		Target:  target,
		Tasks:   tasks,
		Results: results,
		Logger:  logger,
	})
	close(stop)
	<-writerDone

	select {
	case err := <-readErr:
		return err
	default:
		return nil
	}
}
