package executor

import (
	"context"
)

// Host starts the worker side of an executor. The launched worker must only
// communicate with the executor through the channels in Worker and must
// stop once ctx is cancelled.
type Host interface {
	Launch(ctx context.Context, w Worker) (Process, error)
}

// Process is a handle to a launched worker
type Process interface {
	// Done is closed once the worker has fully exited
	Done() <-chan struct{}
	// Err returns the exit error, valid after Done is closed
	Err() error
	// Pid returns the OS process id, or zero for in-process workers
	Pid() int
}

// InProcessHost runs the dispatch loop on a goroutine of the current process.
// The worker only sees the copies PutTask enqueues, never a caller's task.
type InProcessHost struct{}

// Launch implements Host
func (InProcessHost) Launch(ctx context.Context, w Worker) (Process, error) {
	p := &localProcess{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		Dispatch(ctx, w)
	}()
	return p, nil
}

type localProcess struct {
	done chan struct{}
}

func (p *localProcess) Done() <-chan struct{} { return p.done }

func (p *localProcess) Err() error { return nil }

func (p *localProcess) Pid() int { return 0 }
