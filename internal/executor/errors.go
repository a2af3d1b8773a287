package executor

import "errors"

// Common errors returned by the executor
var (
	ErrNotRunning    = errors.New("executor is not running")
	ErrNoTarget      = errors.New("executor has no target function")
	ErrResultTimeout = errors.New("timed out waiting for task result")
	ErrNilResult     = errors.New("target returned no task")
	ErrWorkerPanic   = errors.New("target panicked")
	ErrUnknownRole   = errors.New("unknown worker role")
)
