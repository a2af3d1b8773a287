package service

import "errors"

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is(); unexpected failures are wrapped in
// MediaServiceError.
var (
	// ErrEmptyBatch indicates a batch operation was called without tasks.
	ErrEmptyBatch = errors.New("no tasks to submit")

	// ErrNilTask indicates a single-task operation was called with nil.
	ErrNilTask = errors.New("task cannot be nil")
)
