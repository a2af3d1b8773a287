package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/phrazzld/offload/internal/executor"
	"github.com/phrazzld/offload/internal/task"
)

// Worker roles, one executor each
const (
	RoleDownloader  = "downloader"
	RoleTranscriber = "transcriber"
	RoleStorage     = "storage"
)

// DefaultTransferLimit is the largest file handed back to the caller
// directly; bigger results go through the storage executor
const DefaultTransferLimit int64 = 50 << 20

// MediaServiceError is a custom error type for media service errors.
type MediaServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for MediaServiceError.
func (e *MediaServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("media service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *MediaServiceError) Unwrap() error {
	return e.Err
}

// NewMediaServiceError creates a new MediaServiceError.
func NewMediaServiceError(operation, message string, err error) *MediaServiceError {
	return &MediaServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// Role describes how to build the executor of one worker role
type Role struct {
	// Name is the worker name shown in logs, metrics and process listings
	Name string
	// QueueSize is the channel capacity of the executor
	QueueSize int
	// Target builds the target function. With a subprocess host it only
	// describes the child's scheduling; the child runs its own copy.
	Target func() (executor.Target, error)
	// Options are applied after the service-wide executor options
	Options []executor.Option
}

// MediaConfig holds the service settings
type MediaConfig struct {
	TransferLimit int64
	PollInterval  time.Duration
	// ResultTimeout bounds each operation; zero waits as long as the
	// caller's context allows
	ResultTimeout time.Duration
}

// MediaService submits media work to the role executors and correlates the
// results. Executors are created, configured and started on first use.
type MediaService struct {
	registry *executor.Registry
	roles    map[string]Role
	opts     []executor.Option
	config   MediaConfig
	logger   *slog.Logger
}

// NewMediaService creates a MediaService. opts are applied to every
// executor it creates.
func NewMediaService(
	registry *executor.Registry,
	roles map[string]Role,
	cfg MediaConfig,
	logger *slog.Logger,
	opts ...executor.Option,
) (*MediaService, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.TransferLimit <= 0 {
		cfg.TransferLimit = DefaultTransferLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = executor.DefaultPollInterval
	}

	return &MediaService{
		registry: registry,
		roles:    roles,
		opts:     opts,
		config:   cfg,
		logger:   logger.With("component", "media_service"),
	}, nil
}

// Roles returns the configured role names in sorted order
func (s *MediaService) Roles() []string {
	names := make([]string, 0, len(s.roles))
	for name := range s.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Executor returns the running executor of role, creating and starting it
// when needed
func (s *MediaService) Executor(role string) (*executor.Executor, error) {
	r, ok := s.roles[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", executor.ErrUnknownRole, role)
	}

	e, err := s.registry.TryInstance(role, func() (*executor.Executor, error) {
		target, err := r.Target()
		if err != nil {
			return nil, fmt.Errorf("failed to build %s target: %w", role, err)
		}
		opts := append(slices.Clone(s.opts), r.Options...)
		ex := executor.New(target, opts...)
		ex.Configure(r.QueueSize, r.Name)
		return ex, nil
	})
	if err != nil {
		return nil, err
	}

	if !e.IsAlive() {
		if err := e.Start(); err != nil {
			return nil, err
		}
		s.logger.Info("executor started on first use", "role", role, "worker", e.Name())
	}
	return e, nil
}

func (s *MediaService) run(ctx context.Context, operation, role string, tasks []*task.Task) ([]*task.Task, error) {
	if len(tasks) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, t := range tasks {
		if t == nil {
			return nil, ErrNilTask
		}
	}

	e, err := s.Executor(role)
	if err != nil {
		return nil, NewMediaServiceError(operation, "executor unavailable", err)
	}

	if s.config.ResultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ResultTimeout)
		defer cancel()
	}

	c := executor.NewCorrelator(e, s.config.PollInterval, s.logger)
	results, err := c.SubmitAll(ctx, tasks)
	if err != nil {
		return nil, NewMediaServiceError(operation, "submission failed", err)
	}
	return results, nil
}

// Download runs a download task and routes a result bigger than the transfer
// limit through the storage executor
func (s *MediaService) Download(ctx context.Context, t *task.Task) (*task.Task, error) {
	if t == nil {
		return nil, ErrNilTask
	}
	results, err := s.run(ctx, "download", RoleDownloader, []*task.Task{t})
	if err != nil {
		return nil, err
	}
	return s.checkFileSize(ctx, results[0])
}

// Transcribe runs transcription tasks and returns their results in input
// order
func (s *MediaService) Transcribe(ctx context.Context, tasks []*task.Task) ([]*task.Task, error) {
	return s.run(ctx, "transcribe", RoleTranscriber, tasks)
}

// Store uploads the local files of tasks and returns their results in input
// order
func (s *MediaService) Store(ctx context.Context, tasks []*task.Task) ([]*task.Task, error) {
	return s.run(ctx, "store", RoleStorage, tasks)
}

// checkFileSize hands successful results over the transfer limit to the
// storage executor. The stored result replaces t.
func (s *MediaService) checkFileSize(ctx context.Context, t *task.Task) (*task.Task, error) {
	if !t.Result || t.FileSize <= s.config.TransferLimit {
		return t, nil
	}

	s.logger.InfoContext(ctx, "result exceeds transfer limit, sending to storage",
		"task_id", t.ID,
		"file_size", t.FileSize,
		"transfer_limit", s.config.TransferLimit)

	stored, err := s.Store(ctx, []*task.Task{t})
	if err != nil {
		return nil, err
	}
	return stored[0], nil
}
