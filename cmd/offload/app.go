package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/phrazzld/offload/internal/config"
	"github.com/phrazzld/offload/internal/executor"
	"github.com/phrazzld/offload/internal/platform/gemini"
	"github.com/phrazzld/offload/internal/platform/s3"
	"github.com/phrazzld/offload/internal/platform/ytdlp"
	"github.com/phrazzld/offload/internal/service"
	"github.com/phrazzld/offload/internal/storage"
	"github.com/phrazzld/offload/internal/task"
	"github.com/phrazzld/offload/internal/transcribe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RoleEcho is a worker that returns its tasks unchanged. It exercises the
// executor plumbing without touching media or storage.
const RoleEcho = "echo"

// ErrRoleDisabled is returned when a role is configured off
var ErrRoleDisabled = errors.New("worker role is disabled")

// application holds the shared dependencies of the offload commands and
// ensures proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	metrics  *prometheus.Registry
	registry *executor.Registry
	balancer *storage.Balancer
	service  *service.MediaService
}

// newApplication wires the balancer, the role executors and the media
// service. No executor is started here; each starts on first use.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, configPath string) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		metrics:  prometheus.NewRegistry(),
		registry: executor.NewRegistry(logger),
	}

	app.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var err error
	app.balancer, err = newBalancer(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage balancer: %w", err)
	}

	host, err := newHostFactory(cfg, configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to set up worker host: %w", err)
	}

	roles := make(map[string]service.Role)
	for _, role := range []string{service.RoleStorage, service.RoleTranscriber, service.RoleDownloader, RoleEcho} {
		roles[role] = service.Role{
			Name:      "offload-" + role,
			QueueSize: cfg.Executor.QueueSize,
			Target: func() (executor.Target, error) {
				return roleTarget(ctx, cfg, role, app.balancer, logger)
			},
			Options: []executor.Option{executor.WithHost(host(role))},
		}
	}

	app.service, err = service.NewMediaService(app.registry, roles,
		service.MediaConfig{
			TransferLimit: cfg.Downloader.TransferLimitBytes,
			PollInterval:  cfg.Executor.PollInterval,
			ResultTimeout: cfg.Executor.ResultTimeout,
		},
		logger,
		executor.WithLogger(logger),
		executor.WithMetrics(executor.NewMetrics(app.metrics)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create media service: %w", err)
	}

	logger.Info("application initialized",
		"worker_mode", cfg.Executor.WorkerMode,
		"roles", app.service.Roles())
	return app, nil
}

// newHostFactory returns where the executor of each role runs. In
// subprocess mode every role gets a child running "offload worker".
func newHostFactory(cfg *config.Config, configPath string) (func(role string) executor.Host, error) {
	if cfg.Executor.WorkerMode != config.WorkerModeSubprocess {
		return func(string) executor.Host { return executor.InProcessHost{} }, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate the offload executable: %w", err)
	}

	return func(role string) executor.Host {
		args := []string{"worker", "--role", role}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		return executor.SubprocessHost{
			Path:   exe,
			Args:   args,
			Stderr: os.Stderr,
		}
	}, nil
}

// newBalancer creates one backend per configured account
func newBalancer(cfg config.StorageConfig, logger *slog.Logger) (*storage.Balancer, error) {
	backends := make([]*storage.Backend, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		connector, creds, err := accountConnector(acc)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acc.Name, err)
		}

		backends = append(backends, storage.NewBackend(storage.BackendConfig{
			Name:           acc.Name,
			Retention:      cfg.Retention,
			ChunkThreshold: cfg.ChunkThreshold,
			ChunkSize:      cfg.ChunkSize,
			RefreshMargin:  cfg.RefreshMargin,
		}, connector, creds, logger))
	}

	return storage.NewBalancer(backends, storage.BalancerConfig{
		SweepInterval: cfg.SweepInterval,
	}, logger), nil
}

func accountConnector(acc config.AccountConfig) (storage.Connector, storage.CredentialSource, error) {
	switch acc.Driver {
	case config.DriverMemory:
		remote := storage.NewMemoryRemote(acc.Name, acc.QuotaBytes)
		return remote.Connector(), storage.StaticCredentials(storage.Credential{ID: acc.Name}), nil
	case config.DriverS3:
		s3cfg := s3.Config{
			Name:      acc.Name,
			Bucket:    acc.Bucket,
			Region:    acc.Region,
			Endpoint:  acc.Endpoint,
			Prefix:    acc.Prefix,
			Quota:     acc.QuotaBytes,
			PublicURL: acc.PublicURL,
			LinkTTL:   acc.LinkTTL,
			AccessKey: acc.AccessKey,
			SecretKey: acc.SecretKey,
		}
		return s3.Connector(s3cfg), s3.Credentials(s3cfg), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", acc.Driver)
	}
}

// roleTarget builds the target function of role. The parent and the worker
// process build the same target; in subprocess mode only the child runs it.
func roleTarget(
	ctx context.Context,
	cfg *config.Config,
	role string,
	balancer *storage.Balancer,
	logger *slog.Logger,
) (executor.Target, error) {
	switch role {
	case service.RoleStorage:
		return storage.Target(balancer), nil

	case service.RoleTranscriber:
		if cfg.Transcriber.Engine != config.EngineGemini {
			return executor.Target{}, fmt.Errorf("%w: transcriber engine is %q", ErrRoleDisabled, cfg.Transcriber.Engine)
		}
		engine, err := gemini.NewTranscriber(ctx, logger, gemini.Config{
			APIKey:     cfg.Transcriber.GeminiAPIKey,
			ModelName:  cfg.Transcriber.ModelName,
			MaxRetries: cfg.Transcriber.MaxRetries,
			RetryDelay: time.Duration(cfg.Transcriber.RetryDelaySeconds) * time.Second,
		})
		if err != nil {
			return executor.Target{}, fmt.Errorf("failed to initialize speech engine: %w", err)
		}
		return transcribe.Target(transcribe.NewWorker(engine, logger), cfg.Transcriber.Concurrency), nil

	case service.RoleDownloader:
		client := ytdlp.New(ytdlp.Config{
			Binary:      cfg.Downloader.Binary,
			SaveDir:     cfg.Downloader.SaveDir,
			CookiesPath: cfg.Downloader.CookiesPath,
			ProxyURL:    cfg.Downloader.ProxyURL,
		}, logger)
		if !client.Available() {
			logger.Warn("downloader binary not found, downloads will fail", "binary", cfg.Downloader.Binary)
		}
		return ytdlp.Target(client, cfg.Downloader.Concurrency), nil

	case RoleEcho:
		return executor.SyncTarget(echo), nil

	default:
		return executor.Target{}, fmt.Errorf("%w: %s", executor.ErrUnknownRole, role)
	}
}

func echo(_ context.Context, t *task.Task) *task.Task {
	if len(t.Payload) > 0 {
		t.Output = append(t.Output[:0], t.Payload...)
	}
	t.Succeed()
	return t
}

// cleanup stops every executor and disconnects the storage accounts
func (app *application) cleanup() {
	app.registry.StopAll()
	app.balancer.Stop()
	app.logger.Info("application shutdown completed")
}
