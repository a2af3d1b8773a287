package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/phrazzld/offload/internal/config"
	"github.com/phrazzld/offload/internal/redact"
	"github.com/phrazzld/offload/internal/service"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the graceful HTTP shutdown
const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *globalOptions) *cobra.Command {
	var start []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the executors and serve their status",
		Long: `Start the executors of the listed roles and serve the status API:

  GET /healthz     liveness
  GET /executors   executor name, liveness, queue size and running tasks
  GET /storage     storage accounts with free space and tracked files
  GET /metrics     Prometheus metrics

Roles that are not started here start on first use.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, log, err := loadAppConfig(opts)
			if err != nil {
				return err
			}

			app, err := newApplication(ctx, cfg, log, opts.configPath)
			if err != nil {
				return err
			}
			defer app.cleanup()

			return app.serve(ctx, start)
		},
	}

	cmd.Flags().StringSliceVar(&start, "start", []string{service.RoleStorage},
		"roles to start eagerly (storage, transcriber, downloader, echo)")
	return cmd
}

// serve starts the requested roles and runs the status API until ctx is done
func (app *application) serve(ctx context.Context, roles []string) error {
	// The parent only talks to storage accounts when it runs the worker itself
	if app.config.Executor.WorkerMode == config.WorkerModeInProcess {
		if err := app.balancer.Connect(ctx); err != nil {
			app.logger.Error("storage balancer connected with errors", "error", redact.Error(err))
		}
	}

	for _, role := range roles {
		if _, err := app.service.Executor(role); err != nil {
			app.logger.Warn("role not started", "role", role, "error", redact.Error(err))
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           newRouter(app.registry, app.balancer, app.config.Executor.WorkerMode, app.metrics, app.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting status server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		app.logger.Info("shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("server shutdown completed")
	return nil
}
