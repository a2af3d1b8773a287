package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/offload/internal/executor"
	"github.com/phrazzld/offload/internal/platform/logger"
	"github.com/spf13/cobra"
)

func newWorkerCommand(opts *globalOptions) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run one worker role on stdin and stdout",
		Long: `Run the target of one worker role as a child process. Tasks are read as
JSON lines from stdin and results written as JSON lines to stdout; logs go to
stderr. Executors in subprocess mode start this command themselves.`,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, opts, role, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "worker role: storage, transcriber, downloader or echo")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

// runWorker serves role until in is closed or ctx is cancelled
func runWorker(ctx context.Context, opts *globalOptions, role string, in io.Reader, out, errOut io.Writer) error {
	name := os.Getenv(executor.WorkerNameEnv)
	if name == "" {
		name = "offload-" + role
	}

	cfg, log, err := loadAppConfig(opts,
		logger.WithOutput(errOut),
		logger.WithProcessMetadata(map[string]string{"worker": name, "role": role}))
	if err != nil {
		return err
	}

	balancer, err := newBalancer(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to create storage balancer: %w", err)
	}
	defer balancer.Stop()

	target, err := roleTarget(ctx, cfg, role, balancer, log)
	if err != nil {
		return err
	}

	return executor.Serve(ctx, in, out, name, target, cfg.Executor.QueueSize, log)
}
