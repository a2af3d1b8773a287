package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/offload/internal/config"
	"github.com/phrazzld/offload/internal/platform/logger"
	"github.com/spf13/cobra"
)

// globalOptions holds the flags shared by every command
type globalOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "offload",
		Short: "Run media work in dedicated executors",
		Long: `offload downloads, transcribes and stores media files. Each kind of work
runs in its own executor, either on goroutines of this process or in a child
worker process, and large results are spread across storage accounts by free
space.

All configuration options can be overridden using environment variables.
Format: OFFLOAD_<SECTION>_<KEY>, for example OFFLOAD_SERVER_PORT=9090.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (default: ./config.yaml or $HOME/.offload/config.yaml)")

	cmd.AddCommand(
		newServeCommand(opts),
		newWorkerCommand(opts),
		newUploadCommand(opts),
		newTranscribeCommand(opts),
		newDownloadCommand(opts),
	)
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

// loadAppConfig loads the configuration and sets up the default logger.
// Extra logger options let worker processes log to stderr.
func loadAppConfig(opts *globalOptions, logOpts ...logger.Option) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server, logOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Debug("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"worker_mode", cfg.Executor.WorkerMode,
		"accounts", len(cfg.Storage.Accounts),
		"transcriber_engine", cfg.Transcriber.Engine)

	return cfg, l, nil
}

// loggerToStderr keeps stdout free for command output
func loggerToStderr(cmd *cobra.Command) []logger.Option {
	return []logger.Option{logger.WithOutput(cmd.ErrOrStderr())}
}
