// Package logger provides structured logging functionality for the application.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/offload/internal/config"
)

// Option customizes Setup
type Option func(*setupOptions)

type setupOptions struct {
	out      io.Writer
	metadata map[string]string
}

// WithOutput sends log records to w instead of stdout. Worker processes log
// to stderr because stdout carries their results.
func WithOutput(w io.Writer) Option {
	return func(o *setupOptions) {
		o.out = w
	}
}

// WithProcessMetadata attaches metadata to every record through a
// ProcessHandler
func WithProcessMetadata(metadata map[string]string) Option {
	return func(o *setupOptions) {
		o.metadata = metadata
	}
}

// ParseLevel converts a configured level name (case-insensitive) into a
// slog.Level. It reports false for unknown names.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup initializes and configures the application's logging system based on
// the provided configuration. It creates a structured JSON logger with the
// appropriate log level and sets it as the default logger for the application.
func Setup(cfg config.ServerConfig, opts ...Option) (*slog.Logger, error) {
	o := setupOptions{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	level, ok := ParseLevel(cfg.LogLevel)
	if !ok {
		// This will use the default handler (text output to stderr)
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.LogLevel,
			"default_level", "info")
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if len(o.metadata) > 0 {
		handler = NewProcessHandler(o.out, handlerOpts, o.metadata)
	} else {
		handler = slog.NewJSONHandler(o.out, handlerOpts)
	}

	logger := slog.New(handler)

	// This allows using the slog package functions directly (slog.Info, slog.Error, etc.)
	slog.SetDefault(logger)

	return logger, nil
}
