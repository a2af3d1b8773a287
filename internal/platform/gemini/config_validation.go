package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default settings
const (
	DefaultModelName  = "gemini-2.0-flash"
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
	DefaultPrompt     = "Transcribe this audio verbatim. Reply with the transcript text only, without timestamps or commentary."
)

// Config holds the settings of the Gemini transcriber
type Config struct {
	APIKey     string
	ModelName  string
	MaxRetries int
	RetryDelay time.Duration
	Prompt     string
}

// validateConfig checks the required settings and fills defaults for the
// optional ones. It returns the normalized config.
func validateConfig(ctx context.Context, logger *slog.Logger, cfg Config) (Config, error) {
	if cfg.APIKey == "" {
		logger.ErrorContext(ctx, "Missing Gemini API key")
		return cfg, fmt.Errorf("%w: API key cannot be empty", ErrInvalidConfig)
	}

	if cfg.ModelName == "" {
		logger.InfoContext(ctx, "No model configured, using default", "model", DefaultModelName)
		cfg.ModelName = DefaultModelName
	}

	if cfg.MaxRetries < 0 {
		logger.WarnContext(ctx, "Invalid MaxRetries value",
			"value", cfg.MaxRetries,
			"action", "using default value")
		cfg.MaxRetries = DefaultMaxRetries
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}

	return cfg, nil
}
