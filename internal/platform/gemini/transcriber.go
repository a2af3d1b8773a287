package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrazzld/offload/internal/redact"
	"github.com/phrazzld/offload/internal/transcribe"
	"google.golang.org/genai"
)

// mimeTypes maps supported file extensions to the MIME type sent to Gemini
var mimeTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".aiff": "audio/aiff",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// contentGenerator is the part of the genai client the transcriber uses
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Transcriber implements transcribe.Engine on top of the Gemini API
type Transcriber struct {
	logger *slog.Logger
	config Config
	models contentGenerator
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ transcribe.Engine = (*Transcriber)(nil)

// NewTranscriber validates cfg and creates a Gemini client
func NewTranscriber(ctx context.Context, logger *slog.Logger, cfg Config) (*Transcriber, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	cfg, err := validateConfig(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			ErrInvalidConfig, redact.Error(err))
	}

	return newTranscriber(logger, cfg, client.Models), nil
}

func newTranscriber(logger *slog.Logger, cfg Config, models contentGenerator) *Transcriber {
	return &Transcriber{
		logger: logger.With("component", "gemini_transcriber", "model", cfg.ModelName),
		config: cfg,
		models: models,
		sleep:  sleepContext,
	}
}

// MIMEType returns the MIME type for path, or false when the extension is
// not supported
func MIMEType(path string) (string, bool) {
	mime, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]
	return mime, ok
}

// Transcribe implements transcribe.Engine
func (g *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	mime, ok := MIMEType(path)
	if !ok {
		return "", fmt.Errorf("%w: %s", transcribe.ErrUnsupportedFormat, filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read audio file: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: g.config.Prompt},
			{InlineData: &genai.Blob{MIMEType: mime, Data: data}},
		},
	}}

	g.logger.DebugContext(ctx, "Sending audio to Gemini",
		"mime_type", mime,
		"bytes", len(data))

	return g.callWithRetry(ctx, contents)
}

// callWithRetry calls the API with exponential backoff and jitter between
// attempts. Blocked or empty responses are returned immediately.
func (g *Transcriber) callWithRetry(ctx context.Context, contents []*genai.Content) (string, error) {
	maxRetries := g.config.MaxRetries
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		g.logger.InfoContext(ctx, "Making Gemini API call",
			"attempt", attemptNum,
			"max_attempts", maxRetries+1)

		resp, err := g.models.GenerateContent(ctx, g.config.ModelName, contents, nil)
		if err == nil {
			text, perr := extractText(resp)
			if perr == nil {
				g.logger.InfoContext(ctx, "Gemini API call successful", "attempt", attemptNum)
				return text, nil
			}
			g.logger.WarnContext(ctx, "Permanent error occurred, not retrying", "error", perr)
			return "", perr
		}

		g.logger.ErrorContext(ctx, "Gemini API call failed",
			"attempt", attemptNum,
			"error", redact.Error(err))

		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrTransientFailure, ctx.Err())
		}
		if attempt >= maxRetries {
			g.logger.WarnContext(ctx, "Maximum retry attempts reached", "max_retries", maxRetries)
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d): %s",
				ErrTransientFailure, maxRetries, redact.Error(err))
		}

		// delay = baseDelay * 2^attempt * [0.5, 1.0)
		backoff := float64(g.config.RetryDelay) * math.Pow(2, float64(attempt))
		delay := time.Duration(backoff * (0.5 + rng.Float64()*0.5))

		g.logger.InfoContext(ctx, "Retrying after delay",
			"attempt", attemptNum,
			"delay_ms", delay.Milliseconds())

		if err := g.sleep(ctx, delay); err != nil {
			g.logger.WarnContext(ctx, "API call cancelled during retry delay",
				"attempt", attemptNum,
				"ctx_err", err)
			return "", fmt.Errorf("%w: %w", ErrTransientFailure, err)
		}
	}
}

// extractText joins the text parts of the first candidate
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: no text in response", ErrInvalidResponse)
	}
	return text, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
