// Package transcribe turns audio files into text files using a speech
// engine. It is meant to run inside an executor so that inference never
// blocks the process that submits the work.
package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/offload/internal/executor"
	"github.com/phrazzld/offload/internal/redact"
	"github.com/phrazzld/offload/internal/task"
)

// DefaultConcurrency bounds how many files are transcribed at once
const DefaultConcurrency = 4

// ErrUnsupportedFormat is returned by an Engine that cannot read the file
var ErrUnsupportedFormat = errors.New("unsupported media format")

// Engine converts the audio file at path to text
type Engine interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// EngineFunc adapts a function to Engine
type EngineFunc func(ctx context.Context, path string) (string, error)

// Transcribe implements Engine
func (f EngineFunc) Transcribe(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// Output is stored as the output of a transcription task
type Output struct {
	TranscriptPath string `json:"transcript_path"`
	Characters     int    `json:"characters"`
}

// Worker transcribes the source file of a task and saves the text next to it
type Worker struct {
	engine Engine
	logger *slog.Logger
}

// NewWorker creates a Worker backed by engine
func NewWorker(engine Engine, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine: engine,
		logger: logger.With("component", "transcriber"),
	}
}

// Transcribe runs the engine on t.SourcePath and writes the text to a file
// with the same name and a .txt extension. The transcript becomes the task's
// local file.
func (w *Worker) Transcribe(ctx context.Context, t *task.Task) *task.Task {
	logger := w.logger.With("task_id", t.ID)

	info, err := os.Stat(t.SourcePath)
	if t.SourcePath == "" || err != nil || !info.Mode().IsRegular() {
		logger.Error("source file does not exist", "error", redact.Error(err))
		t.Fail(task.Localized(task.MsgFileNotFound))
		return t
	}

	text, err := w.engine.Transcribe(ctx, t.SourcePath)
	if err != nil {
		logger.Error("transcription failed", "error", redact.Error(err))
		if errors.Is(err, ErrUnsupportedFormat) {
			t.Fail(task.Localized(task.MsgUnsupportedFormat))
		} else {
			t.Fail(task.Localized(task.MsgWorkerFailed))
		}
		return t
	}

	out := TranscriptPath(t.SourcePath)
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		logger.Error("unable to save transcription", "error", redact.Error(err))
		t.Fail(task.Localized(task.MsgSaveFailed))
		return t
	}

	t.LocalPath = out
	t.FileSize = int64(len(text))
	if err := t.SetOutput(Output{TranscriptPath: out, Characters: len([]rune(text))}); err != nil {
		logger.Warn("failed to record transcription output", "error", err)
	}
	t.Succeed()

	logger.Info("transcription saved", "bytes", len(text))
	return t
}

// TranscriptPath returns where the transcript of source is written
func TranscriptPath(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + ".txt"
}

// Target returns an async executor target running at most concurrency
// transcriptions at once. A non-positive concurrency uses
// DefaultConcurrency.
func Target(w *Worker, concurrency int) executor.Target {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return executor.AsyncTarget(w.Transcribe).WithConcurrency(concurrency)
}
