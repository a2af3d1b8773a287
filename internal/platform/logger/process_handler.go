package logger

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
)

// ProcessHandler is a slog.Handler that adds process metadata (pid, worker
// name and the like) to every record. Worker child processes use it so their
// forwarded stderr lines can be told apart in the parent's log stream.
type ProcessHandler struct {
	// The underlying handler (usually JSON)
	handler slog.Handler
	// Metadata to add to every log record
	metadata map[string]string
}

// NewProcessHandler creates a JSON handler writing to out that adds metadata
// and the current pid to every record
func NewProcessHandler(out io.Writer, opts *slog.HandlerOptions, metadata map[string]string) *ProcessHandler {
	var handlerOpts slog.HandlerOptions
	if opts != nil {
		// Clone the options to avoid modifying the caller's options
		handlerOpts = *opts
	}

	md := maps.Clone(metadata)
	if md == nil {
		md = make(map[string]string)
	}

	return &ProcessHandler{
		handler:  slog.NewJSONHandler(out, &handlerOpts).WithAttrs([]slog.Attr{slog.Int("pid", os.Getpid())}),
		metadata: md,
	}
}

// Enabled implements the slog.Handler interface.
func (h *ProcessHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs implements the slog.Handler interface.
func (h *ProcessHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ProcessHandler{
		handler:  h.handler.WithAttrs(attrs),
		metadata: h.metadata,
	}
}

// WithGroup implements the slog.Handler interface.
func (h *ProcessHandler) WithGroup(name string) slog.Handler {
	return &ProcessHandler{
		handler:  h.handler.WithGroup(name),
		metadata: h.metadata,
	}
}

// Handle implements the slog.Handler interface.
func (h *ProcessHandler) Handle(ctx context.Context, record slog.Record) error {
	// Clone the record to avoid modifying the original
	enhanced := record.Clone()

	// Sorted so records are stable across runs
	for _, key := range slices.Sorted(maps.Keys(h.metadata)) {
		enhanced.AddAttrs(slog.String(key, h.metadata[key]))
	}

	return h.handler.Handle(ctx, enhanced)
}
