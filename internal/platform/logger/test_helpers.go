package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// TestLogBuffer collects JSON log lines. It is safe for concurrent writers,
// which matters for executor workers logging from their own goroutines.
type TestLogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer
func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far
func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Reset drops everything written so far
func (b *TestLogBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// Entries decodes one JSON object per non-blank line
func (b *TestLogBuffer) Entries() ([]map[string]any, error) {
	var entries []map[string]any
	for i, line := range strings.Split(b.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("log line %d is not JSON: %w", i+1, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Find returns the first entry whose message is msg
func (b *TestLogBuffer) Find(msg string) (map[string]any, bool) {
	entries, err := b.Entries()
	if err != nil {
		return nil, false
	}
	for _, entry := range entries {
		if entry[slog.MessageKey] == msg {
			return entry, true
		}
	}
	return nil, false
}

// GetTestLogger returns a debug level JSON logger writing to a fresh buffer
func GetTestLogger(t *testing.T) (*slog.Logger, *TestLogBuffer) {
	t.Helper()

	buf := &TestLogBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// AssertLogged fails the test unless an entry with msg was logged at level.
// The entry is returned so callers can check its attributes.
func AssertLogged(t *testing.T, buf *TestLogBuffer, level slog.Level, msg string) map[string]any {
	t.Helper()

	entry, ok := buf.Find(msg)
	if !ok {
		t.Errorf("expected a %s entry %q, logs:\n%s", level, msg, buf.String())
		return nil
	}
	if got := entry[slog.LevelKey]; got != level.String() {
		t.Errorf("entry %q logged at %v, want %s", msg, got, level)
	}
	return entry
}

// AssertNotLogged fails the test if an entry with msg was logged
func AssertNotLogged(t *testing.T, buf *TestLogBuffer, msg string) {
	t.Helper()

	if _, ok := buf.Find(msg); ok {
		t.Errorf("unexpected entry %q, logs:\n%s", msg, buf.String())
	}
}

// AssertLogContains fails the test unless the raw output contains content
func AssertLogContains(t *testing.T, buf *TestLogBuffer, content string) {
	t.Helper()

	if logs := buf.String(); !strings.Contains(logs, content) {
		t.Errorf("expected logs to contain %q, logs:\n%s", content, logs)
	}
}

// AssertLogField fails the test unless some entry has field set to expected
func AssertLogField(t *testing.T, buf *TestLogBuffer, field string, expected any) {
	t.Helper()

	entries, err := buf.Entries()
	if err != nil {
		t.Fatalf("failed to parse log entries: %v", err)
	}
	for _, entry := range entries {
		if value, ok := entry[field]; ok && value == expected {
			return
		}
	}
	t.Errorf("no log entry has %s=%v, logs:\n%s", field, expected, buf.String())
}
