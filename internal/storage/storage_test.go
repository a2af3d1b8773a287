package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// writeFile creates a file of size bytes in dir and returns its path
func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0o600))
	return path
}

// newMemoryBackend returns a started backend over a fresh memory remote
func newMemoryBackend(t *testing.T, name string, quota int64, clock *fakeClock) (*Backend, *MemoryRemote) {
	t.Helper()
	remote := NewMemoryRemote(name, quota)
	cfg := DefaultBackendConfig(name)
	if clock != nil {
		cfg.Now = clock.Now
	}
	b := NewBackend(cfg, remote.Connector(), StaticCredentials(Credential{ID: "id"}), testLogger())
	require.NoError(t, b.Start(context.Background()))
	return b, remote
}
