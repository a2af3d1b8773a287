package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/offload/internal/redact"
	"github.com/phrazzld/offload/internal/task"
	"golang.org/x/sync/singleflight"
)

// DefaultSweepInterval is how often CheckTimer runs the expiry sweep
const DefaultSweepInterval = time.Minute

// BalancerConfig holds the balancer settings
type BalancerConfig struct {
	// SweepInterval gates CheckTimer
	SweepInterval time.Duration
	// Now overrides time.Now
	Now func() time.Time
}

// UploadOutput is stored as the output of an upload task
type UploadOutput struct {
	Backend string `json:"backend"`
	File    string `json:"file"`
	Link    string `json:"link"`
	Reused  bool   `json:"reused"`
}

// errNoRoute marks failures to pick a backend, as opposed to failed uploads
var errNoRoute = errors.New("no backend can take the file")

// Balancer routes uploads across backends, most free space first. Uploads
// of the same file name are single-flight: concurrent callers share one
// remote upload.
type Balancer struct {
	cfg    BalancerConfig
	logger *slog.Logger
	flight singleflight.Group

	mu        sync.Mutex
	backends  []*Backend
	connected bool
	lastSweep time.Time
}

// NewBalancer creates a disconnected balancer over backends. Their order is
// kept until the first UpdateSpace.
func NewBalancer(backends []*Backend, cfg BalancerConfig, logger *slog.Logger) *Balancer {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Balancer{
		cfg:       cfg,
		logger:    logger.With("component", "storage_balancer"),
		backends:  append([]*Backend(nil), backends...),
		lastSweep: cfg.Now(),
	}
}

// Connect starts every backend that is not connected yet and refreshes the
// free space ordering. Backends that fail to connect are reported in the
// returned error; the others stay usable.
func (b *Balancer) Connect(ctx context.Context) error {
	backends := b.Backends()
	if len(backends) == 0 {
		return ErrNoBackends
	}

	var errs []error
	for _, backend := range backends {
		if backend.IsConnected() {
			continue
		}
		if err := backend.Start(ctx); err != nil {
			b.logger.Error("failed to start backend",
				"backend", backend.Name(),
				"error", redact.Error(err))
			errs = append(errs, err)
		}
	}

	b.UpdateSpace(ctx)

	b.mu.Lock()
	b.connected = true
	b.lastSweep = b.cfg.Now()
	b.mu.Unlock()

	b.logger.Info("storage balancer connected", "backends", len(backends), "failed", len(errs))
	return errors.Join(errs...)
}

// Stop disconnects every backend
func (b *Balancer) Stop() {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = false
	backends := append([]*Backend(nil), b.backends...)
	b.mu.Unlock()

	for _, backend := range backends {
		backend.Stop()
	}
	b.logger.Info("storage balancer stopped", "backends", len(backends))
}

// IsConnected reports whether Connect has been called since the last Stop
func (b *Balancer) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Backends returns the backends in routing order
func (b *Balancer) Backends() []*Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Backend(nil), b.backends...)
}

// UpdateSpace queries the free space of every backend and re-sorts them,
// most free space first. A backend whose query fails counts as full.
func (b *Balancer) UpdateSpace(ctx context.Context) {
	backends := b.Backends()
	for _, backend := range backends {
		free, err := backend.StorageSpace(ctx)
		if err != nil {
			b.logger.Warn("failed to query backend space",
				"backend", backend.Name(),
				"error", redact.Error(err))
			backend.setFreeSpace(0)
			continue
		}
		b.logger.Debug("backend space updated", "backend", backend.Name(), "free_space", free)
	}

	sort.SliceStable(backends, func(i, j int) bool {
		return backends[i].FreeSpace() > backends[j].FreeSpace()
	})

	b.mu.Lock()
	b.backends = backends
	b.mu.Unlock()
}

// CheckTimer runs the expiry sweep on every non-empty backend and refreshes
// the space ordering, at most once per SweepInterval. It reports whether a
// sweep ran.
func (b *Balancer) CheckTimer(ctx context.Context) bool {
	b.mu.Lock()
	now := b.cfg.Now()
	if now.Sub(b.lastSweep) < b.cfg.SweepInterval {
		b.mu.Unlock()
		return false
	}
	b.lastSweep = now
	backends := append([]*Backend(nil), b.backends...)
	b.mu.Unlock()

	deleted := 0
	for _, backend := range backends {
		if backend.Empty() {
			continue
		}
		deleted += backend.TimerDelete(ctx)
	}
	b.UpdateSpace(ctx)

	b.logger.Debug("expiry sweep finished", "deleted", deleted)
	return true
}

// Upload stores the file of t and fills its StorageLink. The backend already
// holding a file with the same name is reused; otherwise the file goes to the
// backend with the most free space, provided it fits.
//
// On success the local file is removed and LocalPath cleared. On failure t
// is returned with Result false and a localized message, and the local file
// stays with the caller.
func (b *Balancer) Upload(ctx context.Context, t *task.Task) *task.Task {
	if t.LocalPath == "" {
		t.Fail(task.Localized(task.MsgFileNotFound))
		return t
	}
	name := filepath.Base(t.LocalPath)
	logger := b.logger.With("task_id", t.ID, "file", name)

	size := t.FileSize
	if size <= 0 {
		info, err := os.Stat(t.LocalPath)
		if err != nil {
			logger.Error("local file is missing", "error", redact.Error(err))
			t.Fail(task.Localized(task.MsgFileNotFound))
			return t
		}
		size = info.Size()
		t.FileSize = size
	}

	p, err := b.place(ctx, name, t.LocalPath, size)
	switch {
	case errors.Is(err, errNoRoute):
		logger.Warn("no backend can take the file", "size", size, "error", err)
		if errors.Is(err, ErrNoSpace) {
			t.Fail(task.Localized(task.MsgNoSpace))
		} else {
			t.Fail(task.Localized(task.MsgUploadFailed))
		}
		return t
	case err != nil:
		logger.Error("upload failed", "backend", p.backend.Name(), "error", redact.Error(err))
		t.Fail(task.Localized(task.MsgUploadFailed))
		return t
	}
	backend, link, reused := p.backend, p.link, p.reused

	if err := os.Remove(t.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove uploaded local file", "error", redact.Error(err))
	}
	t.LocalPath = ""
	t.StorageLink = link
	if err := t.SetOutput(UploadOutput{
		Backend: backend.Name(),
		File:    name,
		Link:    link,
		Reused:  reused,
	}); err != nil {
		logger.Warn("failed to record upload output", "error", err)
	}
	t.Succeed()

	logger.Info("file stored", "backend", backend.Name(), "size", size, "reused", reused)
	return t
}

// placement is where a file ended up
type placement struct {
	backend *Backend
	link    string
	reused  bool
}

// place routes and uploads the file at path. Callers arriving while an upload
// of the same name is in flight wait for it and share its placement, which
// they see as reused.
func (b *Balancer) place(ctx context.Context, name, path string, size int64) (placement, error) {
	var led bool
	v, err, _ := b.flight.Do(name, func() (any, error) {
		led = true
		backend, reused, err := b.route(name, size)
		if err != nil {
			return placement{}, fmt.Errorf("%w: %w", errNoRoute, err)
		}
		link, err := backend.Upload(ctx, path)
		if err != nil {
			return placement{backend: backend}, err
		}
		return placement{backend: backend, link: link, reused: reused}, nil
	})

	p := v.(placement)
	if !led && err == nil {
		p.reused = true
	}
	return p, err
}

// route picks the backend for name: the one already holding it, else the
// head of the free space ordering
func (b *Balancer) route(name string, size int64) (*Backend, bool, error) {
	backends := b.Backends()
	if len(backends) == 0 {
		return nil, false, ErrNoBackends
	}

	for _, backend := range backends {
		if backend.Has(name) {
			return backend, true, nil
		}
	}

	head := backends[0]
	if free := head.FreeSpace(); size > free {
		return nil, false, fmt.Errorf("%w: %s has %d bytes free, file needs %d",
			ErrNoSpace, head.Name(), free, size)
	}
	return head, false, nil
}

// Status returns a snapshot of every backend in routing order
func (b *Balancer) Status() []BackendStatus {
	backends := b.Backends()
	out := make([]BackendStatus, 0, len(backends))
	for _, backend := range backends {
		out = append(out, backend.Status())
	}
	return out
}
