package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/offload/internal/redact"
)

// Backend defaults
const (
	DefaultRetention      = 5 * time.Minute
	DefaultChunkThreshold = 140 << 20
	DefaultChunkSize      = 16 << 20
	DefaultRefreshMargin  = 10 * time.Minute
)

// BackendConfig holds the settings of one storage account
type BackendConfig struct {
	// Name identifies the account in logs and status output
	Name string
	// Retention is how long an uploaded file is kept after its last upload
	Retention time.Duration
	// ChunkThreshold is the size above which uploads are chunked
	ChunkThreshold int64
	// ChunkSize is the size of each chunk of a chunked upload
	ChunkSize int64
	// RefreshMargin is how long before expiry a credential is refreshed
	RefreshMargin time.Duration
	// Now overrides time.Now
	Now func() time.Time
}

// DefaultBackendConfig returns a BackendConfig with the default limits
func DefaultBackendConfig(name string) BackendConfig {
	return BackendConfig{
		Name:           name,
		Retention:      DefaultRetention,
		ChunkThreshold: DefaultChunkThreshold,
		ChunkSize:      DefaultChunkSize,
		RefreshMargin:  DefaultRefreshMargin,
	}
}

func (c *BackendConfig) applyDefaults() {
	def := DefaultBackendConfig(c.Name)
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.ChunkThreshold <= 0 {
		c.ChunkThreshold = def.ChunkThreshold
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = def.RefreshMargin
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type entry struct {
	uploadedAt time.Time
	link       string
}

// Backend wraps one remote storage account with its connection, credential
// and bookkeeping of uploaded files. A name present in the bookkeeping is
// trusted to exist remotely. All methods are safe for concurrent use.
type Backend struct {
	cfg       BackendConfig
	connector Connector
	creds     CredentialSource
	logger    *slog.Logger

	mu     sync.Mutex
	remote Remote
	cred   Credential
	files  map[string]entry
	space  int64
}

// NewBackend creates a disconnected backend
func NewBackend(cfg BackendConfig, connector Connector, creds CredentialSource, logger *slog.Logger) *Backend {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:       cfg,
		connector: connector,
		creds:     creds,
		logger:    logger.With("component", "storage_backend", "backend", cfg.Name),
		files:     make(map[string]entry),
	}
}

// Name returns the account name
func (b *Backend) Name() string {
	return b.cfg.Name
}

// Start connects the backend. Starting a connected backend is a no-op.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remote != nil {
		return nil
	}
	return b.connectLocked(ctx)
}

// Stop closes the connection. Bookkeeping is kept.
func (b *Backend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remote == nil {
		return
	}
	if err := b.remote.Close(); err != nil {
		b.logger.Warn("failed to close remote client", "error", redact.Error(err))
	}
	b.remote = nil
	b.logger.Info("storage backend disconnected")
}

// IsConnected reports whether the backend holds a live client
func (b *Backend) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remote != nil
}

func (b *Backend) connectLocked(ctx context.Context) error {
	cred, err := b.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve credential for %s: %w", b.cfg.Name, err)
	}
	remote, err := b.connector.Connect(ctx, cred)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", b.cfg.Name, err)
	}

	b.remote = remote
	b.cred = cred
	b.logger.Info("storage backend connected", "credential_expiry", cred.Expiry)
	return nil
}

// client returns the live remote, reconnecting first when the credential is
// about to expire
func (b *Backend) client(ctx context.Context) (Remote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remote == nil {
		return nil, ErrNotConnected
	}
	if !b.cred.Expired(b.cfg.Now(), b.cfg.RefreshMargin) {
		return b.remote, nil
	}

	b.logger.Info("credential about to expire, refreshing", "credential_expiry", b.cred.Expiry)
	old := b.remote
	if err := b.connectLocked(ctx); err != nil {
		// Keep the old client, it may still work until the real expiry
		b.logger.Error("failed to refresh credential", "error", redact.Error(err))
		return old, nil
	}
	if err := old.Close(); err != nil {
		b.logger.Warn("failed to close replaced remote client", "error", redact.Error(err))
	}
	return b.remote, nil
}

// Has reports whether name is in the bookkeeping
func (b *Backend) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.files[name]
	return ok
}

// Upload stores the file at path under its base name and returns a shareable
// link. A name already in the bookkeeping is not uploaded again: its
// retention timer is restarted and the existing link is returned. The local
// file is left in place.
func (b *Backend) Upload(ctx context.Context, path string) (string, error) {
	remote, err := b.client(ctx)
	if err != nil {
		return "", err
	}
	name := filepath.Base(path)

	b.mu.Lock()
	known, ok := b.files[name]
	if ok {
		known.uploadedAt = b.cfg.Now()
		b.files[name] = known
	}
	b.mu.Unlock()

	if ok {
		b.logger.Info("file already stored, restarting its timer", "file", name)
		return b.existingLink(ctx, remote, name, known.link)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", name, err)
	}
	size := info.Size()

	start := time.Now()
	if size > b.cfg.ChunkThreshold {
		err = b.uploadChunked(ctx, remote, name, f, size)
	} else {
		err = remote.Put(ctx, name, f, size)
	}
	if err != nil {
		b.logger.Error("upload failed", "file", name, "size", size, "error", redact.Error(err))
		return "", fmt.Errorf("failed to upload %s to %s: %w", name, b.cfg.Name, err)
	}

	b.mu.Lock()
	b.files[name] = entry{uploadedAt: b.cfg.Now()}
	b.space -= size
	b.mu.Unlock()

	b.logger.Info("file uploaded",
		"file", name,
		"size", size,
		"duration_ms", time.Since(start).Milliseconds())

	link, err := remote.CreateLink(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to create link for %s: %w", name, err)
	}

	b.mu.Lock()
	if e, ok := b.files[name]; ok {
		e.link = link
		b.files[name] = e
	}
	b.mu.Unlock()

	return link, nil
}

func (b *Backend) existingLink(ctx context.Context, remote Remote, name, cached string) (string, error) {
	link, err := remote.Link(ctx, name)
	if err == nil && link != "" {
		return link, nil
	}
	if cached != "" {
		return cached, nil
	}
	b.logger.Error("file already stored but its link is unavailable",
		"file", name,
		"error", redact.Error(err))
	if err == nil {
		err = ErrNoLink
	}
	return "", fmt.Errorf("failed to look up link for %s: %w", name, err)
}

func (b *Backend) uploadChunked(ctx context.Context, remote Remote, name string, r io.Reader, size int64) error {
	b.logger.Info("upload session started", "file", name, "size", size, "chunk_size", b.cfg.ChunkSize)

	session, err := remote.StartSession(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to start upload session: %w", err)
	}

	abort := func(cause error) error {
		if err := session.Abort(ctx); err != nil {
			b.logger.Warn("failed to abort upload session", "file", name, "error", redact.Error(err))
		}
		return cause
	}

	buf := make([]byte, b.cfg.ChunkSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if appendErr := session.Append(ctx, buf[:n]); appendErr != nil {
				return abort(fmt.Errorf("failed to append chunk: %w", appendErr))
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return abort(fmt.Errorf("failed to read chunk: %w", err))
		}
	}

	if err := session.Finish(ctx); err != nil {
		return abort(fmt.Errorf("failed to finish upload session: %w", err))
	}
	b.logger.Info("upload session finished", "file", name)
	return nil
}

// TimerDelete removes every file whose retention has passed. Expired names
// leave the bookkeeping even when the remote delete fails. It returns the
// number of expired files.
func (b *Backend) TimerDelete(ctx context.Context) int {
	remote, err := b.client(ctx)
	if err != nil {
		b.logger.Warn("skipping expiry sweep", "error", err)
		return 0
	}

	b.mu.Lock()
	now := b.cfg.Now()
	var expired []string
	for name, e := range b.files {
		if now.Sub(e.uploadedAt) > b.cfg.Retention {
			expired = append(expired, name)
			delete(b.files, name)
		}
	}
	b.mu.Unlock()

	sort.Strings(expired)
	for _, name := range expired {
		if err := remote.Delete(ctx, name); err != nil {
			b.logger.Error("failed to delete expired file", "file", name, "error", redact.Error(err))
			continue
		}
		b.logger.Info("expired file deleted", "file", name)
	}
	return len(expired)
}

// Delete removes name from the account and the bookkeeping
func (b *Backend) Delete(ctx context.Context, name string) error {
	remote, err := b.client(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	delete(b.files, name)
	b.mu.Unlock()

	if err := remote.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to delete %s from %s: %w", name, b.cfg.Name, err)
	}
	b.logger.Info("file deleted", "file", name)
	return nil
}

// StorageSpace returns the free bytes of the account and caches the value
func (b *Backend) StorageSpace(ctx context.Context) (int64, error) {
	remote, err := b.client(ctx)
	if err != nil {
		return 0, err
	}
	space, err := remote.Space(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query space of %s: %w", b.cfg.Name, err)
	}

	free := space.Free()
	b.mu.Lock()
	b.space = free
	b.mu.Unlock()
	return free, nil
}

// FreeSpace returns the last observed free bytes, minus what was uploaded
// since
func (b *Backend) FreeSpace() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.space
}

func (b *Backend) setFreeSpace(v int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.space = v
}

// ListStorageFiles returns the bookkept file names in sorted order
func (b *Backend) ListStorageFiles() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListRemoteFiles asks the account for its file names
func (b *Backend) ListRemoteFiles(ctx context.Context) ([]string, error) {
	remote, err := b.client(ctx)
	if err != nil {
		return nil, err
	}
	names, err := remote.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files of %s: %w", b.cfg.Name, err)
	}
	sort.Strings(names)
	return names, nil
}

// Empty reports whether the bookkeeping holds no files
func (b *Backend) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files) == 0
}

// BackendStatus is a point in time view of a backend
type BackendStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	FreeSpace int64  `json:"free_space"`
	Files     int    `json:"files"`
}

// Status returns a snapshot of the backend state
func (b *Backend) Status() BackendStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BackendStatus{
		Name:      b.cfg.Name,
		Connected: b.remote != nil,
		FreeSpace: b.space,
		Files:     len(b.files),
	}
}
