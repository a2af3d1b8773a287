package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"
)

// Operation names counted by MemoryRemote
const (
	OpPut          = "put"
	OpStartSession = "start_session"
	OpAppend       = "append"
	OpFinish       = "finish"
	OpDelete       = "delete"
	OpList         = "list"
	OpSpace        = "space"
	OpCreateLink   = "create_link"
	OpLink         = "link"
	OpClose        = "close"
)

// MemoryRemote is a Remote that keeps files in memory. It backs the memory
// driver for local runs and records every call for tests.
type MemoryRemote struct {
	name  string
	quota int64

	mu     sync.Mutex
	files  map[string][]byte
	links  map[string]string
	calls  map[string]int
	errs   map[string]error
	delays map[string]time.Duration
	closed bool
}

// NewMemoryRemote creates an empty remote named name holding at most quota
// bytes
func NewMemoryRemote(name string, quota int64) *MemoryRemote {
	return &MemoryRemote{
		name:   name,
		quota:  quota,
		files:  make(map[string][]byte),
		links:  make(map[string]string),
		calls:  make(map[string]int),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
	}
}

// Connector returns a Connector that always hands out r
func (r *MemoryRemote) Connector() Connector {
	return ConnectorFunc(func(context.Context, Credential) (Remote, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = false
		return r, nil
	})
}

// FailOn makes every following call of op return err. A nil err clears it.
func (r *MemoryRemote) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errs, op)
		return
	}
	r.errs[op] = err
}

// Delay makes every following call of op take at least d
func (r *MemoryRemote) Delay(op string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays[op] = d
}

// pause sleeps for the delay of op, or until ctx is done
func (r *MemoryRemote) pause(ctx context.Context, op string) {
	r.mu.Lock()
	d := r.delays[op]
	r.mu.Unlock()
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Calls returns how many times op was called
func (r *MemoryRemote) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Contents returns a copy of the stored file
func (r *MemoryRemote) Contents(name string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[name]
	return bytes.Clone(data), ok
}

// Closed reports whether the last client handed out has been closed
func (r *MemoryRemote) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *MemoryRemote) call(op string) error {
	r.calls[op]++
	return r.errs[op]
}

func (r *MemoryRemote) usedLocked() int64 {
	var used int64
	for _, data := range r.files {
		used += int64(len(data))
	}
	return used
}

func (r *MemoryRemote) storeLocked(name string, data []byte) error {
	old := int64(len(r.files[name]))
	if r.usedLocked()-old+int64(len(data)) > r.quota {
		return fmt.Errorf("%s: %w", r.name, ErrNoSpace)
	}
	r.files[name] = data
	return nil
}

// Put implements Remote
func (r *MemoryRemote) Put(ctx context.Context, name string, src io.Reader, size int64) error {
	r.pause(ctx, OpPut)
	data, err := io.ReadAll(io.LimitReader(src, size))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call(OpPut); err != nil {
		return err
	}
	return r.storeLocked(name, data)
}

// StartSession implements Remote
func (r *MemoryRemote) StartSession(_ context.Context, name string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call(OpStartSession); err != nil {
		return nil, err
	}
	return &memorySession{remote: r, name: name}, nil
}

// Delete implements Remote
func (r *MemoryRemote) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call(OpDelete); err != nil {
		return err
	}
	if _, ok := r.files[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	delete(r.files, name)
	delete(r.links, name)
	return nil
}

// List implements Remote
func (r *MemoryRemote) List(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call(OpList); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(r.files))
	for name := range r.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Space implements Remote
func (r *MemoryRemote) Space(context.Context) (Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call(OpSpace); err != nil {
		return Space{}, err
	}
	return Space{Allocated: r.quota, Used: r.usedLocked()}, nil
}

// CreateLink implements Remote
func (r *MemoryRemote) CreateLink(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call(OpCreateLink); err != nil {
		return "", err
	}
	if _, ok := r.files[name]; !ok {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if link, ok := r.links[name]; ok {
		return link, nil
	}
	link := (&url.URL{Scheme: "memory", Host: r.name, Path: "/" + name}).String()
	r.links[name] = link
	return link, nil
}

// Link implements Remote
func (r *MemoryRemote) Link(_ context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.call(OpLink); err != nil {
		return "", err
	}
	if _, ok := r.files[name]; !ok {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	link, ok := r.links[name]
	if !ok {
		return "", ErrNoLink
	}
	return link, nil
}

// Close implements Remote
func (r *MemoryRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.call(OpClose)
}

type memorySession struct {
	remote *MemoryRemote
	name   string
	buf    bytes.Buffer
}

func (s *memorySession) Append(_ context.Context, chunk []byte) error {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	if err := s.remote.call(OpAppend); err != nil {
		return err
	}
	s.buf.Write(chunk)
	return nil
}

func (s *memorySession) Finish(context.Context) error {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	if err := s.remote.call(OpFinish); err != nil {
		return err
	}
	return s.remote.storeLocked(s.name, bytes.Clone(s.buf.Bytes()))
}

func (s *memorySession) Abort(context.Context) error {
	s.buf.Reset()
	return nil
}
