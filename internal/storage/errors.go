package storage

import "errors"

// Common errors returned by storage backends and the balancer
var (
	ErrNoBackends   = errors.New("no storage backends configured")
	ErrNotConnected = errors.New("storage backend is not connected")
	ErrNoSpace      = errors.New("not enough free space in remote storage")
	ErrNotFound     = errors.New("file not found in remote storage")
	ErrNoLocalFile  = errors.New("task has no local file")
	ErrNoLink       = errors.New("shared link is unavailable")
)
