// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file and OFFLOAD_ environment variables.
// It provides type-safe access to the executor, storage, transcriber and
// downloader settings while keeping configuration details separate from the
// components that use them.
package config
