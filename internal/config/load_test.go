package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets environment variables for the duration of the test
func setupEnv(t *testing.T, envVars map[string]string) {
	t.Helper()
	for name, value := range envVars {
		t.Setenv(name, value)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoadDefaults verifies the defaults used when nothing is configured
func TestLoadDefaults(t *testing.T) {
	setupEnv(t, map[string]string{
		"OFFLOAD_SERVER_PORT":      "",
		"OFFLOAD_SERVER_LOG_LEVEL": "",
	})

	cfg, err := Load("")

	require.NoError(t, err, "Load() should not return an error with default values")
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	assert.Equal(t, 500, cfg.Executor.QueueSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Executor.PollInterval)
	assert.Equal(t, WorkerModeInProcess, cfg.Executor.WorkerMode)

	assert.Equal(t, 5*time.Minute, cfg.Storage.Retention)
	assert.Equal(t, int64(140<<20), cfg.Storage.ChunkThreshold)
	require.Len(t, cfg.Storage.Accounts, 1)
	assert.Equal(t, "local", cfg.Storage.Accounts[0].Name)
	assert.Equal(t, DriverMemory, cfg.Storage.Accounts[0].Driver)

	assert.Equal(t, EngineNone, cfg.Transcriber.Engine)
	assert.Equal(t, 4, cfg.Transcriber.Concurrency)
	assert.Equal(t, int64(50<<20), cfg.Downloader.TransferLimitBytes)
	assert.Equal(t, "yt-dlp", cfg.Downloader.Binary)
}

// TestLoadFromEnv verifies that environment variables override defaults
func TestLoadFromEnv(t *testing.T) {
	setupEnv(t, map[string]string{
		"OFFLOAD_SERVER_PORT":                     "9090",
		"OFFLOAD_SERVER_LOG_LEVEL":                "debug",
		"OFFLOAD_EXECUTOR_WORKER_MODE":            "subprocess",
		"OFFLOAD_EXECUTOR_RESULT_TIMEOUT":         "45s",
		"OFFLOAD_TRANSCRIBER_ENGINE":              "gemini",
		"OFFLOAD_TRANSCRIBER_GEMINI_API_KEY":      "test-api-key",
		"OFFLOAD_DOWNLOADER_SAVE_DIR":             "/var/lib/offload",
		"OFFLOAD_DOWNLOADER_TRANSFER_LIMIT_BYTES": "1048576",
	})

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, WorkerModeSubprocess, cfg.Executor.WorkerMode)
	assert.Equal(t, 45*time.Second, cfg.Executor.ResultTimeout)
	assert.Equal(t, EngineGemini, cfg.Transcriber.Engine)
	assert.Equal(t, "test-api-key", cfg.Transcriber.GeminiAPIKey)
	assert.Equal(t, "/var/lib/offload", cfg.Downloader.SaveDir)
	assert.Equal(t, int64(1<<20), cfg.Downloader.TransferLimitBytes)
}

// TestLoadFromFile verifies accounts and durations read from YAML, and that
// the environment still wins over the file
func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 7070
storage:
  retention: 10m
  accounts:
    - name: primary
      driver: s3
      bucket: media
      region: eu-central-1
      endpoint: http://localhost:9000
      prefix: offload
      quota_bytes: 1073741824
      link_ttl: 2h
    - name: spare
      driver: memory
      quota_bytes: 1024
`)
	setupEnv(t, map[string]string{"OFFLOAD_SERVER_PORT": "7171"})

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 7171, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Storage.Retention)
	require.Len(t, cfg.Storage.Accounts, 2)

	primary := cfg.Storage.Accounts[0]
	assert.Equal(t, AccountConfig{
		Name:       "primary",
		Driver:     DriverS3,
		Bucket:     "media",
		Region:     "eu-central-1",
		Endpoint:   "http://localhost:9000",
		Prefix:     "offload",
		QuotaBytes: 1 << 30,
		LinkTTL:    2 * time.Hour,
	}, primary)
	assert.Equal(t, "spare", cfg.Storage.Accounts[1].Name)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

// TestLoadValidationErrors verifies that invalid settings are rejected
func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		envVars map[string]string
		file    string
	}{
		{
			name:    "Invalid port number",
			envVars: map[string]string{"OFFLOAD_SERVER_PORT": "999999"},
		},
		{
			name:    "Invalid log level",
			envVars: map[string]string{"OFFLOAD_SERVER_LOG_LEVEL": "invalid-level"},
		},
		{
			name:    "Unknown worker mode",
			envVars: map[string]string{"OFFLOAD_EXECUTOR_WORKER_MODE": "thread"},
		},
		{
			name:    "Gemini without key",
			envVars: map[string]string{"OFFLOAD_TRANSCRIBER_ENGINE": "gemini"},
		},
		{
			name: "Chunk larger than threshold",
			envVars: map[string]string{
				"OFFLOAD_STORAGE_CHUNK_SIZE":      "2048",
				"OFFLOAD_STORAGE_CHUNK_THRESHOLD": "1024",
			},
		},
		{
			name: "S3 account without bucket",
			file: `
storage:
  accounts:
    - name: broken
      driver: s3
      quota_bytes: 10
`,
		},
		{
			name: "Chunk below the S3 part minimum",
			file: `
storage:
  chunk_size: 1048576
  accounts:
    - {name: bucket, driver: s3, bucket: media, quota_bytes: 10}
`,
		},
		{
			name: "Duplicate account names",
			file: `
storage:
  accounts:
    - {name: a, driver: memory, quota_bytes: 10}
    - {name: a, driver: memory, quota_bytes: 10}
`,
		},
		{
			name: "Account without quota",
			file: `
storage:
  accounts:
    - {name: a, driver: memory}
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setupEnv(t, tc.envVars)
			path := ""
			if tc.file != "" {
				path = writeConfig(t, tc.file)
			}

			cfg, err := Load(path)

			require.Error(t, err, "Load() should return an error with invalid configuration")
			assert.Contains(t, err.Error(), "validation failed")
			assert.Nil(t, cfg, "Config should be nil when an error occurs")
		})
	}
}

func TestLoadSmallChunksForMemoryAccounts(t *testing.T) {
	setupEnv(t, nil)
	path := writeConfig(t, `
storage:
  chunk_size: 1024
  chunk_threshold: 4096
  accounts:
    - {name: local, driver: memory, quota_bytes: 10}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), cfg.Storage.ChunkSize)
	assert.Less(t, cfg.Storage.ChunkSize, S3MinPartSize)
}
