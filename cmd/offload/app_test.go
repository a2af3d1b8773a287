package main

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/offload/internal/config"
	"github.com/phrazzld/offload/internal/executor"
	"github.com/phrazzld/offload/internal/service"
	"github.com/phrazzld/offload/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "error"},
		Executor: config.ExecutorConfig{
			QueueSize:     16,
			PollInterval:  time.Millisecond,
			ResultTimeout: 5 * time.Second,
			WorkerMode:    config.WorkerModeInProcess,
		},
		Storage: config.StorageConfig{
			SweepInterval:  time.Minute,
			Retention:      time.Minute,
			ChunkThreshold: 16 << 20,
			ChunkSize:      config.S3MinPartSize,
			Accounts: []config.AccountConfig{
				{Name: "local", Driver: config.DriverMemory, QuotaBytes: 1 << 20},
				{Name: "bucket", Driver: config.DriverS3, Bucket: "media", Region: "eu-west-1", QuotaBytes: 1 << 30},
			},
		},
		Transcriber: config.TranscriberConfig{Engine: config.EngineNone, Concurrency: 2},
		Downloader: config.DownloaderConfig{
			SaveDir:            "/tmp/offload-test",
			TransferLimitBytes: 1 << 20,
			Binary:             "yt-dlp",
			Concurrency:        2,
		},
	}
}

func TestNewBalancer(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b, err := newBalancer(cfg.Storage, testLogger())
	require.NoError(t, err)

	statuses := b.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "local", statuses[0].Name)
	assert.Equal(t, "bucket", statuses[1].Name)
	assert.False(t, b.IsConnected())
}

func TestAccountConnector_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, _, err := accountConnector(config.AccountConfig{Name: "x", Driver: "ftp"})
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestRoleTarget(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b, err := newBalancer(cfg.Storage, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	storageTarget, err := roleTarget(ctx, cfg, service.RoleStorage, b, testLogger())
	require.NoError(t, err)
	assert.Equal(t, executor.Async, storageTarget.Kind)
	assert.NotNil(t, storageTarget.Idle, "storage runs the expiry sweep when idle")

	downloader, err := roleTarget(ctx, cfg, service.RoleDownloader, b, testLogger())
	require.NoError(t, err)
	assert.Equal(t, executor.Async, downloader.Kind)
	assert.Equal(t, 2, downloader.Concurrency)

	echoTarget, err := roleTarget(ctx, cfg, RoleEcho, b, testLogger())
	require.NoError(t, err)
	assert.Equal(t, executor.Sync, echoTarget.Kind)

	_, err = roleTarget(ctx, cfg, service.RoleTranscriber, b, testLogger())
	assert.ErrorIs(t, err, ErrRoleDisabled)

	_, err = roleTarget(ctx, cfg, "painter", b, testLogger())
	assert.ErrorIs(t, err, executor.ErrUnknownRole)
}

func TestRoleTarget_GeminiTranscriber(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Transcriber.Engine = config.EngineGemini
	cfg.Transcriber.GeminiAPIKey = "test-key"
	cfg.Transcriber.RetryDelaySeconds = 1

	target, err := roleTarget(context.Background(), cfg, service.RoleTranscriber, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, executor.Async, target.Kind)
	assert.Equal(t, 2, target.Concurrency)
}

func TestEcho(t *testing.T) {
	t.Parallel()

	in := task.New(task.KindGeneric, task.WithPayload(map[string]int{"n": 7}))
	out := echo(context.Background(), in)

	assert.True(t, out.Result)
	assert.JSONEq(t, `{"n":7}`, string(out.Output))
}

func TestNewHostFactory(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	hosts, err := newHostFactory(cfg, "")
	require.NoError(t, err)
	assert.IsType(t, executor.InProcessHost{}, hosts(RoleEcho))

	cfg.Executor.WorkerMode = config.WorkerModeSubprocess
	hosts, err = newHostFactory(cfg, "/etc/offload.yaml")
	require.NoError(t, err)

	host, ok := hosts(service.RoleStorage).(executor.SubprocessHost)
	require.True(t, ok)
	assert.NotEmpty(t, host.Path)
	assert.Equal(t, []string{"worker", "--role", "storage", "--config", "/etc/offload.yaml"}, host.Args)
}

func TestApplication_StoresThroughMemoryAccount(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Accounts = cfg.Storage.Accounts[:1]

	app, err := newApplication(context.Background(), cfg, testLogger(), "")
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	assert.Equal(t, []string{service.RoleDownloader, RoleEcho, service.RoleStorage, service.RoleTranscriber},
		app.service.Roles())

	path, size := writeTempFile(t, "clip.mp3", "audio bytes")
	results, err := app.service.Store(context.Background(), []*task.Task{
		task.New(task.KindUpload, task.WithID("clip"), task.WithLocalFile(path, size)),
	})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Result, "message: %v", results[0].Message)
	assert.Equal(t, "memory://local/clip.mp3", results[0].StorageLink)
	assert.NoFileExists(t, path, "the storage worker removes the uploaded file")

	snapshot := app.registry.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "offload-storage", snapshot[0].Name)
}
