package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/phrazzld/offload/internal/executor"
	"github.com/phrazzld/offload/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quietEnv keeps config loading away from the developer's files and restores
// the default logger that loadAppConfig replaces
func quietEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OFFLOAD_SERVER_LOG_LEVEL", "error")
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })
}

func writeTempFile(t *testing.T, name, content string) (string, int64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, int64(len(content))
}

func TestRunWorker_Echo(t *testing.T) {
	quietEnv(t)
	t.Setenv(executor.WorkerNameEnv, "echo-under-test")

	var in bytes.Buffer
	enc := executor.NewEncoder(&in)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, enc.Encode(task.New(task.KindGeneric, task.WithID(id), task.WithPayload(id))))
	}

	var out, logs bytes.Buffer
	err := runWorker(context.Background(), &globalOptions{}, RoleEcho, &in, &out, &logs)
	require.NoError(t, err)

	dec := executor.NewDecoder(&out)
	for _, id := range []string{"a", "b"} {
		result, err := dec.Decode()
		require.NoError(t, err)
		assert.Equal(t, id, result.ID)
		assert.True(t, result.Result)

		var echoed string
		require.NoError(t, result.DecodeOutput(&echoed))
		assert.Equal(t, id, echoed)
	}
	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRunWorker_RoleErrors(t *testing.T) {
	quietEnv(t)

	var out, logs bytes.Buffer
	err := runWorker(context.Background(), &globalOptions{}, "painter", &bytes.Buffer{}, &out, &logs)
	assert.ErrorIs(t, err, executor.ErrUnknownRole)

	err = runWorker(context.Background(), &globalOptions{}, "transcriber", &bytes.Buffer{}, &out, &logs)
	assert.ErrorIs(t, err, ErrRoleDisabled)
	assert.Empty(t, out.String(), "nothing is written to the result stream")
}

func TestRunWorker_BadConfig(t *testing.T) {
	quietEnv(t)

	err := runWorker(context.Background(), &globalOptions{configPath: filepath.Join(t.TempDir(), "absent.yaml")},
		RoleEcho, &bytes.Buffer{}, io.Discard, io.Discard)
	assert.ErrorContains(t, err, "failed to load configuration")
}
