package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "forge.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[store]
db_path = "/var/lib/forge/forge.db"
workspace_root = "/srv/course"
worker_binary_path = "/usr/local/bin/forge-worker"

[lifecycle]
mode = "managed"
max_startup_concurrency = 6
max_job_concurrency = 16
heartbeat_grace_seconds = 20
dead_grace_seconds = 90
created_grace_seconds = 45

[container]
socket_path = "/run/containerd/containerd.sock"
namespace = "forge-test"
escape_paths = true

[watch]
debounce_millis = 500
fast_mode = true

[logging]
level = "debug"
format = "json"

[worker.notebook]
count = 3
execution_mode = "direct"

[worker.pdf]
count = 2
execution_mode = "container"
container_image = "forge/pdf-worker:latest"
`)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/forge/forge.db", cfg.Store.DBPath)
	assert.Equal(t, "/srv/course", cfg.Store.WorkspaceRoot)
	assert.Equal(t, "/usr/local/bin/forge-worker", cfg.Store.WorkerBinaryPath)

	assert.Equal(t, "managed", cfg.Lifecycle.Mode)
	assert.Equal(t, 6, cfg.Lifecycle.MaxStartupConcurrency)
	assert.Equal(t, 16, cfg.Lifecycle.MaxJobConcurrency)
	assert.EqualValues(t, 20, cfg.Lifecycle.HeartbeatGraceSeconds)
	assert.EqualValues(t, 90, cfg.Lifecycle.DeadGraceSeconds)
	assert.EqualValues(t, 45, cfg.Lifecycle.CreatedGraceSeconds)

	assert.Equal(t, "/run/containerd/containerd.sock", cfg.Container.SocketPath)
	assert.Equal(t, "forge-test", cfg.Container.Namespace)
	assert.True(t, cfg.Container.EscapePaths)

	assert.Equal(t, 500, cfg.Watch.DebounceMillis)
	assert.True(t, cfg.Watch.FastMode)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.Len(t, cfg.Pool, 2)
	assert.Equal(t, WorkerPool{Count: 3, ExecutionMode: "direct"}, cfg.Pool["notebook"])
	assert.Equal(t, WorkerPool{Count: 2, ExecutionMode: "container", ContainerImage: "forge/pdf-worker:latest"}, cfg.Pool["pdf"])
}

func TestLoadAppliesDefaultsForOmittedWorkerFields(t *testing.T) {
	path := writeTestConfig(t, `
[worker.notebook]
count = 5
`)

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)

	require.Contains(t, cfg.Pool, "notebook")
	assert.Equal(t, 5, cfg.Pool["notebook"].Count)
	assert.Equal(t, defaultExecutionMode, cfg.Pool["notebook"].ExecutionMode)
}

func TestLoadRejectsUnknownGlobalKey(t *testing.T) {
	path := writeTestConfig(t, "[store]\ndb_paht = \"forge.db\"\n")

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown key "db_paht" in section "store"`)
	assert.Contains(t, err.Error(), `did you mean "db_path"`)
}

func TestLoadRejectsUnknownWorkerKey(t *testing.T) {
	path := writeTestConfig(t, `
[worker.notebook]
cnt = 2
`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown key "cnt" in worker type "notebook"`)
	assert.Contains(t, err.Error(), `did you mean "count"`)
}

func TestLoadOrDefaultReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"), testLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadRejectsInvalidExecutionMode(t *testing.T) {
	path := writeTestConfig(t, `
[worker.notebook]
count = 1
execution_mode = "teleport"
`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker.notebook.execution_mode")
}

func TestLoadRequiresContainerSettingsWhenWorkerUsesContainerMode(t *testing.T) {
	path := writeTestConfig(t, `
[worker.pdf]
count = 1
execution_mode = "container"
container_image = "forge/pdf-worker:latest"

[container]
socket_path = ""
namespace = ""
`)

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container.socket_path")
	assert.Contains(t, err.Error(), "container.namespace")
}

func TestValidateAccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.DBPath = ""
	cfg.Lifecycle.Mode = "bogus"
	cfg.Logging.Level = "bogus"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_path")
	assert.Contains(t, err.Error(), "lifecycle.mode")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}
