// Package config implements TOML configuration loading, defaulting, and
// validation for the forge build system.
package config

// Config is the top-level configuration structure decoded from a TOML file.
type Config struct {
	Store     StoreConfig           `toml:"store"`
	Pool      map[string]WorkerPool `toml:"worker"`
	Lifecycle LifecycleConfig       `toml:"lifecycle"`
	Container ContainerConfig       `toml:"container"`
	Watch     WatchConfig           `toml:"watch"`
	Logging   LoggingConfig         `toml:"logging"`
}

// StoreConfig controls the job-queue database.
type StoreConfig struct {
	DBPath        string `toml:"db_path"`
	WorkspaceRoot string `toml:"workspace_root"`

	// WorkerBinaryPath is the direct-execution-mode worker binary every
	// "direct" worker type's subprocess executor launches. Unused when
	// every worker type runs under execution_mode "container".
	WorkerBinaryPath string `toml:"worker_binary_path"`
}

// WorkerPool configures one worker_type's pool: how many instances, which
// executor backs them, and the container image when execution_mode is
// "container".
type WorkerPool struct {
	Count          int    `toml:"count"`
	ExecutionMode  string `toml:"execution_mode"`
	ContainerImage string `toml:"container_image"`
}

// ContainerConfig dials the containerd socket used by every worker type
// whose execution_mode is "container". Unused when no worker is configured
// for container execution.
type ContainerConfig struct {
	SocketPath  string `toml:"socket_path"`
	Namespace   string `toml:"namespace"`
	EscapePaths bool   `toml:"escape_paths"`
}

// LifecycleConfig controls start/stop/reuse policy and health-monitoring
// cadence across every worker pool.
type LifecycleConfig struct {
	Mode                  string `toml:"mode"`
	MaxStartupConcurrency int    `toml:"max_startup_concurrency"`
	MaxJobConcurrency     int    `toml:"max_job_concurrency"`
	HeartbeatGraceSeconds int64  `toml:"heartbeat_grace_seconds"`
	DeadGraceSeconds      int64  `toml:"dead_grace_seconds"`
	CreatedGraceSeconds   int64  `toml:"created_grace_seconds"`
}

// WatchConfig controls the file-watching rebuild loop. DebounceMillis is
// validated but not passed to the watch coordinator, which uses its own
// fixed 300 ms debounce delay.
type WatchConfig struct {
	DebounceMillis int  `toml:"debounce_millis"`
	FastMode       bool `toml:"fast_mode"`
}

// LoggingConfig controls structured-log output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}
