package config

// Default values for configuration options. These are the starting point
// for TOML decoding (so unset fields retain sane defaults) and the
// fallback when no config file exists at all.
const (
	defaultDBPath                = "forge.db"
	defaultWorkspaceRoot         = "."
	defaultWorkerCount           = 1
	defaultExecutionMode         = "direct"
	defaultLifecycleMode         = "managed"
	defaultMaxStartupConcurrency = 10
	defaultMaxJobConcurrency     = 8
	defaultHeartbeatGraceSeconds = 15
	defaultDeadGraceSeconds      = 60
	defaultCreatedGraceSeconds   = 30
	defaultDebounceMillis        = 300
	defaultLogLevel              = "info"
	defaultLogFormat             = "text"
	defaultContainerSocketPath   = "/run/containerd/containerd.sock"
	defaultContainerNamespace    = "forge"
	defaultWorkerBinaryPath      = "forge-worker"
)

// DefaultConfig returns a Config populated with every default value. Load
// decodes on top of this so a partial file only overrides what it names.
func DefaultConfig() *Config {
	return &Config{
		Store:     defaultStoreConfig(),
		Pool:      make(map[string]WorkerPool),
		Lifecycle: defaultLifecycleConfig(),
		Container: defaultContainerConfig(),
		Watch:     defaultWatchConfig(),
		Logging:   defaultLoggingConfig(),
	}
}

func defaultStoreConfig() StoreConfig {
	return StoreConfig{
		DBPath:           defaultDBPath,
		WorkspaceRoot:    defaultWorkspaceRoot,
		WorkerBinaryPath: defaultWorkerBinaryPath,
	}
}

func defaultWorkerPool() WorkerPool {
	return WorkerPool{
		Count:         defaultWorkerCount,
		ExecutionMode: defaultExecutionMode,
	}
}

func defaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		Mode:                  defaultLifecycleMode,
		MaxStartupConcurrency: defaultMaxStartupConcurrency,
		MaxJobConcurrency:     defaultMaxJobConcurrency,
		HeartbeatGraceSeconds: defaultHeartbeatGraceSeconds,
		DeadGraceSeconds:      defaultDeadGraceSeconds,
		CreatedGraceSeconds:   defaultCreatedGraceSeconds,
	}
}

func defaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		SocketPath: defaultContainerSocketPath,
		Namespace:  defaultContainerNamespace,
	}
}

func defaultWatchConfig() WatchConfig {
	return WatchConfig{
		DebounceMillis: defaultDebounceMillis,
		FastMode:       false,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  defaultLogLevel,
		Format: defaultLogFormat,
	}
}
