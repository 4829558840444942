package config

import (
	"errors"
	"fmt"
)

// Validation range constants.
const (
	minMaxStartupConcurrency = 1
	maxMaxStartupConcurrency = 64
	minMaxJobConcurrency     = 1
	maxMaxJobConcurrency     = 256
	minHeartbeatGrace        = 1
	minDeadGrace             = 1
	minCreatedGrace          = 1
	minDebounceMillis        = 0
	maxDebounceMillis        = 60_000
	minPoolCount             = 1
	maxPoolCount             = 256
)

var validLifecycleModes = map[string]bool{
	"managed":    true,
	"persistent": true,
	"mixed":      true,
}

var validExecutionModes = map[string]bool{
	"direct":    true,
	"container": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns every error found,
// joined, rather than stopping at the first — callers see a complete
// report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateStore(&cfg.Store, cfg.Pool)...)
	errs = append(errs, validatePool(cfg.Pool)...)
	errs = append(errs, validateLifecycle(&cfg.Lifecycle)...)
	errs = append(errs, validateContainer(&cfg.Container, cfg.Pool)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateStore(s *StoreConfig, pool map[string]WorkerPool) []error {
	var errs []error

	if s.DBPath == "" {
		errs = append(errs, errors.New("db_path: must not be empty"))
	}

	if s.WorkspaceRoot == "" {
		errs = append(errs, errors.New("workspace_root: must not be empty"))
	}

	usesDirect := false

	for _, p := range pool {
		if p.ExecutionMode == "direct" {
			usesDirect = true

			break
		}
	}

	if usesDirect && s.WorkerBinaryPath == "" {
		errs = append(errs, errors.New("store.worker_binary_path: must not be empty when a worker uses execution_mode direct"))
	}

	return errs
}

func validatePool(pool map[string]WorkerPool) []error {
	var errs []error

	for workerType, p := range pool {
		if p.Count < minPoolCount || p.Count > maxPoolCount {
			errs = append(errs, fmt.Errorf("worker.%s.count: must be between %d and %d, got %d",
				workerType, minPoolCount, maxPoolCount, p.Count))
		}

		if !validExecutionModes[p.ExecutionMode] {
			errs = append(errs, fmt.Errorf("worker.%s.execution_mode: must be one of direct, container; got %q",
				workerType, p.ExecutionMode))
		}

		if p.ExecutionMode == "container" && p.ContainerImage == "" {
			errs = append(errs, fmt.Errorf("worker.%s.container_image: required when execution_mode is container",
				workerType))
		}
	}

	return errs
}

func validateLifecycle(l *LifecycleConfig) []error {
	var errs []error

	if !validLifecycleModes[l.Mode] {
		errs = append(errs, fmt.Errorf("lifecycle.mode: must be one of managed, persistent, mixed; got %q", l.Mode))
	}

	if l.MaxStartupConcurrency < minMaxStartupConcurrency || l.MaxStartupConcurrency > maxMaxStartupConcurrency {
		errs = append(errs, fmt.Errorf("max_startup_concurrency: must be between %d and %d, got %d",
			minMaxStartupConcurrency, maxMaxStartupConcurrency, l.MaxStartupConcurrency))
	}

	if l.MaxJobConcurrency < minMaxJobConcurrency || l.MaxJobConcurrency > maxMaxJobConcurrency {
		errs = append(errs, fmt.Errorf("max_job_concurrency: must be between %d and %d, got %d",
			minMaxJobConcurrency, maxMaxJobConcurrency, l.MaxJobConcurrency))
	}

	if l.HeartbeatGraceSeconds < minHeartbeatGrace {
		errs = append(errs, fmt.Errorf("heartbeat_grace_seconds: must be >= %d, got %d",
			minHeartbeatGrace, l.HeartbeatGraceSeconds))
	}

	if l.DeadGraceSeconds < minDeadGrace {
		errs = append(errs, fmt.Errorf("dead_grace_seconds: must be >= %d, got %d",
			minDeadGrace, l.DeadGraceSeconds))
	}

	if l.CreatedGraceSeconds < minCreatedGrace {
		errs = append(errs, fmt.Errorf("created_grace_seconds: must be >= %d, got %d",
			minCreatedGrace, l.CreatedGraceSeconds))
	}

	return errs
}

// validateContainer requires socket_path and namespace only when some
// worker type actually runs under execution_mode "container" — a
// direct-only config need not supply containerd connection details.
func validateContainer(c *ContainerConfig, pool map[string]WorkerPool) []error {
	var errs []error

	usesContainers := false

	for _, p := range pool {
		if p.ExecutionMode == "container" {
			usesContainers = true

			break
		}
	}

	if !usesContainers {
		return errs
	}

	if c.SocketPath == "" {
		errs = append(errs, errors.New("container.socket_path: must not be empty when a worker uses execution_mode container"))
	}

	if c.Namespace == "" {
		errs = append(errs, errors.New("container.namespace: must not be empty when a worker uses execution_mode container"))
	}

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	if w.DebounceMillis < minDebounceMillis || w.DebounceMillis > maxDebounceMillis {
		errs = append(errs, fmt.Errorf("watch.debounce_millis: must be between %d and %d, got %d",
			minDebounceMillis, maxDebounceMillis, w.DebounceMillis))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("logging.level: must be one of debug, info, warn, error; got %q", l.Level))
	}

	if !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("logging.format: must be one of text, json; got %q", l.Format))
	}

	return errs
}
