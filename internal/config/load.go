package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. toml.Decode resolves [worker.<type>] tables directly
// into the Pool map as a single pass; unknown keys — global or inside a
// worker section — are treated as fatal errors with "did you mean?"
// suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	applyWorkerDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully", "path", path, "worker_types", len(cfg.Pool))

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports running forge
// with zero configuration: callers need not create a config file before
// their first build.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// applyWorkerDefaults fills in defaultWorkerPool's values for any field a
// decoded [worker.<type>] section left unset, since toml.Decode only
// overwrites the keys actually present in the file and each Pool entry
// otherwise starts as a bare zero-value WorkerPool.
func applyWorkerDefaults(cfg *Config) {
	fallback := defaultWorkerPool()

	for name, pool := range cfg.Pool {
		if pool.Count == 0 {
			pool.Count = fallback.Count
		}

		if pool.ExecutionMode == "" {
			pool.ExecutionMode = fallback.ExecutionMode
		}

		cfg.Pool[name] = pool
	}
}
