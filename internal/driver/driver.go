// Package driver wires Store, PoolManager, LifecycleManager, Backend,
// Orchestrator, WatchCoordinator, and ShutdownCoordinator into the
// build()/status()/cancel_for_input()/cleanup_stale() surface a CLI drives.
// None of this wiring is part of the core queue/cache/pool semantics; it is
// the thin policy layer a command-line entrypoint sits on top of.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/forge/internal/backend"
	"github.com/tonimelisma/forge/internal/config"
	"github.com/tonimelisma/forge/internal/course"
	"github.com/tonimelisma/forge/internal/executor"
	"github.com/tonimelisma/forge/internal/lifecycle"
	"github.com/tonimelisma/forge/internal/orchestrator"
	"github.com/tonimelisma/forge/internal/pool"
	"github.com/tonimelisma/forge/internal/shutdown"
	"github.com/tonimelisma/forge/internal/store"
)

// groupKey identifies one pool.Manager's worth of workers: every worker
// type sharing an execution mode and (for container mode) a container
// image shares one executor instance, since a pool.Manager owns exactly
// one Executor. All "direct" worker types share a single groupKey — one
// subprocess executor launches every direct-mode worker type.
type groupKey struct {
	mode  store.ExecutionMode
	image string
}

// workerGroup is one groupKey's pool + lifecycle wrapper plus the set of
// worker types it starts.
type workerGroup struct {
	lifecycle *lifecycle.Manager
	configs   []pool.TypeConfig
}

// Driver is the long-lived object a CLI command constructs once per
// invocation (or once per persistent daemon, in persistent mode).
type Driver struct {
	Config    *config.Config
	Store     *store.Store
	Logger    *slog.Logger
	Backend   *backend.Backend
	Shutdown  *shutdown.Coordinator
	SessionID string

	groups         map[groupKey]*workerGroup
	containerExecs []*executor.ContainerExecutor

	mu      sync.Mutex
	started bool
}

// New opens the store and constructs every pool/lifecycle group named by
// cfg.Pool, grouped by execution mode and container image. It does not
// start any workers — call StartWorkers for that, separately, so a caller
// that only wants status() or cancel_for_input() never pays container-pull
// or subprocess-launch cost.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Driver, error) {
	st, err := store.Open(ctx, cfg.Store.DBPath, logger)
	if err != nil {
		return nil, asInfrastructureError(fmt.Errorf("driver: opening store: %w", err))
	}

	d := &Driver{
		Config:    cfg,
		Store:     st,
		Logger:    logger,
		Backend:   backend.New(st, logger),
		Shutdown:  shutdown.New(logger),
		SessionID: uuid.NewString(),
		groups:    make(map[groupKey]*workerGroup),
	}

	if err := d.buildGroups(ctx); err != nil {
		st.Close()

		return nil, err
	}

	return d, nil
}

// buildGroups constructs one executor and one pool.Manager per distinct
// (execution_mode, container_image) pair named across cfg.Pool, then
// wraps each in a lifecycle.Manager under the driver's configured mode.
func (d *Driver) buildGroups(ctx context.Context) error {
	cfg := d.Config

	directTypes := make([]pool.TypeConfig, 0)
	containerTypesByImage := make(map[string][]pool.TypeConfig)

	for workerType, wp := range cfg.Pool {
		tc := pool.TypeConfig{WorkerType: workerType, Count: wp.Count}

		switch wp.ExecutionMode {
		case "direct":
			tc.ExecutionMode = store.ExecutionModeDirect
			directTypes = append(directTypes, tc)
		case "container":
			tc.ExecutionMode = store.ExecutionModeDocker
			containerTypesByImage[wp.ContainerImage] = append(containerTypesByImage[wp.ContainerImage], tc)
		default:
			return asConfigurationError(fmt.Errorf("driver: worker %q has unknown execution_mode %q", workerType, wp.ExecutionMode))
		}
	}

	if len(directTypes) > 0 {
		exec := executor.NewSubprocessExecutor(cfg.Store.WorkerBinaryPath, d.Logger)

		key := groupKey{mode: store.ExecutionModeDirect}
		if err := d.addGroup(key, exec, directTypes); err != nil {
			return err
		}
	}

	for image, types := range containerTypesByImage {
		exec, err := executor.NewContainerExecutor(ctx,
			cfg.Container.SocketPath, cfg.Container.Namespace, image,
			cfg.Store.WorkspaceRoot, cfg.Store.DBPath, cfg.Container.EscapePaths, d.Logger)
		if err != nil {
			return asInfrastructureError(fmt.Errorf("driver: constructing container executor for image %s: %w", image, err))
		}

		d.containerExecs = append(d.containerExecs, exec)

		key := groupKey{mode: store.ExecutionModeDocker, image: image}
		if err := d.addGroup(key, exec, types); err != nil {
			return err
		}
	}

	return nil
}

func (d *Driver) addGroup(key groupKey, exec executor.Executor, types []pool.TypeConfig) error {
	poolMgr := pool.New(d.Store, exec, d.Logger, d.SessionID)
	poolMgr.MaxStartupConcurrency = d.Config.Lifecycle.MaxStartupConcurrency
	poolMgr.HeartbeatGrace = time.Duration(d.Config.Lifecycle.HeartbeatGraceSeconds) * time.Second
	poolMgr.DeadGrace = time.Duration(d.Config.Lifecycle.DeadGraceSeconds) * time.Second
	poolMgr.CreatedGrace = time.Duration(d.Config.Lifecycle.CreatedGraceSeconds) * time.Second
	poolMgr.DBPath = d.Config.Store.DBPath
	poolMgr.WorkspacePath = d.Config.Store.WorkspaceRoot
	poolMgr.LogLevel = d.Config.Logging.Level

	mode, err := parseLifecycleMode(d.Config.Lifecycle.Mode)
	if err != nil {
		return err
	}

	d.groups[key] = &workerGroup{
		lifecycle: &lifecycle.Manager{Store: d.Store, Pool: poolMgr, Logger: d.Logger, Mode: mode},
		configs:   types,
	}

	return nil
}

func parseLifecycleMode(mode string) (lifecycle.Mode, error) {
	switch mode {
	case "managed":
		return lifecycle.ModeManaged, nil
	case "persistent":
		return lifecycle.ModePersistent, nil
	case "mixed":
		return lifecycle.ModeMixed, nil
	default:
		return "", asConfigurationError(fmt.Errorf("driver: unknown lifecycle mode %q", mode))
	}
}

// StartWorkers starts (or, depending on lifecycle mode, reuses) every
// configured worker group and launches each group's health monitor.
func (d *Driver) StartWorkers(ctx context.Context, reuseWorkers bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	anyStarted := false

	for key, group := range d.groups {
		if _, err := group.lifecycle.StartManaged(ctx, group.configs, reuseWorkers); err != nil {
			return asInfrastructureError(fmt.Errorf("driver: starting group %v: %w", key, err))
		}

		group.lifecycle.Pool.StartHealthMonitor(ctx)
		anyStarted = true
	}

	if !anyStarted {
		return asConfigurationError(fmt.Errorf("driver: no worker types configured"))
	}

	d.started = true

	return nil
}

// StopWorkers stops every started group (a persistent-mode group is left
// running, per LifecycleManager's StopManaged contract).
func (d *Driver) StopWorkers(ctx context.Context, grace int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error

	for key, group := range d.groups {
		if err := group.lifecycle.StopManaged(ctx, grace); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("driver: stopping group %v: %w", key, err)
		}
	}

	d.started = false

	return firstErr
}

// newOrchestrator constructs an Orchestrator bound to c, overriding its
// default job concurrency with the configured lifecycle.max_job_concurrency.
func (d *Driver) newOrchestrator(c course.Course, requirements course.ResolverTable, providers course.ProviderTable) *orchestrator.Orchestrator {
	o := orchestrator.New(c, d.Backend, d.Logger, requirements, providers)
	o.MaxJobConcurrency = d.Config.Lifecycle.MaxJobConcurrency

	return o
}

// Close releases the store and every container executor's containerd
// client connection. Call after StopWorkers.
func (d *Driver) Close() error {
	for _, exec := range d.containerExecs {
		if err := exec.Close(); err != nil {
			d.Shutdown.ReportError("closing container executor failed", err)
		}
	}

	return d.Store.Close()
}
