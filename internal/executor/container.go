package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
)

// pathEscapePrefix doubles a leading "/" on mount paths when the host shell
// layer is known to rewrite single-leading-slash paths (observed on some
// Docker-Desktop-on-Windows style bind-mount shells). Enabled by the
// escape_paths config setting, passed to NewContainerExecutor as escapePaths.
const pathEscapePrefix = "/"

// ContainerExecutor runs worker instances as containerd tasks, one
// container per worker instance, in a dedicated namespace.
type ContainerExecutor struct {
	client        *containerd.Client
	namespace     string
	image         string
	workspacePath string
	dbPath        string
	logger        *slog.Logger
	escapePaths   bool

	mu    sync.Mutex
	tasks map[string]containerd.Task
}

// NewContainerExecutor dials the containerd socket and returns a ready
// executor. image must already be present or pullable; workspacePath and
// dbPath are bind-mounted read-write into every worker container.
func NewContainerExecutor(ctx context.Context, socketPath, namespace, image, workspacePath, dbPath string, escapePaths bool, logger *slog.Logger) (*ContainerExecutor, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("executor: dialing containerd at %s: %w", socketPath, err)
	}

	ctx = namespaces.WithNamespace(ctx, namespace)

	image = strings.TrimSpace(image)
	if _, err := client.Pull(ctx, image, containerd.WithPullUnpack); err != nil {
		client.Close()

		return nil, fmt.Errorf("executor: pulling image %s: %w", image, err)
	}

	return &ContainerExecutor{
		client:        client,
		namespace:     namespace,
		image:         image,
		workspacePath: workspacePath,
		dbPath:        dbPath,
		logger:        logger,
		escapePaths:   escapePaths,
		tasks:         make(map[string]containerd.Task),
	}, nil
}

func (e *ContainerExecutor) Close() error {
	return e.client.Close()
}

func (e *ContainerExecutor) Start(ctx context.Context, workerType string, index int, preAssignedWorkerID int64, env map[string]string) (string, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	img, err := e.client.GetImage(ctx, e.image)
	if err != nil {
		return "", fmt.Errorf("executor: resolving pulled image: %w", err)
	}

	id := fmt.Sprintf("forge-worker-%s-%d-%d", workerType, preAssignedWorkerID, index)

	envSlice := []string{
		fmt.Sprintf("WORKER_ID=%d", preAssignedWorkerID),
		"WORKER_TYPE=" + workerType,
		"DB_PATH=" + e.escapedPath(e.dbPath),
		"WORKSPACE_PATH=" + e.escapedPath(e.workspacePath),
	}

	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	container, err := e.client.NewContainer(ctx, id,
		containerd.WithImage(img),
		containerd.WithNewSnapshot(id+"-snapshot", img),
		containerd.WithNewSpec(
			oci.WithImageConfig(img),
			oci.WithEnv(envSlice),
		),
	)
	if err != nil {
		return "", fmt.Errorf("executor: creating container %s: %w", id, err)
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		container.Delete(ctx)

		return "", fmt.Errorf("executor: creating task for %s: %w", id, err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		container.Delete(ctx)

		return "", fmt.Errorf("executor: starting task for %s: %w", id, err)
	}

	e.mu.Lock()
	e.tasks[id] = task
	e.mu.Unlock()

	return id, nil
}

// escapedPath doubles the leading separator when the host is known to
// rewrite single-leading-slash bind-mount paths, so the worker process
// inside the container receives the path it was actually given.
func (e *ContainerExecutor) escapedPath(p string) string {
	if e.escapePaths && strings.HasPrefix(p, pathEscapePrefix) {
		return pathEscapePrefix + p
	}

	return p
}

func (e *ContainerExecutor) Stop(ctx context.Context, executorID string, grace time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	e.mu.Lock()
	task, ok := e.tasks[executorID]
	e.mu.Unlock()

	if !ok {
		return nil
	}

	exitCh, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("executor: waiting on task %s: %w", executorID, err)
	}

	if err := task.Kill(ctx, 15); err != nil { // SIGTERM
		e.logger.Warn("soft kill failed", slog.String("executor_id", executorID), slog.Any("error", err))
	}

	select {
	case <-exitCh:
	case <-time.After(grace):
		if err := task.Kill(ctx, 9); err != nil { // SIGKILL
			return fmt.Errorf("executor: force-killing task %s: %w", executorID, err)
		}

		<-exitCh
	}

	task.Delete(ctx)

	e.mu.Lock()
	delete(e.tasks, executorID)
	e.mu.Unlock()

	return nil
}

func (e *ContainerExecutor) IsAlive(ctx context.Context, executorID string) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, e.namespace)

	e.mu.Lock()
	task, ok := e.tasks[executorID]
	e.mu.Unlock()

	if !ok {
		return false, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return false, nil
	}

	return status.Status == containerd.Running, nil
}

func (e *ContainerExecutor) Stats(ctx context.Context, executorID string) (*Stats, error) {
	// containerd metrics require a runtime-specific cgroup reader beyond the
	// scope of the client API used here; unsupported, per the "stats may
	// return none" contract.
	return nil, nil
}
