// Package store implements the embedded relational store: schema and
// migrations, the durable job queue with atomic claim semantics, the
// two-tier result cache, the worker registry, and the append-only worker
// event log.
package store

// JobStatus is the lifecycle state of a Job row.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// WorkerStatus is the lifecycle state of a Worker row.
type WorkerStatus string

const (
	WorkerCreated WorkerStatus = "created"
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerHung    WorkerStatus = "hung"
	WorkerDead    WorkerStatus = "dead"
)

// ExecutionMode identifies how a worker process was started.
type ExecutionMode string

const (
	ExecutionModeDocker ExecutionMode = "docker"
	ExecutionModeDirect ExecutionMode = "direct"
)

// WorkerEventType enumerates the append-only audit event kinds.
type WorkerEventType string

const (
	EventWorkerStarting   WorkerEventType = "worker_starting"
	EventWorkerRegistered WorkerEventType = "worker_registered"
	EventWorkerReady      WorkerEventType = "worker_ready"
	EventWorkerStopping   WorkerEventType = "worker_stopping"
	EventWorkerStopped    WorkerEventType = "worker_stopped"
	EventWorkerFailed     WorkerEventType = "worker_failed"
	EventPoolStarting     WorkerEventType = "pool_starting"
	EventPoolStarted      WorkerEventType = "pool_started"
	EventPoolStopping     WorkerEventType = "pool_stopping"
	EventPoolStopped      WorkerEventType = "pool_stopped"
	EventParentDied       WorkerEventType = "parent_died"
)

// Job is one unit of work for exactly one converter kind.
type Job struct {
	ID            int64
	JobType       string
	Status        JobStatus
	Priority      int
	InputFile     string
	OutputFile    string
	ContentHash   string
	CorrelationID string
	Payload       []byte
	Attempts      int
	MaxAttempts   int
	Error         *string
	CreatedAt     int64
	StartedAt     *int64
	CompletedAt   *int64
	CancelledAt   *int64
	WorkerID      *int64
	CancelledBy   *string
}

// Worker is one live converter instance.
type Worker struct {
	ID             int64
	WorkerType     string
	ExecutorID     string
	Status         WorkerStatus
	ExecutionMode  ExecutionMode
	ParentPID      int
	SessionID      string
	StartedAt      int64
	LastHeartbeat  int64
	JobsProcessed  int
	JobsFailed     int
}

// ResultCacheEntry is tier-2 cache metadata for an output already produced.
type ResultCacheEntry struct {
	OutputFile     string
	ContentHash    string
	ResultMetadata []byte
	CreatedAt      int64
	LastAccessed   int64
	AccessCount    int
}

// StoredResult is tier-1 cache: the full artifact bytes.
type StoredResult struct {
	InputFile                 string
	ContentHash                string
	OutputMetadataFingerprint string
	ResultBytes                []byte
	CreatedAt                  int64
}

// WorkerEvent is one append-only lifecycle audit row.
type WorkerEvent struct {
	ID            int64
	EventType     WorkerEventType
	WorkerID      *int64
	WorkerType    string
	ExecutionMode string
	Message       string
	Metadata      []byte
	SessionID     string
	CreatedAt     int64
}

// ErrDuplicateJob is returned by AddJob when an identical (output_file,
// content_hash) row already exists with status pending or processing.
var ErrDuplicateJob = newSentinelError("duplicate job")

// ErrNoWorkersForType is returned when Backend cannot find any worker, live
// or starting, of the requested type.
var ErrNoWorkersForType = newSentinelError("no workers for type")

type sentinelError string

func newSentinelError(s string) error { return sentinelError(s) }

func (e sentinelError) Error() string { return string(e) }
