package types

import (
	"context"
	"time"
)

// DataKind tags a cached value so the compressor can pick an effort level.
// It never changes cache semantics.
type DataKind string

const (
	KindText       DataKind = "text"
	KindImage      DataKind = "image"
	KindAudio      DataKind = "audio"
	KindVideo      DataKind = "video"
	KindStructured DataKind = "structured"
	KindBinary     DataKind = "binary"
)

// Priority orders tasks in the queue. Higher values drain first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the string representation of a priority level.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Affinity declares the workload category of a task, used to prefer a
// matching worker slot.
type Affinity string

const (
	AffinityCPU     Affinity = "cpu"
	AffinityIO      Affinity = "io"
	AffinityMemory  Affinity = "memory"
	AffinityGeneral Affinity = "general"
)

// TaskState is the lifecycle state of a submitted task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// IsTerminal reports whether no further state transitions are possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskFunc is the unit of work a task executes. The context is cancelled
// when the task's timeout elapses; cooperative bodies should honor it.
type TaskFunc func(ctx context.Context) (interface{}, error)

// WorkerHealth classifies a worker slot by its recent resource samples.
type WorkerHealth string

const (
	HealthHealthy  WorkerHealth = "healthy"
	HealthDegraded WorkerHealth = "degraded"
	HealthCritical WorkerHealth = "critical"
)

// ResourceSample is a point-in-time reading of host and process resources.
type ResourceSample struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	ProcessRSS    uint64    `json:"process_rss"`
	SampledAt     time.Time `json:"sampled_at"`
}

// CacheStats is a snapshot of multi-tier cache performance counters.
type CacheStats struct {
	FastHits       uint64        `json:"fast_hits"`
	CapacityHits   uint64        `json:"capacity_hits"`
	Misses         uint64        `json:"misses"`
	Evictions      uint64        `json:"evictions"`
	BytesStored    int64         `json:"bytes_stored"`
	AvgAccessTime  time.Duration `json:"avg_access_time"`
	ProcessRSS     uint64        `json:"process_rss"`
	FastEntries    int           `json:"fast_entries"`
	CapacityCount  int           `json:"capacity_entries"`
}

// TotalHits returns hits across both tiers.
func (s CacheStats) TotalHits() uint64 {
	return s.FastHits + s.CapacityHits
}

// HitRate returns the hit ratio in [0, 1].
func (s CacheStats) HitRate() float64 {
	total := s.TotalHits() + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.TotalHits()) / float64(total)
}

// QueueStats counts tasks by state.
type QueueStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// WorkerMetrics is the rolling performance record of a single worker slot.
type WorkerMetrics struct {
	WorkerID       string        `json:"worker_id"`
	Affinity       Affinity      `json:"affinity"`
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	AvgExecTime    time.Duration `json:"avg_exec_time"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryPercent  float64       `json:"memory_percent"`
	Health         WorkerHealth  `json:"health"`
	LastActive     time.Time     `json:"last_active"`
}

// SystemMetrics is a derived point-in-time view recomputed by the scheduler
// on every control-loop tick. It is never a source of truth.
type SystemMetrics struct {
	TasksTotal     int           `json:"tasks_total"`
	TasksPending   int           `json:"tasks_pending"`
	TasksRunning   int           `json:"tasks_running"`
	TasksCompleted int           `json:"tasks_completed"`
	TasksFailed    int           `json:"tasks_failed"`
	ActiveWorkers  int           `json:"active_workers"`
	IdleWorkers    int           `json:"idle_workers"`
	QueueDepth     int           `json:"queue_depth"`
	AvgLatency     time.Duration `json:"avg_latency"`
	Throughput     float64       `json:"throughput"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryPercent  float64       `json:"memory_percent"`
}
