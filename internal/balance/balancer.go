// Package balance picks workers for dispatch and issues rebalancing
// decisions from the scheduler's derived metrics.
package balance

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/tierq/tierq/internal/pool"
	"github.com/tierq/tierq/pkg/types"
)

const (
	// pendingBacklogFactor triggers a scale-up decision when queued work
	// exceeds this multiple of active workers.
	pendingBacklogFactor = 3
	// latencyThreshold triggers a rebalance advisory.
	latencyThreshold = 5 * time.Second
)

// Action is the outcome of a rebalancing evaluation.
type Action string

const (
	ActionNone      Action = "none"
	ActionScaleUp   Action = "scale_up"
	ActionRebalance Action = "rebalance"
)

// Decision is the result of one Rebalance evaluation.
type Decision struct {
	Action         Action
	WorkersCreated int
	Reason         string
}

// Balancer scores idle workers and selects dispatch targets.
type Balancer struct {
	pool   *pool.Pool
	logger *log.Logger
}

// New creates a balancer over the given pool.
func New(p *pool.Pool, logger *log.Logger) *Balancer {
	if logger == nil {
		logger = log.Default()
	}
	return &Balancer{pool: p, logger: logger.With("component", "balance")}
}

// SelectWorker picks the idle worker with the lowest composite load score,
// skipping workers classified critical. When no idle worker can be claimed
// it falls back to Pool.Acquire, which may grow the pool. Returns false
// when the pool is saturated.
func (b *Balancer) SelectWorker(affinity types.Affinity) (string, bool) {
	candidates := b.pool.IdleMetrics()

	bestID := ""
	bestScore := 0.0
	for _, m := range candidates {
		if m.Health == types.HealthCritical {
			continue
		}
		s := score(m)
		if bestID == "" || s < bestScore {
			bestID = m.WorkerID
			bestScore = s
		}
	}

	if bestID != "" && b.pool.Claim(bestID) {
		return bestID, true
	}

	// Raced with another dispatcher or every idle worker is critical.
	return b.pool.Acquire(affinity)
}

// score combines recent execution time and resource pressure. Lower is
// better.
func score(m types.WorkerMetrics) float64 {
	return 0.7*m.AvgExecTime.Seconds() + 0.3*(m.CPUPercent+m.MemoryPercent)
}

// Rebalance evaluates the derived system metrics and returns at most one
// decision: a pool scale-up for deep backlogs, or an advisory when latency
// has drifted past the threshold.
func (b *Balancer) Rebalance(m types.SystemMetrics) Decision {
	if m.QueueDepth > m.ActiveWorkers*pendingBacklogFactor {
		created := b.pool.Scale(m.QueueDepth)
		if created > 0 {
			b.logger.Info("scale-up decision",
				"queue_depth", m.QueueDepth,
				"active_workers", m.ActiveWorkers,
				"created", created)
			return Decision{Action: ActionScaleUp, WorkersCreated: created, Reason: "queue backlog"}
		}
	}

	if m.AvgLatency > latencyThreshold {
		b.logger.Warn("latency above threshold", "avg_latency", m.AvgLatency)
		return Decision{Action: ActionRebalance, Reason: "latency above threshold"}
	}

	return Decision{Action: ActionNone}
}
