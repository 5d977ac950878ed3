// Package pool manages the dynamically sized set of worker slots, typed by
// workload affinity, with rolling per-worker performance metrics and
// idle-timeout retirement down to the configured floor.
package pool

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/tierq/tierq/pkg/types"
)

// Config configures the worker pool.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	Autoscaling bool
	// IdleTimeout is how long a dynamically created worker may sit idle
	// before it retires. Zero disables retirement.
	IdleTimeout time.Duration
}

type worker struct {
	id        string
	affinity  types.Affinity
	busy      bool
	dynamic   bool // created above the floor, eligible for retirement
	idleSince time.Time
	metrics   types.WorkerMetrics
}

// Pool is the dynamic worker pool. Slots are bookkeeping entries: task
// bodies run on goroutines owned by the scheduler, bounded by the number of
// acquired slots.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	workers map[string]*worker
	idle    map[types.Affinity][]string
	logger  *log.Logger

	stopCh  chan struct{}
	stopped sync.Once
}

// New creates a pool with the configured floor of general-purpose slots and
// starts the retirement loop when an idle timeout is set.
func New(cfg Config, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	p := &Pool{
		cfg:     cfg,
		workers: make(map[string]*worker),
		idle:    make(map[types.Affinity][]string),
		logger:  logger.With("component", "pool"),
		stopCh:  make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		p.addWorkerLocked(types.AffinityGeneral, false)
	}
	p.logger.Info("worker pool initialized", "floor", cfg.MinWorkers, "ceiling", cfg.MaxWorkers)

	if cfg.IdleTimeout > 0 {
		go p.retireLoop()
	}

	return p
}

// Acquire claims an idle slot for the given affinity: a matching idle slot
// first, then a general-purpose one, then a freshly created slot if the
// pool is below its ceiling. Returns false when every slot is busy and the
// ceiling is reached, which is the backpressure signal.
func (p *Pool) Acquire(affinity types.Affinity) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.popIdleLocked(affinity); ok {
		return id, true
	}
	if affinity != types.AffinityGeneral {
		if id, ok := p.popIdleLocked(types.AffinityGeneral); ok {
			return id, true
		}
	}

	if len(p.workers) < p.cfg.MaxWorkers {
		id := p.addWorkerLocked(affinity, true)
		w := p.workers[id]
		w.busy = true
		return id, true
	}

	return "", false
}

// Claim marks a specific idle worker busy. Used by the load balancer after
// scoring candidates. Returns false when the worker is unknown or busy.
func (p *Pool) Claim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok || w.busy {
		return false
	}

	list := p.idle[w.affinity]
	for i, wid := range list {
		if wid == id {
			p.idle[w.affinity] = append(list[:i], list[i+1:]...)
			break
		}
	}
	w.busy = true
	return true
}

// Release returns a slot to the idle set for its affinity.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return
	}
	w.busy = false
	w.idleSince = time.Now()
	p.idle[w.affinity] = append(p.idle[w.affinity], id)
}

// RecordOutcome folds an execution result into the worker's rolling
// metrics: incremental-mean execution time, success/failure counters, the
// latest resource sample and the derived health classification.
func (p *Pool) RecordOutcome(id string, execTime time.Duration, success bool, sample types.ResourceSample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return
	}

	m := &w.metrics
	if success {
		m.TasksCompleted++
	} else {
		m.TasksFailed++
	}

	total := m.TasksCompleted + m.TasksFailed
	if total > 0 {
		m.AvgExecTime = time.Duration((int64(m.AvgExecTime)*(total-1) + int64(execTime)) / total)
	}

	m.CPUPercent = sample.CPUPercent
	m.MemoryPercent = sample.MemoryPercent
	m.LastActive = time.Now()

	switch {
	case m.CPUPercent > 90 || m.MemoryPercent > 90:
		m.Health = types.HealthCritical
	case m.CPUPercent > 70 || m.MemoryPercent > 70:
		m.Health = types.HealthDegraded
	default:
		m.Health = types.HealthHealthy
	}
}

// Scale grows the pool when pending load exceeds twice its size, creating
// up to min(pending/2, ceiling-size) general slots. Returns the number of
// workers created. Shrinking is handled by the retirement loop.
func (p *Pool) Scale(pending int) int {
	if !p.cfg.Autoscaling {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	size := len(p.workers)
	if pending <= size*2 || size >= p.cfg.MaxWorkers {
		return 0
	}

	needed := pending / 2
	if room := p.cfg.MaxWorkers - size; needed > room {
		needed = room
	}

	for i := 0; i < needed; i++ {
		p.addWorkerLocked(types.AffinityGeneral, true)
	}
	if needed > 0 {
		p.logger.Info("scaled worker pool", "created", needed, "size", len(p.workers))
	}
	return needed
}

// Metrics returns a snapshot of every worker's rolling metrics.
func (p *Pool) Metrics() map[string]types.WorkerMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]types.WorkerMetrics, len(p.workers))
	for id, w := range p.workers {
		out[id] = w.metrics
	}
	return out
}

// IdleMetrics returns the metrics of currently idle workers, for balancer
// scoring.
func (p *Pool) IdleMetrics() []types.WorkerMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []types.WorkerMetrics
	for _, ids := range p.idle {
		for _, id := range ids {
			if w, ok := p.workers[id]; ok {
				out = append(out, w.metrics)
			}
		}
	}
	return out
}

// Size returns the total slot count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IdleCount returns the number of idle slots.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, ids := range p.idle {
		n += len(ids)
	}
	return n
}

// Close stops the retirement loop.
func (p *Pool) Close() {
	p.stopped.Do(func() { close(p.stopCh) })
}

func (p *Pool) popIdleLocked(affinity types.Affinity) (string, bool) {
	list := p.idle[affinity]
	for len(list) > 0 {
		id := list[0]
		list = list[1:]
		p.idle[affinity] = list
		if w, ok := p.workers[id]; ok && !w.busy {
			w.busy = true
			return id, true
		}
	}
	return "", false
}

func (p *Pool) addWorkerLocked(affinity types.Affinity, dynamic bool) string {
	id := uuid.NewString()
	w := &worker{
		id:        id,
		affinity:  affinity,
		dynamic:   dynamic,
		idleSince: time.Now(),
		metrics: types.WorkerMetrics{
			WorkerID: id,
			Affinity: affinity,
			Health:   types.HealthHealthy,
		},
	}
	p.workers[id] = w
	p.idle[affinity] = append(p.idle[affinity], id)
	return id
}

// retireLoop removes dynamically created slots that have sat idle past the
// timeout, never dropping the pool below its floor.
func (p *Pool) retireLoop() {
	interval := p.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.retireIdle()
		}
	}
}

func (p *Pool) retireIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	retired := 0

	for affinity, ids := range p.idle {
		kept := ids[:0]
		for _, id := range ids {
			w, ok := p.workers[id]
			if !ok {
				continue
			}
			if w.dynamic && len(p.workers) > p.cfg.MinWorkers && w.idleSince.Before(cutoff) {
				delete(p.workers, id)
				retired++
				continue
			}
			kept = append(kept, id)
		}
		p.idle[affinity] = kept
	}

	if retired > 0 {
		p.logger.Info("retired idle workers", "retired", retired, "size", len(p.workers))
	}
}
