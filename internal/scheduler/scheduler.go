// Package scheduler runs the control loop that ties the queue, the worker
// pool, the balancer and the resource monitor together: it releases
// dependency-gated tasks, dispatches runnable work, executes task bodies
// with timeouts and retries, and recomputes the derived system metrics on
// every tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tierq/tierq/internal/balance"
	"github.com/tierq/tierq/internal/config"
	"github.com/tierq/tierq/internal/monitor"
	"github.com/tierq/tierq/internal/pool"
	"github.com/tierq/tierq/internal/queue"
	"github.com/tierq/tierq/internal/task"
	"github.com/tierq/tierq/pkg/errors"
	"github.com/tierq/tierq/pkg/retry"
	"github.com/tierq/tierq/pkg/types"
)

const (
	// dispatchBatchCap bounds how many tasks one tick may dispatch.
	dispatchBatchCap = 10
	// execHistorySize bounds the rolling execution-time window used for
	// the derived latency metric.
	execHistorySize = 1000
)

// ResultCache memoizes task results by cache key. Implementations decide
// the codec; the scheduler only sees opaque values.
type ResultCache interface {
	Lookup(key string) (interface{}, bool)
	Store(key string, value interface{}, computeCost float64, priority types.Priority)
}

// Recorder receives scheduler events for metrics export.
type Recorder interface {
	TaskFinished(status, priority string, duration time.Duration)
	QueueDepth(depth int)
	Workers(active, idle int)
}

// Options wires the scheduler's collaborators. Queue, Pool and Balancer
// are required; the rest may be nil.
type Options struct {
	Config   config.SchedulerConfig
	Backoff  retry.Config
	Queue    *queue.Queue
	Pool     *pool.Pool
	Balancer *balance.Balancer
	Monitor  *monitor.Monitor
	Results  ResultCache
	Recorder Recorder
	Logger   *log.Logger
}

// Scheduler owns task lifecycle from submission to terminal state.
type Scheduler struct {
	cfg      config.SchedulerConfig
	queue    *queue.Queue
	pool     *pool.Pool
	balancer *balance.Balancer
	monitor  *monitor.Monitor
	results  ResultCache
	recorder Recorder
	backoff  *retry.Policy
	logger   *log.Logger

	mu          sync.Mutex
	waiting     map[string]*task.Task // dependency-gated, not yet runnable
	execHistory []time.Duration
	completed   int64
	metrics     types.SystemMetrics
	startedAt   time.Time

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a scheduler. Call Start to begin the control loop.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cfg:       opts.Config,
		queue:     opts.Queue,
		pool:      opts.Pool,
		balancer:  opts.Balancer,
		monitor:   opts.Monitor,
		results:   opts.Results,
		recorder:  opts.Recorder,
		backoff:   retry.New(opts.Backoff),
		logger:    logger.With("component", "scheduler"),
		waiting:   make(map[string]*task.Task),
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the control loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("scheduler started", "tick", s.cfg.TickInterval)
}

// Stop halts the control loop and waits for in-flight dispatch goroutines.
// Running task bodies are cancelled through their contexts on timeout only;
// Stop does not preempt them.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Submit registers a task. Tasks with a cache key whose result is already
// memoized complete immediately without queueing. Tasks with unmet
// dependencies are held until every dependency completes; a failed or
// cancelled dependency fails the dependent. Returns the task id.
func (s *Scheduler) Submit(fn types.TaskFunc, opts task.Options) (string, error) {
	if fn == nil {
		return "", errors.New(errors.ErrCodeTaskFailed, "task function is nil")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = s.cfg.TaskTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = s.cfg.MaxRetries
	}

	t := task.New(fn, opts)

	// Memoization short-circuit. The task completes without touching the
	// queue, so a cached result is served even when the queue is full.
	if t.CacheKey != "" && s.results != nil {
		if v, ok := s.results.Lookup(t.CacheKey); ok {
			t.Complete(v)
			s.queue.TrackTerminal(t)
			s.recordFinished(t)
			s.logger.Debug("task served from cache", "task", t.ID, "key", t.CacheKey)
			return t.ID, nil
		}
	}

	if len(t.Dependencies) > 0 {
		return s.submitGated(t)
	}

	if err := s.queue.Enqueue(t); err != nil {
		return "", err
	}
	return t.ID, nil
}

func (s *Scheduler) submitGated(t *task.Task) (string, error) {
	for _, dep := range t.Dependencies {
		if _, ok := s.queue.Get(dep); ok {
			continue
		}
		return "", errors.Newf(errors.ErrCodeDependency, "unknown dependency %s", dep)
	}

	if err := s.queue.Track(t); err != nil {
		return "", err
	}

	ready, failedDep := s.dependencyStatus(t)
	switch {
	case failedDep != "":
		s.failDependent(t, failedDep)
	case ready:
		if err := s.queue.Enqueue(t); err != nil {
			return "", err
		}
	default:
		s.mu.Lock()
		s.waiting[t.ID] = t
		s.mu.Unlock()
	}
	return t.ID, nil
}

// Await blocks until the task reaches a terminal state or the timeout
// elapses. A zero timeout waits indefinitely.
func (s *Scheduler) Await(id string, timeout time.Duration) (interface{}, error) {
	t, ok := s.queue.Get(id)
	if !ok {
		return nil, errors.ErrTaskNotFound
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-t.Done():
		case <-timer.C:
			return nil, errors.ErrAwaitTimeout
		}
	} else {
		<-t.Done()
	}

	switch t.State() {
	case types.TaskCancelled:
		return nil, errors.ErrTaskCancelled
	case types.TaskFailed:
		_, err := t.Result()
		return nil, err
	default:
		result, _ := t.Result()
		return result, nil
	}
}

// Cancel cancels a Pending or Queued task. Running and terminal tasks are
// not affected.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	delete(s.waiting, id)
	s.mu.Unlock()

	if s.queue.Cancel(id) {
		if t, ok := s.queue.Get(id); ok {
			s.recordFinished(t)
		}
		return true
	}
	return false
}

// Task returns the task registered under id.
func (s *Scheduler) Task(id string) (*task.Task, bool) {
	return s.queue.Get(id)
}

// Metrics returns the last derived system metrics snapshot.
func (s *Scheduler) Metrics() types.SystemMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	m := s.deriveMetrics()
	s.releaseWaiting()
	s.balancer.Rebalance(m)
	s.dispatch()
}

// releaseWaiting moves dependency-gated tasks whose dependencies have all
// completed into the queue, and fails dependents of failed or cancelled
// dependencies.
func (s *Scheduler) releaseWaiting() {
	s.mu.Lock()
	pending := make([]*task.Task, 0, len(s.waiting))
	for _, t := range s.waiting {
		pending = append(pending, t)
	}
	s.mu.Unlock()

	for _, t := range pending {
		ready, failedDep := s.dependencyStatus(t)
		switch {
		case failedDep != "":
			s.mu.Lock()
			delete(s.waiting, t.ID)
			s.mu.Unlock()
			s.failDependent(t, failedDep)
		case ready:
			s.mu.Lock()
			delete(s.waiting, t.ID)
			s.mu.Unlock()
			if err := s.queue.Enqueue(t); err != nil {
				t.Fail(err)
				s.recordFinished(t)
			}
		}
	}
}

// dependencyStatus reports whether every dependency completed, or names the
// first failed or cancelled one.
func (s *Scheduler) dependencyStatus(t *task.Task) (ready bool, failedDep string) {
	ready = true
	for _, dep := range t.Dependencies {
		d, ok := s.queue.Get(dep)
		if !ok {
			return false, dep
		}
		switch d.State() {
		case types.TaskCompleted:
		case types.TaskFailed, types.TaskCancelled:
			return false, dep
		default:
			ready = false
		}
	}
	return ready, ""
}

func (s *Scheduler) failDependent(t *task.Task, dep string) {
	t.Fail(errors.Newf(errors.ErrCodeDependency, "dependency %s did not complete", dep))
	s.recordFinished(t)
	s.logger.Warn("task failed on dependency", "task", t.ID, "dependency", dep)
}

func (s *Scheduler) dispatch() {
	batch := dispatchBatchCap
	if size := s.pool.Size(); size < batch {
		batch = size
	}

	for i := 0; i < batch; i++ {
		if s.pool.IdleCount() == 0 && s.pool.Size() >= s.cfg.MaxWorkers {
			return
		}

		t := s.queue.Dequeue()
		if t == nil {
			return
		}

		workerID, ok := s.balancer.SelectWorker(t.Affinity)
		if !ok {
			// Pool saturated between the guard and the claim. Put the
			// task back for the next tick without charging an attempt.
			t.MarkNotDispatched()
			_ = s.queue.Enqueue(t)
			return
		}

		s.wg.Add(1)
		go s.execute(t, workerID)
	}
}

func (s *Scheduler) execute(t *task.Task, workerID string) {
	defer s.wg.Done()

	start := time.Now()
	result, err := s.runBody(t)
	execTime := time.Since(start)

	var sample types.ResourceSample
	if s.monitor != nil {
		sample = s.monitor.Sample()
	}
	s.pool.RecordOutcome(workerID, execTime, err == nil, sample)
	s.pool.Release(workerID)
	s.recordExecTime(execTime)

	if err == nil {
		// Memoize before completing so an awaiter resubmitting with the
		// same key always sees the cached result.
		if t.CacheKey != "" && s.results != nil {
			s.results.Store(t.CacheKey, result, execTime.Seconds(), t.Priority)
		}
		t.Complete(result)
		s.recordFinished(t)
		return
	}

	if t.Attempts() <= t.MaxRetries {
		attempt := t.Attempts()
		delay := s.backoff.Delay(attempt)
		t.MarkPendingRetry()
		s.logger.Warn("task attempt failed, retrying",
			"task", t.ID, "attempt", attempt, "delay", delay, "error", err)
		time.AfterFunc(delay, func() {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if qerr := s.queue.Enqueue(t); qerr != nil {
				t.Fail(qerr)
				s.recordFinished(t)
			}
		})
		return
	}

	t.Fail(err)
	s.recordFinished(t)
	s.logger.Error("task failed", "task", t.ID, "attempts", t.Attempts(), "error", err)
}

// runBody executes the task function under its timeout. The deadline is
// enforced even when the body ignores its context; an abandoned body keeps
// its goroutine until it returns.
func (s *Scheduler) runBody(t *task.Task) (result interface{}, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: errors.Newf(errors.ErrCodePanicRecovered, "task panicked: %v", r)}
			}
		}()
		res, ferr := t.Fn(ctx)
		ch <- outcome{result: res, err: ferr}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrTaskTimeout, errors.ErrCodeTaskTimeout,
			fmt.Sprintf("task exceeded timeout of %s", t.Timeout))
	}
}

func (s *Scheduler) recordExecTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execHistory = append(s.execHistory, d)
	if len(s.execHistory) > execHistorySize {
		s.execHistory = s.execHistory[len(s.execHistory)-execHistorySize:]
	}
}

func (s *Scheduler) recordFinished(t *task.Task) {
	state := t.State()
	if state == types.TaskCompleted {
		s.mu.Lock()
		s.completed++
		s.mu.Unlock()
	}
	if s.recorder != nil {
		var d time.Duration
		if !t.StartedAt().IsZero() {
			d = t.FinishedAt().Sub(t.StartedAt())
		}
		s.recorder.TaskFinished(string(state), t.Priority.String(), d)
	}
}

// deriveMetrics recomputes the system snapshot from queue, pool and monitor
// state. It is a view, never a source of truth.
func (s *Scheduler) deriveMetrics() types.SystemMetrics {
	qs := s.queue.Stats()
	size := s.pool.Size()
	idle := s.pool.IdleCount()

	var sample types.ResourceSample
	if s.monitor != nil {
		sample = s.monitor.Sample()
	}

	s.mu.Lock()
	var avg time.Duration
	if n := len(s.execHistory); n > 0 {
		var sum time.Duration
		for _, d := range s.execHistory {
			sum += d
		}
		avg = sum / time.Duration(n)
	}
	throughput := 0.0
	if elapsed := time.Since(s.startedAt).Seconds(); elapsed > 0 {
		throughput = float64(s.completed) / elapsed
	}

	m := types.SystemMetrics{
		TasksTotal:     qs.Total,
		TasksPending:   qs.Pending,
		TasksRunning:   qs.Running,
		TasksCompleted: qs.Completed,
		TasksFailed:    qs.Failed,
		ActiveWorkers:  size - idle,
		IdleWorkers:    idle,
		QueueDepth:     qs.Queued,
		AvgLatency:     avg,
		Throughput:     throughput,
		CPUPercent:     sample.CPUPercent,
		MemoryPercent:  sample.MemoryPercent,
	}
	s.metrics = m
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.QueueDepth(m.QueueDepth)
		s.recorder.Workers(m.ActiveWorkers, m.IdleWorkers)
	}
	return m
}
