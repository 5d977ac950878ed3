// Package engine is the public facade over the multi-tier cache and the
// task scheduling pipeline. It owns component lifecycle: construct with New,
// shut down with Close.
package engine

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tierq/tierq/internal/balance"
	"github.com/tierq/tierq/internal/cache"
	"github.com/tierq/tierq/internal/config"
	"github.com/tierq/tierq/internal/metrics"
	"github.com/tierq/tierq/internal/monitor"
	"github.com/tierq/tierq/internal/pool"
	"github.com/tierq/tierq/internal/queue"
	"github.com/tierq/tierq/internal/scheduler"
	"github.com/tierq/tierq/internal/task"
	"github.com/tierq/tierq/pkg/types"
)

// TaskOptions carries the public submission parameters.
type TaskOptions struct {
	Priority types.Priority
	Affinity types.Affinity
	Timeout  time.Duration

	// Retries is the number of re-executions after the first failed
	// attempt. Negative means the configured default.
	Retries int

	Dependencies []string
	Metadata     map[string]string

	// CacheKey enables result memoization when non-empty.
	CacheKey string
}

// Engine bundles the cache, the scheduler and their supporting components
// behind one concurrency-safe API.
type Engine struct {
	cfg       *config.Config
	logger    *log.Logger
	cache     *cache.TieredCache
	monitor   *monitor.Monitor
	pool      *pool.Pool
	queue     *queue.Queue
	balancer  *balance.Balancer
	scheduler *scheduler.Scheduler
	collector *metrics.Collector
}

// New builds and starts an engine from the given configuration. A nil
// config uses the built-in defaults.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel)

	collector, err := metrics.NewCollector(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
		Path:    cfg.Metrics.Path,
	}, logger)
	if err != nil {
		return nil, err
	}

	mon := monitor.New(cfg.Resources.HighCPUThresholdPct, cfg.Resources.HighMemThresholdPct, logger)

	tiered, err := cache.NewTieredCache(cache.Options{
		Directory:       cfg.Cache.Directory,
		FastCapacity:    cfg.Cache.FastCapacityBytes(),
		TierCapacity:    cfg.Cache.CapacityTierBytes(),
		Compression:     cfg.Cache.CompressionEnabled,
		AutoEviction:    cfg.Cache.AutoEviction,
		MonitorInterval: cfg.Cache.MonitorInterval,
		Monitor:         mon,
		Recorder:        collector,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	q := queue.New(cfg.Scheduler.MaxQueueDepth, logger)
	p := pool.New(pool.Config{
		MinWorkers:  cfg.Scheduler.MinWorkers,
		MaxWorkers:  cfg.Scheduler.MaxWorkers,
		Autoscaling: cfg.Scheduler.Autoscaling,
		IdleTimeout: cfg.Scheduler.IdleTimeout,
	}, logger)
	b := balance.New(p, logger)

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		cache:     tiered,
		monitor:   mon,
		pool:      p,
		queue:     q,
		balancer:  b,
		collector: collector,
	}

	e.scheduler = scheduler.New(scheduler.Options{
		Config:   cfg.Scheduler,
		Backoff:  cfg.Retry,
		Queue:    q,
		Pool:     p,
		Balancer: b,
		Monitor:  mon,
		Results:  &jsonResultCache{cache: tiered, logger: logger},
		Recorder: collector,
		Logger:   logger,
	})

	if err := collector.Start(context.Background()); err != nil {
		tiered.Close()
		p.Close()
		return nil, err
	}
	e.scheduler.Start()

	logger.Info("engine started",
		"fast_capacity", cfg.Cache.FastCapacityBytes(),
		"tier_capacity", cfg.Cache.CapacityTierBytes(),
		"workers", cfg.Scheduler.MinWorkers)
	return e, nil
}

// CacheSubmit stores a value in the tiered cache. Returns false when the
// value could not be stored.
func (e *Engine) CacheSubmit(key string, value []byte, kind types.DataKind, computeCost float64, priority int) bool {
	return e.cache.Put(key, value, kind, computeCost, priority)
}

// CacheGet retrieves a value, promoting hot capacity-tier entries.
func (e *Engine) CacheGet(key string) ([]byte, bool) {
	return e.cache.Get(key)
}

// CacheFlush removes a key from both tiers.
func (e *Engine) CacheFlush(key string) {
	e.cache.Flush(key)
}

// CacheStats returns a cache performance snapshot.
func (e *Engine) CacheStats() types.CacheStats {
	return e.cache.Stats()
}

// TaskSubmit registers a task for execution and returns its id.
func (e *Engine) TaskSubmit(fn types.TaskFunc, opts TaskOptions) (string, error) {
	return e.scheduler.Submit(fn, task.Options{
		Priority:     opts.Priority,
		Affinity:     opts.Affinity,
		Timeout:      opts.Timeout,
		MaxRetries:   opts.Retries,
		Dependencies: opts.Dependencies,
		Metadata:     opts.Metadata,
		CacheKey:     opts.CacheKey,
	})
}

// TaskAwait blocks until the task finishes or the timeout elapses. A zero
// timeout waits indefinitely.
func (e *Engine) TaskAwait(id string, timeout time.Duration) (interface{}, error) {
	return e.scheduler.Await(id, timeout)
}

// TaskCancel cancels a task that has not started running.
func (e *Engine) TaskCancel(id string) bool {
	return e.scheduler.Cancel(id)
}

// TaskState returns the lifecycle state of a task.
func (e *Engine) TaskState(id string) (types.TaskState, bool) {
	t, ok := e.scheduler.Task(id)
	if !ok {
		return "", false
	}
	return t.State(), true
}

// QueueStats counts tasks by state.
func (e *Engine) QueueStats() types.QueueStats {
	return e.queue.Stats()
}

// Metrics returns the scheduler's last derived system snapshot.
func (e *Engine) Metrics() types.SystemMetrics {
	return e.scheduler.Metrics()
}

// Close shuts the engine down: the scheduler stops dispatching, the pool
// stops retiring, the cache persists its index and the metrics endpoint
// closes.
func (e *Engine) Close() error {
	e.scheduler.Stop()
	e.pool.Close()
	e.cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.collector.Stop(ctx); err != nil {
		e.logger.Warn("metrics shutdown", "error", err)
	}

	e.logger.Info("engine stopped")
	return nil
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "tierq",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// jsonResultCache memoizes task results in the tiered cache using JSON.
// Serialization failures are logged and the write skipped; the task result
// itself is unaffected.
type jsonResultCache struct {
	cache  *cache.TieredCache
	logger *log.Logger
}

func (c *jsonResultCache) Lookup(key string) (interface{}, bool) {
	raw, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("memoized result unreadable, treating as miss", "key", key, "error", err)
		return nil, false
	}
	return v, true
}

func (c *jsonResultCache) Store(key string, value interface{}, computeCost float64, priority types.Priority) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("task result not serializable, skipping cache write", "key", key, "error", err)
		return
	}
	c.cache.Put(key, raw, types.KindStructured, computeCost, int(priority))
}
