// Package metrics exports cache, queue and worker metrics over a Prometheus
// endpoint backed by a private registry.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector registers and serves the engine's Prometheus metrics. A nil
// *Collector and a disabled one are both safe to record against.
type Collector struct {
	mu       sync.RWMutex
	config   Config
	registry *prometheus.Registry
	logger   *log.Logger

	cacheRequests *prometheus.CounterVec
	cacheBytes    *prometheus.GaugeVec
	taskCounter   *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
	workerGauge   *prometheus.GaugeVec

	started time.Time
	server  *http.Server
}

// NewCollector creates a collector with its own registry. When disabled the
// collector is inert and Start is a no-op.
func NewCollector(config Config, logger *log.Logger) (*Collector, error) {
	if logger == nil {
		logger = log.Default()
	}
	if config.Namespace == "" {
		config.Namespace = "tierq"
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	c := &Collector{
		config:  config,
		logger:  logger.With("component", "metrics"),
		started: time.Now(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_requests_total",
			Help:      "Total number of cache requests",
		},
		[]string{"type", "tier"},
	)

	c.cacheBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "cache_size_bytes",
			Help:      "Current cache size in bytes",
		},
		[]string{"tier"},
	)

	c.taskCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "tasks_total",
			Help:      "Total number of finished tasks",
		},
		[]string{"status", "priority"},
	)

	c.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "task_duration_seconds",
			Help:      "Task execution time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"priority"},
	)

	c.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "queue_depth",
			Help:      "Number of tasks waiting in the queue",
		},
	)

	c.workerGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "workers",
			Help:      "Worker slot counts by state",
		},
		[]string{"state"},
	)
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.cacheRequests,
		c.cacheBytes,
		c.taskCounter,
		c.taskDuration,
		c.queueDepth,
		c.workerGauge,
	}

	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if c == nil || !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server error", "error", err)
		}
	}()

	c.logger.Info("metrics server started", "port", c.config.Port, "path", c.config.Path)
	return nil
}

// Stop shuts down the metrics server.
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// CacheHit records a hit served by the named tier.
func (c *Collector) CacheHit(tier string) {
	if c == nil || !c.config.Enabled {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"type": "hit", "tier": tier}).Inc()
}

// CacheMiss records a lookup that missed both tiers.
func (c *Collector) CacheMiss() {
	if c == nil || !c.config.Enabled {
		return
	}
	c.cacheRequests.With(prometheus.Labels{"type": "miss", "tier": "none"}).Inc()
}

// CacheBytes updates the stored-byte gauge for a tier.
func (c *Collector) CacheBytes(tier string, bytes int64) {
	if c == nil || !c.config.Enabled {
		return
	}
	c.cacheBytes.With(prometheus.Labels{"tier": tier}).Set(float64(bytes))
}

// TaskFinished records a terminal task outcome and its execution time.
func (c *Collector) TaskFinished(status, priority string, duration time.Duration) {
	if c == nil || !c.config.Enabled {
		return
	}
	c.taskCounter.With(prometheus.Labels{"status": status, "priority": priority}).Inc()
	if duration > 0 {
		c.taskDuration.With(prometheus.Labels{"priority": priority}).Observe(duration.Seconds())
	}
}

// QueueDepth updates the queued-task gauge.
func (c *Collector) QueueDepth(depth int) {
	if c == nil || !c.config.Enabled {
		return
	}
	c.queueDepth.Set(float64(depth))
}

// Workers updates worker slot gauges.
func (c *Collector) Workers(active, idle int) {
	if c == nil || !c.config.Enabled {
		return
	}
	c.workerGauge.With(prometheus.Labels{"state": "active"}).Set(float64(active))
	c.workerGauge.With(prometheus.Labels{"state": "idle"}).Set(float64(idle))
}

// Uptime returns time since the collector was created.
func (c *Collector) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.started)
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"tierq-metrics"}`))
}
