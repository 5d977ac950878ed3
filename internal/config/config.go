package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/tierq/tierq/pkg/retry"
)

// Config is the complete engine configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Resources ResourceConfig  `yaml:"resources"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Retry     retry.Config    `yaml:"retry"`
}

// CacheConfig configures the multi-tier cache.
type CacheConfig struct {
	Directory          string        `yaml:"directory"`
	FastCapacityMB     int64         `yaml:"fast_tier_capacity_mb"`
	CapacityTierMB     int64         `yaml:"capacity_tier_capacity_mb"`
	CompressionEnabled bool          `yaml:"compression_enabled"`
	AutoEviction       bool          `yaml:"auto_eviction_enabled"`
	MonitorInterval    time.Duration `yaml:"monitor_interval"`
}

// SchedulerConfig configures the task queue, worker pool and control loop.
type SchedulerConfig struct {
	MinWorkers    int           `yaml:"min_workers"`
	MaxWorkers    int           `yaml:"max_workers"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	MaxQueueDepth int           `yaml:"max_queue_depth"`
	Autoscaling   bool          `yaml:"autoscaling_enabled"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	IdleTimeout   time.Duration `yaml:"worker_idle_timeout"`
}

// ResourceConfig holds the shed-load thresholds.
type ResourceConfig struct {
	HighCPUThresholdPct float64 `yaml:"high_cpu_threshold_pct"`
	HighMemThresholdPct float64 `yaml:"high_mem_threshold_pct"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Cache: CacheConfig{
			Directory:          "./tierq-cache",
			FastCapacityMB:     512,
			CapacityTierMB:     2048,
			CompressionEnabled: true,
			AutoEviction:       true,
			MonitorInterval:    30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			MinWorkers:    4,
			MaxWorkers:    20,
			TaskTimeout:   5 * time.Minute,
			MaxRetries:    3,
			MaxQueueDepth: 1000,
			Autoscaling:   true,
			TickInterval:  100 * time.Millisecond,
			IdleTimeout:   time.Minute,
		},
		Resources: ResourceConfig{
			HighCPUThresholdPct: 80.0,
			HighMemThresholdPct: 85.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9190,
			Path:    "/metrics",
		},
		Retry: retry.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result. An empty path loads defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if val := os.Getenv("TIERQ_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("TIERQ_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv("TIERQ_FAST_CAPACITY_MB"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Cache.FastCapacityMB = n
		}
	}
	if val := os.Getenv("TIERQ_CAPACITY_TIER_MB"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Cache.CapacityTierMB = n
		}
	}
	if val := os.Getenv("TIERQ_COMPRESSION"); val != "" {
		c.Cache.CompressionEnabled = parseBool(val)
	}
	if val := os.Getenv("TIERQ_MIN_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.MinWorkers = n
		}
	}
	if val := os.Getenv("TIERQ_MAX_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.MaxWorkers = n
		}
	}
	if val := os.Getenv("TIERQ_TASK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Scheduler.TaskTimeout = d
		}
	}
	if val := os.Getenv("TIERQ_MAX_QUEUE_DEPTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.MaxQueueDepth = n
		}
	}
	if val := os.Getenv("TIERQ_AUTOSCALING"); val != "" {
		c.Scheduler.Autoscaling = parseBool(val)
	}
	if val := os.Getenv("TIERQ_METRICS_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Metrics.Port = n
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Cache.FastCapacityMB <= 0 {
		return fmt.Errorf("fast_tier_capacity_mb must be greater than 0")
	}
	if c.Cache.CapacityTierMB <= 0 {
		return fmt.Errorf("capacity_tier_capacity_mb must be greater than 0")
	}
	if c.Cache.Directory == "" {
		return fmt.Errorf("cache directory must be set")
	}
	if c.Scheduler.MinWorkers <= 0 {
		return fmt.Errorf("min_workers must be greater than 0")
	}
	if c.Scheduler.MaxWorkers < c.Scheduler.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be at least min_workers (%d)",
			c.Scheduler.MaxWorkers, c.Scheduler.MinWorkers)
	}
	if c.Scheduler.MaxQueueDepth <= 0 {
		return fmt.Errorf("max_queue_depth must be greater than 0")
	}
	if c.Scheduler.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be greater than 0")
	}
	if c.Resources.HighMemThresholdPct <= 0 || c.Resources.HighMemThresholdPct > 100 {
		return fmt.Errorf("high_mem_threshold_pct must be in (0, 100]")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	level := strings.ToLower(c.LogLevel)
	ok := false
	for _, l := range validLevels {
		if level == l {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.LogLevel, strings.Join(validLevels, ", "))
	}

	return nil
}

// FastCapacityBytes returns the fast tier budget in bytes.
func (c *CacheConfig) FastCapacityBytes() int64 {
	return c.FastCapacityMB * 1024 * 1024
}

// CapacityTierBytes returns the capacity tier budget in bytes.
func (c *CacheConfig) CapacityTierBytes() int64 {
	return c.CapacityTierMB * 1024 * 1024
}

func parseBool(val string) bool {
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
