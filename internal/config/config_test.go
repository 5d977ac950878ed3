package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefault tests the built-in configuration values
func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Cache.FastCapacityMB != 512 {
		t.Errorf("expected fast tier 512MB, got %d", cfg.Cache.FastCapacityMB)
	}
	if cfg.Cache.CapacityTierMB != 2048 {
		t.Errorf("expected capacity tier 2048MB, got %d", cfg.Cache.CapacityTierMB)
	}
	if cfg.Scheduler.MinWorkers != 4 || cfg.Scheduler.MaxWorkers != 20 {
		t.Errorf("expected workers 4..20, got %d..%d",
			cfg.Scheduler.MinWorkers, cfg.Scheduler.MaxWorkers)
	}
	if cfg.Scheduler.TaskTimeout != 5*time.Minute {
		t.Errorf("expected task timeout 5m, got %v", cfg.Scheduler.TaskTimeout)
	}
	if cfg.Scheduler.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Scheduler.MaxRetries)
	}
	if cfg.Scheduler.MaxQueueDepth != 1000 {
		t.Errorf("expected queue depth 1000, got %d", cfg.Scheduler.MaxQueueDepth)
	}
	if cfg.Resources.HighCPUThresholdPct != 80.0 || cfg.Resources.HighMemThresholdPct != 85.0 {
		t.Errorf("expected thresholds 80/85, got %.0f/%.0f",
			cfg.Resources.HighCPUThresholdPct, cfg.Resources.HighMemThresholdPct)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

// TestLoad tests YAML parsing layered over defaults
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tierq.yaml")
	content := []byte(`
log_level: debug
cache:
  fast_tier_capacity_mb: 64
  compression_enabled: false
scheduler:
  min_workers: 2
  max_workers: 8
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log_level debug, got %s", cfg.LogLevel)
	}
	if cfg.Cache.FastCapacityMB != 64 {
		t.Errorf("expected overridden fast tier 64MB, got %d", cfg.Cache.FastCapacityMB)
	}
	if cfg.Cache.CompressionEnabled {
		t.Error("expected compression disabled")
	}
	if cfg.Scheduler.MinWorkers != 2 || cfg.Scheduler.MaxWorkers != 8 {
		t.Errorf("expected workers 2..8, got %d..%d",
			cfg.Scheduler.MinWorkers, cfg.Scheduler.MaxWorkers)
	}
	// Untouched fields keep their defaults.
	if cfg.Cache.CapacityTierMB != 2048 {
		t.Errorf("expected default capacity tier, got %d", cfg.Cache.CapacityTierMB)
	}
}

// TestLoad_MissingFile tests the error path for an absent config file
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/tierq.yaml"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

// TestEnvOverrides tests environment variables taking precedence
func TestEnvOverrides(t *testing.T) {
	t.Setenv("TIERQ_LOG_LEVEL", "warn")
	t.Setenv("TIERQ_FAST_CAPACITY_MB", "128")
	t.Setenv("TIERQ_MAX_WORKERS", "32")
	t.Setenv("TIERQ_COMPRESSION", "off")
	t.Setenv("TIERQ_TASK_TIMEOUT", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("expected log_level warn, got %s", cfg.LogLevel)
	}
	if cfg.Cache.FastCapacityMB != 128 {
		t.Errorf("expected fast tier 128MB, got %d", cfg.Cache.FastCapacityMB)
	}
	if cfg.Scheduler.MaxWorkers != 32 {
		t.Errorf("expected max workers 32, got %d", cfg.Scheduler.MaxWorkers)
	}
	if cfg.Cache.CompressionEnabled {
		t.Error("expected compression off via env")
	}
	if cfg.Scheduler.TaskTimeout != 90*time.Second {
		t.Errorf("expected task timeout 90s, got %v", cfg.Scheduler.TaskTimeout)
	}
}

// TestValidate tests rejection of inconsistent configurations
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero fast capacity", func(c *Config) { c.Cache.FastCapacityMB = 0 }},
		{"empty cache dir", func(c *Config) { c.Cache.Directory = "" }},
		{"zero min workers", func(c *Config) { c.Scheduler.MinWorkers = 0 }},
		{"max below min", func(c *Config) { c.Scheduler.MaxWorkers = 1; c.Scheduler.MinWorkers = 4 }},
		{"zero queue depth", func(c *Config) { c.Scheduler.MaxQueueDepth = 0 }},
		{"zero task timeout", func(c *Config) { c.Scheduler.TaskTimeout = 0 }},
		{"mem threshold over 100", func(c *Config) { c.Resources.HighMemThresholdPct = 150 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

// TestCapacityBytes tests megabyte-to-byte conversion helpers
func TestCapacityBytes(t *testing.T) {
	cfg := Default()
	cfg.Cache.FastCapacityMB = 2

	if got := cfg.Cache.FastCapacityBytes(); got != 2*1024*1024 {
		t.Errorf("FastCapacityBytes() = %d, want %d", got, 2*1024*1024)
	}
}
