// Package retry provides retry policies with exponential backoff for tierq
// task re-execution.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Config defines backoff behavior for retried tasks.
type Config struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which the delay grows per attempt.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds randomness to the delay to avoid thundering herds.
	Jitter bool `yaml:"jitter" json:"jitter"`
}

// DefaultConfig returns a sensible default backoff configuration.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Policy computes backoff delays for successive attempts.
type Policy struct {
	config Config
}

// New creates a Policy, applying defaults for zero values.
func New(config Config) *Policy {
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Policy{config: config}
}

// Delay returns the backoff before the given retry attempt. Attempt 1 is the
// first retry after the initial failure.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.config.InitialDelay) * math.Pow(p.config.Multiplier, float64(attempt-1))
	if delay > float64(p.config.MaxDelay) {
		delay = float64(p.config.MaxDelay)
	}

	if p.config.Jitter {
		// Up to 25% random spread, never below half the computed delay.
		delay = delay/2 + rand.Float64()*delay/2
	}

	return time.Duration(delay)
}
