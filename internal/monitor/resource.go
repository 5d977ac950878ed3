// Package monitor samples host and process resource usage and exposes the
// shed-load signal the cache and scheduler act on.
package monitor

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/tierq/tierq/pkg/types"
)

// Monitor samples process and host memory pressure. Sampling failures
// degrade to zero readings and are logged once, so a broken proc interface
// never takes the engine down.
type Monitor struct {
	highCPU  float64
	highMem  float64
	logger   *log.Logger
	proc     *process.Process
	warnOnce sync.Once
}

// New creates a Monitor with the given high-water thresholds in percent.
func New(highCPUPct, highMemPct float64, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	m := &Monitor{
		highCPU: highCPUPct,
		highMem: highMemPct,
		logger:  logger.With("component", "monitor"),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		m.proc = p
	}
	return m
}

// Sample returns a point-in-time reading of host CPU, host memory and the
// process resident set.
func (m *Monitor) Sample() types.ResourceSample {
	s := types.ResourceSample{SampledAt: time.Now()}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
	} else {
		m.warnSampling(err)
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else if err != nil {
		m.warnSampling(err)
	}

	if m.proc != nil {
		if mi, err := m.proc.MemoryInfo(); err == nil {
			s.ProcessRSS = mi.RSS
		}
	}

	return s
}

// ShouldShed reports whether host memory utilization has crossed the
// high-water mark and resident cache data should be shed proactively.
func (m *Monitor) ShouldShed() bool {
	if vm, err := mem.VirtualMemory(); err == nil {
		return vm.UsedPercent >= m.highMem
	}
	return false
}

// HighCPU returns the configured CPU high-water mark in percent.
func (m *Monitor) HighCPU() float64 { return m.highCPU }

// HighMem returns the configured memory high-water mark in percent.
func (m *Monitor) HighMem() float64 { return m.highMem }

func (m *Monitor) warnSampling(err error) {
	m.warnOnce.Do(func() {
		m.logger.Warn("resource sampling unavailable", "err", err)
	})
}
