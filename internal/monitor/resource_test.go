package monitor

import (
	"testing"
)

// TestMonitor_Sample tests that readings land in sane ranges on a live host
func TestMonitor_Sample(t *testing.T) {
	m := New(80, 85, nil)

	s := m.Sample()
	if s.SampledAt.IsZero() {
		t.Error("sample must be timestamped")
	}
	if s.MemoryPercent < 0 || s.MemoryPercent > 100 {
		t.Errorf("memory percent %.1f outside [0, 100]", s.MemoryPercent)
	}
	if s.CPUPercent < 0 || s.CPUPercent > 100 {
		t.Errorf("cpu percent %.1f outside [0, 100]", s.CPUPercent)
	}
	if s.ProcessRSS == 0 {
		t.Error("a running process must have a nonzero resident set")
	}
}

// TestMonitor_Thresholds tests threshold accessors
func TestMonitor_Thresholds(t *testing.T) {
	m := New(75, 90, nil)
	if m.HighCPU() != 75 {
		t.Errorf("HighCPU() = %.0f, want 75", m.HighCPU())
	}
	if m.HighMem() != 90 {
		t.Errorf("HighMem() = %.0f, want 90", m.HighMem())
	}
}

// TestMonitor_ShouldShed tests the shed signal against extreme thresholds
func TestMonitor_ShouldShed(t *testing.T) {
	// No host runs at 0% or above 100% memory, so these bound both sides.
	always := New(80, 0, nil)
	if !always.ShouldShed() {
		t.Error("a zero high-water mark must always shed")
	}

	never := New(80, 101, nil)
	if never.ShouldShed() {
		t.Error("an unreachable high-water mark must never shed")
	}
}
