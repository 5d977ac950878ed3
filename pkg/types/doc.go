// Package types defines the shared value types of the tierq engine:
// cache data kinds and statistics, task priorities, states and affinities,
// worker metrics and system-wide metric snapshots.
package types
