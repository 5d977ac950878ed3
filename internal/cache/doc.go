// Package cache implements the adaptive multi-tier cache: a bounded
// in-memory fast tier with strict LRU eviction, a disk-backed capacity tier
// with a persisted metadata index and least-recently-accessed eviction, and
// the orchestration layer that places, promotes and sheds entries between
// them.
package cache
