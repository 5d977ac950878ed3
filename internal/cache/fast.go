package cache

import (
	"container/list"
	"sync"
	"time"
)

// FastTier is the bounded in-memory tier with strict least-recently-used
// eviction. The eviction list holds keys front-to-back from most to least
// recently touched.
type FastTier struct {
	mu          sync.Mutex
	capacity    int64
	currentSize int64
	items       map[string]*entry
	evictList   *list.List
	evictions   uint64
}

// NewFastTier creates a fast tier with the given byte budget.
func NewFastTier(capacity int64) *FastTier {
	return &FastTier{
		capacity:  capacity,
		items:     make(map[string]*entry),
		evictList: list.New(),
	}
}

// Get returns the value and metadata for key, updating recency and
// frequency on a hit.
func (t *FastTier) Get(key string) ([]byte, Metadata, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.items[key]
	if !ok {
		return nil, Metadata{}, false
	}

	e.meta.AccessedAt = time.Now()
	e.meta.Frequency++
	t.evictList.MoveToFront(e.elem)

	return e.data, e.meta, true
}

// Put inserts or replaces key, evicting the single oldest entry repeatedly
// until the new entry fits within the byte budget or the tier is empty.
func (t *FastTier) Put(key string, data []byte, meta Metadata) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.items[key]; ok {
		t.currentSize -= existing.meta.Size
		t.evictList.Remove(existing.elem)
		delete(t.items, key)
	}

	for t.currentSize+meta.Size > t.capacity && t.evictList.Len() > 0 {
		t.evictOldestLocked()
	}

	e := &entry{meta: meta, data: data}
	e.elem = t.evictList.PushFront(key)
	t.items[key] = e
	t.currentSize += meta.Size
}

// Remove deletes key without counting an eviction. Used for flushes and
// tier moves.
func (t *FastTier) Remove(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.items[key]
	if !ok {
		return false
	}
	t.evictList.Remove(e.elem)
	delete(t.items, key)
	t.currentSize -= e.meta.Size
	return true
}

// Contains reports key residency without touching recency.
func (t *FastTier) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.items[key]
	return ok
}

// EvictOldest removes the least-recently-used entry, returning its key.
func (t *FastTier) EvictOldest() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictOldestLocked()
}

// EvictFraction evicts the given fraction of resident entries, oldest
// first, regardless of size pressure. Returns the number evicted.
func (t *FastTier) EvictFraction(fraction float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := int(float64(len(t.items)) * fraction)
	evicted := 0
	for i := 0; i < n; i++ {
		if _, ok := t.evictOldestLocked(); !ok {
			break
		}
		evicted++
	}
	return evicted
}

// Clear drops every entry without counting evictions.
func (t *FastTier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[string]*entry)
	t.evictList.Init()
	t.currentSize = 0
}

// Size returns the resident byte total.
func (t *FastTier) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSize
}

// Capacity returns the byte budget.
func (t *FastTier) Capacity() int64 { return t.capacity }

// Len returns the resident entry count.
func (t *FastTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Evictions returns the cumulative pressure-eviction count.
func (t *FastTier) Evictions() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictions
}

func (t *FastTier) evictOldestLocked() (string, bool) {
	back := t.evictList.Back()
	if back == nil {
		return "", false
	}

	key := back.Value.(string)
	e := t.items[key]
	t.evictList.Remove(back)
	delete(t.items, key)
	if e != nil {
		t.currentSize -= e.meta.Size
	}
	t.evictions++
	return key, true
}
