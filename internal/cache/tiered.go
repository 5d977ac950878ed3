package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tierq/tierq/internal/compress"
	"github.com/tierq/tierq/internal/monitor"
	"github.com/tierq/tierq/pkg/types"
)

// Placement thresholds relative to the fast tier's capacity.
const (
	directPlacementRatio = 0.10 // values at or below go straight to the fast tier
	promotionSizeRatio   = 0.05 // promotion candidates must be at or below
	promotionMinFreq     = 3
	shedFraction         = 0.25
)

// keyStripes sizes the lock table serializing same-key cross-tier moves.
const keyStripes = 64

// Recorder receives cache events for metrics export. Implementations must
// be safe for concurrent use.
type Recorder interface {
	CacheHit(tier string)
	CacheMiss()
	CacheBytes(tier string, bytes int64)
}

// Options configures a TieredCache.
type Options struct {
	Directory       string
	FastCapacity    int64
	TierCapacity    int64
	Compression     bool
	AutoEviction    bool
	MonitorInterval time.Duration
	Monitor         *monitor.Monitor
	Recorder        Recorder
	Logger          *log.Logger
}

// TieredCache orchestrates placement, promotion, compression and shedding
// across the fast and capacity tiers. A key resides in at most one tier at
// any time.
type TieredCache struct {
	fast       *FastTier
	capacity   *CapacityTier
	compressor *compress.Compressor
	monitor    *monitor.Monitor
	recorder   Recorder
	logger     *log.Logger

	compression bool

	// Placement, promotion and flush each touch both tiers; the per-key
	// stripe lock keeps those two-step moves from interleaving, so a key
	// is never observable in both tiers at once.
	keyLocks [keyStripes]sync.Mutex

	statsMu      sync.Mutex
	hitsFast     uint64
	hitsCapacity uint64
	misses       uint64
	accessCount  uint64
	avgAccess    time.Duration
	lastRSS      uint64

	stopCh  chan struct{}
	stopped sync.Once
}

// NewTieredCache builds the cache and, when auto-eviction is enabled,
// starts the background pressure monitor.
func NewTieredCache(opts Options) (*TieredCache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("component", "cache")

	capTier, err := NewCapacityTier(opts.Directory, opts.TierCapacity, opts.Logger)
	if err != nil {
		return nil, err
	}

	c := &TieredCache{
		fast:        NewFastTier(opts.FastCapacity),
		capacity:    capTier,
		compressor:  compress.New(opts.Logger),
		monitor:     opts.Monitor,
		recorder:    opts.Recorder,
		logger:      logger,
		compression: opts.Compression,
		stopCh:      make(chan struct{}),
	}

	if opts.AutoEviction && opts.Monitor != nil {
		interval := opts.MonitorInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		go c.maintenanceLoop(interval)
	}

	return c, nil
}

// Put stores a value under key. Values small relative to the fast tier go
// there directly; larger values land in the capacity tier, compressed when
// that is enabled and actually shrinks the payload. Storage failures are
// logged and reported as an unsuccessful put, never an error.
func (c *TieredCache) Put(key string, value []byte, kind types.DataKind, computeCost float64, priority int) bool {
	now := time.Now()
	meta := Metadata{
		Key:         key,
		Size:        int64(len(value)),
		Kind:        kind,
		CreatedAt:   now,
		AccessedAt:  now,
		Frequency:   1,
		Checksum:    checksum(value),
		ComputeCost: computeCost,
		Priority:    priority,
	}

	mu := c.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	if meta.Size <= int64(float64(c.fast.Capacity())*directPlacementRatio) {
		c.capacity.Remove(key) // a key lives in exactly one tier
		c.fast.Put(key, value, meta)
		c.recordBytes()
		return true
	}

	stored := value
	if c.compression {
		if compressed, ok := c.compressor.Compress(value, kind); ok {
			stored = compressed
			meta.Compressed = true
			meta.Size = int64(len(compressed))
			meta.Checksum = checksum(compressed)
		}
	}

	c.fast.Remove(key)
	if err := c.capacity.Put(key, stored, meta); err != nil {
		c.logger.Warn("capacity tier put failed", "key", key, "err", err)
		return false
	}
	c.recordBytes()
	return true
}

// Get looks up key, fast tier first. A capacity-tier hit decompresses when
// needed and promotes the entry to the fast tier once it is both small and
// hot. Internal failures degrade to a miss.
func (c *TieredCache) Get(key string) ([]byte, bool) {
	start := time.Now()

	if data, _, ok := c.fast.Get(key); ok {
		c.recordHit("fast", start)
		return data, true
	}

	// The stripe lock covers the capacity read through the promotion so a
	// concurrent Put of the same key cannot interleave with the move.
	mu := c.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	data, meta, ok := c.capacity.Get(key)
	if !ok {
		c.recordMiss(start)
		return nil, false
	}

	value := data
	if meta.Compressed {
		decompressed, err := c.compressor.Decompress(data)
		if err != nil {
			c.logger.Warn("decompression failed, dropping entry", "key", key, "err", err)
			c.capacity.Remove(key)
			c.recordMiss(start)
			return nil, false
		}
		value = decompressed
	}

	// Promotion gates on the stored footprint, so a large value that
	// compresses well can still earn a fast-tier slot once it runs hot.
	if meta.Size <= int64(float64(c.fast.Capacity())*promotionSizeRatio) &&
		meta.Frequency >= promotionMinFreq {
		c.promote(key, value, meta, int64(len(value)))
	}

	c.recordHit("capacity", start)
	return value, true
}

// Flush removes key from whichever tier holds it.
func (c *TieredCache) Flush(key string) {
	mu := c.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	removed := c.fast.Remove(key)
	if !removed {
		c.capacity.Remove(key)
	}
	c.recordBytes()
}

// Clear empties both tiers and resets statistics.
func (c *TieredCache) Clear() {
	c.fast.Clear()
	c.capacity.Clear()

	c.statsMu.Lock()
	c.hitsFast = 0
	c.hitsCapacity = 0
	c.misses = 0
	c.accessCount = 0
	c.avgAccess = 0
	c.statsMu.Unlock()
	c.recordBytes()
}

// Stats returns a snapshot of cache performance counters.
func (c *TieredCache) Stats() types.CacheStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	return types.CacheStats{
		FastHits:      c.hitsFast,
		CapacityHits:  c.hitsCapacity,
		Misses:        c.misses,
		Evictions:     c.fast.Evictions() + c.capacity.Evictions(),
		BytesStored:   c.fast.Size() + c.capacity.Size(),
		AvgAccessTime: c.avgAccess,
		ProcessRSS:    c.lastRSS,
		FastEntries:   c.fast.Len(),
		CapacityCount: c.capacity.Len(),
	}
}

// FastTier exposes the underlying fast tier.
func (c *TieredCache) FastTier() *FastTier { return c.fast }

// CapacityTier exposes the underlying capacity tier.
func (c *TieredCache) CapacityTier() *CapacityTier { return c.capacity }

// Close stops the background pressure monitor.
func (c *TieredCache) Close() {
	c.stopped.Do(func() { close(c.stopCh) })
}

// keyLock returns the stripe mutex for key.
func (c *TieredCache) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.keyLocks[h.Sum32()%keyStripes]
}

// promote moves a hot capacity-tier entry into the fast tier. An entry lives
// in exactly one tier, and the fast tier always holds the raw value. The
// caller holds the key's stripe lock.
func (c *TieredCache) promote(key string, value []byte, meta Metadata, rawSize int64) {
	c.capacity.Remove(key)

	meta.Size = rawSize
	meta.Compressed = false
	meta.Checksum = checksum(value)
	c.fast.Put(key, value, meta)

	c.logger.Debug("promoted entry to fast tier", "key", key, "size", rawSize, "freq", meta.Frequency)
	c.recordBytes()
}

// maintenanceLoop sheds a fixed fraction of the fast tier's oldest entries
// whenever host memory crosses the high-water mark.
func (c *TieredCache) maintenanceLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.monitor.ShouldShed() {
				evicted := c.fast.EvictFraction(shedFraction)
				if evicted > 0 {
					c.logger.Info("memory pressure shed", "evicted", evicted)
				}
			}

			sample := c.monitor.Sample()
			c.statsMu.Lock()
			c.lastRSS = sample.ProcessRSS
			c.statsMu.Unlock()
			c.recordBytes()
		}
	}
}

func (c *TieredCache) recordHit(tier string, start time.Time) {
	c.statsMu.Lock()
	if tier == "fast" {
		c.hitsFast++
	} else {
		c.hitsCapacity++
	}
	c.updateLatencyLocked(time.Since(start))
	c.statsMu.Unlock()

	if c.recorder != nil {
		c.recorder.CacheHit(tier)
	}
}

func (c *TieredCache) recordMiss(start time.Time) {
	c.statsMu.Lock()
	c.misses++
	c.updateLatencyLocked(time.Since(start))
	c.statsMu.Unlock()

	if c.recorder != nil {
		c.recorder.CacheMiss()
	}
}

// updateLatencyLocked maintains an incremental mean of access latency.
func (c *TieredCache) updateLatencyLocked(d time.Duration) {
	c.accessCount++
	n := int64(c.accessCount)
	c.avgAccess = time.Duration((int64(c.avgAccess)*(n-1) + int64(d)) / n)
}

func (c *TieredCache) recordBytes() {
	if c.recorder != nil {
		c.recorder.CacheBytes("fast", c.fast.Size())
		c.recorder.CacheBytes("capacity", c.capacity.Size())
	}
}
