package cache

import (
	"bytes"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tierq/tierq/pkg/types"
)

func newTestCache(t *testing.T, compression bool) *TieredCache {
	t.Helper()
	c, err := NewTieredCache(Options{
		Directory:    t.TempDir(),
		FastCapacity: mb,
		TierCapacity: 20 * mb,
		Compression:  compression,
	})
	if err != nil {
		t.Fatalf("NewTieredCache failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// incompressible returns deterministic pseudo-random bytes that gzip cannot
// shrink.
func incompressible(n int) []byte {
	r := rand.New(rand.NewSource(42))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

// TestTieredCache_SmallValuesStayInMemory tests direct fast-tier placement
// for values small relative to the fast tier
func TestTieredCache_SmallValuesStayInMemory(t *testing.T) {
	c := newTestCache(t, true)

	value := []byte("small value")
	if !c.Put("small", value, types.KindText, 0, 1) {
		t.Fatal("Put failed")
	}

	if !c.FastTier().Contains("small") {
		t.Error("small value should live in the fast tier")
	}
	if c.CapacityTier().Contains("small") {
		t.Error("small value must not also live in the capacity tier")
	}

	got, ok := c.Get("small")
	if !ok || !bytes.Equal(got, value) {
		t.Errorf("round trip failed: ok=%v", ok)
	}
}

// TestTieredCache_LargeValuesGoToDisk tests capacity-tier placement for
// values above the direct-placement threshold
func TestTieredCache_LargeValuesGoToDisk(t *testing.T) {
	c := newTestCache(t, false)

	value := incompressible(200 * 1024) // 20% of the fast tier
	if !c.Put("large", value, types.KindBinary, 0, 1) {
		t.Fatal("Put failed")
	}

	if c.FastTier().Contains("large") {
		t.Error("large value must not live in the fast tier")
	}
	if !c.CapacityTier().Contains("large") {
		t.Error("large value should live in the capacity tier")
	}

	got, ok := c.Get("large")
	if !ok || !bytes.Equal(got, value) {
		t.Errorf("round trip failed: ok=%v", ok)
	}
}

// TestTieredCache_CompressedRoundTrip tests that a compressible payload
// stored on disk comes back byte-identical
func TestTieredCache_CompressedRoundTrip(t *testing.T) {
	c := newTestCache(t, true)

	value := bytes.Repeat([]byte("compress me "), 20*1024) // ~240KB of text
	if !c.Put("text", value, types.KindText, 0, 1) {
		t.Fatal("Put failed")
	}

	// Stored footprint on disk must be smaller than the raw payload.
	if stored := c.CapacityTier().Size(); stored >= int64(len(value)) {
		t.Errorf("expected compressed storage, disk holds %d bytes for %d raw", stored, len(value))
	}

	got, ok := c.Get("text")
	if !ok {
		t.Fatal("Get returned false")
	}
	if !bytes.Equal(got, value) {
		t.Error("decompressed value differs from original")
	}
}

// TestTieredCache_Promotion tests that a hot entry with a small stored
// footprint moves to the fast tier and leaves the capacity tier
func TestTieredCache_Promotion(t *testing.T) {
	c := newTestCache(t, true)

	// Raw size is above direct placement; compressed size is tiny.
	value := bytes.Repeat([]byte("a"), 200*1024)
	if !c.Put("hot", value, types.KindText, 0, 1) {
		t.Fatal("Put failed")
	}
	if !c.CapacityTier().Contains("hot") {
		t.Fatal("entry should start in the capacity tier")
	}

	// Frequency starts at 1; the second Get reaches the promotion
	// threshold of 3.
	for i := 0; i < 2; i++ {
		if _, ok := c.Get("hot"); !ok {
			t.Fatalf("Get %d returned false", i)
		}
	}

	if !c.FastTier().Contains("hot") {
		t.Error("hot entry should be promoted to the fast tier")
	}
	if c.CapacityTier().Contains("hot") {
		t.Error("promoted entry must leave the capacity tier")
	}

	got, ok := c.Get("hot")
	if !ok || !bytes.Equal(got, value) {
		t.Error("promoted entry lost its value")
	}
}

// TestTieredCache_NoPromotionForLargeStoredEntries tests that entries with
// a large stored footprint stay on disk however hot they get
func TestTieredCache_NoPromotionForLargeStoredEntries(t *testing.T) {
	c := newTestCache(t, true)

	value := incompressible(200 * 1024)
	if !c.Put("cold", value, types.KindBinary, 0, 1) {
		t.Fatal("Put failed")
	}

	for i := 0; i < 5; i++ {
		if _, ok := c.Get("cold"); !ok {
			t.Fatalf("Get %d returned false", i)
		}
	}

	if c.FastTier().Contains("cold") {
		t.Error("large stored entry must not be promoted")
	}
	if !c.CapacityTier().Contains("cold") {
		t.Error("entry should remain in the capacity tier")
	}
}

// TestTieredCache_PutReplacesAcrossTiers tests that rewriting a key under a
// different size moves it between tiers without duplication
func TestTieredCache_PutReplacesAcrossTiers(t *testing.T) {
	c := newTestCache(t, false)

	small := []byte("small")
	large := incompressible(200 * 1024)

	c.Put("key", small, types.KindText, 0, 1)
	c.Put("key", large, types.KindBinary, 0, 1)

	if c.FastTier().Contains("key") {
		t.Error("key should have moved out of the fast tier")
	}
	if !c.CapacityTier().Contains("key") {
		t.Error("key should now live in the capacity tier")
	}

	c.Put("key", small, types.KindText, 0, 1)
	if !c.FastTier().Contains("key") || c.CapacityTier().Contains("key") {
		t.Error("key should have moved back to the fast tier only")
	}
}

// TestTieredCache_ConcurrentPutsKeepTierExclusive tests that hammering one
// key with writes on both sides of the placement threshold never leaves it
// resident in both tiers, mid-flight or at rest
func TestTieredCache_ConcurrentPutsKeepTierExclusive(t *testing.T) {
	c := newTestCache(t, false)

	small := []byte("small")
	large := incompressible(200 * 1024)

	stop := make(chan struct{})
	var violations atomic.Int64
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if c.FastTier().Contains("key") && c.CapacityTier().Contains("key") {
				violations.Add(1)
			}
		}
	}()

	var writers sync.WaitGroup
	for i := 0; i < 8; i++ {
		value, kind := small, types.KindText
		if i%2 == 1 {
			value, kind = large, types.KindBinary
		}
		writers.Add(1)
		go func(value []byte, kind types.DataKind) {
			defer writers.Done()
			for j := 0; j < 75; j++ {
				c.Put("key", value, kind, 0, 1)
			}
		}(value, kind)
	}
	writers.Wait()
	close(stop)
	watcher.Wait()

	if n := violations.Load(); n != 0 {
		t.Errorf("key observed in both tiers %d times", n)
	}
	if c.FastTier().Contains("key") == c.CapacityTier().Contains("key") {
		t.Error("key should end resident in exactly one tier")
	}
}

// TestTieredCache_Stats tests hit, miss and byte accounting
func TestTieredCache_Stats(t *testing.T) {
	c := newTestCache(t, false)

	c.Put("mem", []byte("in memory"), types.KindText, 0, 1)
	c.Put("disk", incompressible(200*1024), types.KindBinary, 0, 1)

	c.Get("mem")
	c.Get("disk")
	c.Get("nope")

	stats := c.Stats()
	if stats.FastHits != 1 {
		t.Errorf("expected 1 fast hit, got %d", stats.FastHits)
	}
	if stats.CapacityHits != 1 {
		t.Errorf("expected 1 capacity hit, got %d", stats.CapacityHits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
	if stats.FastEntries != 1 || stats.CapacityCount != 1 {
		t.Errorf("expected one entry per tier, got fast=%d capacity=%d",
			stats.FastEntries, stats.CapacityCount)
	}
	if stats.BytesStored <= 0 {
		t.Errorf("expected positive bytes stored, got %d", stats.BytesStored)
	}
	if rate := stats.HitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("expected hit rate 2/3, got %.3f", rate)
	}

	c.Flush("mem")
	if c.FastTier().Contains("mem") {
		t.Error("flushed key should be gone")
	}

	c.Clear()
	stats = c.Stats()
	if stats.TotalHits() != 0 || stats.Misses != 0 || stats.BytesStored != 0 {
		t.Errorf("expected zeroed stats after Clear, got %+v", stats)
	}
}
