package cache

import (
	"fmt"
	"os"
	"testing"
	"time"
)

const mb = 1024 * 1024

func diskMeta(key string, data []byte, accessedAt time.Time) Metadata {
	return Metadata{
		Key:        key,
		Size:       int64(len(data)),
		CreatedAt:  accessedAt,
		AccessedAt: accessedAt,
		Frequency:  1,
		Checksum:   checksum(data),
	}
}

// TestCapacityTier_PutGet tests round-tripping a blob through disk
func TestCapacityTier_PutGet(t *testing.T) {
	tier, err := NewCapacityTier(t.TempDir(), 10*mb, nil)
	if err != nil {
		t.Fatalf("NewCapacityTier failed: %v", err)
	}

	data := []byte("persisted payload")
	if err := tier.Put("obj", data, diskMeta("obj", data, time.Now())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, meta, ok := tier.Get("obj")
	if !ok {
		t.Fatal("Get returned false for existing key")
	}
	if string(got) != string(data) {
		t.Errorf("expected %q, got %q", string(data), string(got))
	}
	if meta.Frequency != 2 {
		t.Errorf("expected frequency 2 after one get, got %d", meta.Frequency)
	}
}

// TestCapacityTier_EvictionScenario tests that storing 11 one-megabyte
// entries in a 10MB tier evicts exactly the least-recently-accessed one
func TestCapacityTier_EvictionScenario(t *testing.T) {
	tier, err := NewCapacityTier(t.TempDir(), 10*mb, nil)
	if err != nil {
		t.Fatalf("NewCapacityTier failed: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	payload := make([]byte, mb)
	for i := 0; i < 11; i++ {
		key := fmt.Sprintf("entry-%d", i)
		// Strictly increasing access times make eviction order exact.
		meta := diskMeta(key, payload, base.Add(time.Duration(i)*time.Second))
		if err := tier.Put(key, payload, meta); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	if tier.Len() != 10 {
		t.Errorf("expected 10 resident entries, got %d", tier.Len())
	}
	if tier.Evictions() != 1 {
		t.Errorf("expected exactly 1 eviction, got %d", tier.Evictions())
	}
	if tier.Contains("entry-0") {
		t.Error("expected oldest entry-0 to be evicted")
	}
	if !tier.Contains("entry-10") {
		t.Error("newest entry-10 should be resident")
	}
	if tier.Size() > tier.Capacity() {
		t.Errorf("size %d exceeds capacity %d", tier.Size(), tier.Capacity())
	}
}

// TestCapacityTier_ChecksumMismatch tests that a corrupted blob is dropped
// and reported as a miss
func TestCapacityTier_ChecksumMismatch(t *testing.T) {
	tier, err := NewCapacityTier(t.TempDir(), 10*mb, nil)
	if err != nil {
		t.Fatalf("NewCapacityTier failed: %v", err)
	}

	data := []byte("important bytes")
	if err := tier.Put("obj", data, diskMeta("obj", data, time.Now())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := os.WriteFile(tier.blobPath("obj"), []byte("garbage"), 0o600); err != nil {
		t.Fatalf("corrupting blob: %v", err)
	}

	if _, _, ok := tier.Get("obj"); ok {
		t.Fatal("expected corrupted entry to miss")
	}
	if tier.Contains("obj") {
		t.Error("corrupted entry should be dropped from the index")
	}
}

// TestCapacityTier_IndexReload tests that entries survive a restart via
// the sidecar index
func TestCapacityTier_IndexReload(t *testing.T) {
	dir := t.TempDir()

	tier, err := NewCapacityTier(dir, 10*mb, nil)
	if err != nil {
		t.Fatalf("NewCapacityTier failed: %v", err)
	}
	for _, key := range []string{"a", "b"} {
		data := []byte("value-" + key)
		if err := tier.Put(key, data, diskMeta(key, data, time.Now())); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	reopened, err := NewCapacityTier(dir, 10*mb, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("expected 2 entries after reload, got %d", reopened.Len())
	}
	got, _, ok := reopened.Get("a")
	if !ok {
		t.Fatal("Get failed after reload")
	}
	if string(got) != "value-a" {
		t.Errorf("expected %q, got %q", "value-a", string(got))
	}
}

// TestCapacityTier_ReloadSkipsMissingBlobs tests that index entries whose
// blob file disappeared are not resurrected
func TestCapacityTier_ReloadSkipsMissingBlobs(t *testing.T) {
	dir := t.TempDir()

	tier, err := NewCapacityTier(dir, 10*mb, nil)
	if err != nil {
		t.Fatalf("NewCapacityTier failed: %v", err)
	}
	data := []byte("ephemeral")
	if err := tier.Put("gone", data, diskMeta("gone", data, time.Now())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := os.Remove(tier.blobPath("gone")); err != nil {
		t.Fatalf("removing blob: %v", err)
	}

	reopened, err := NewCapacityTier(dir, 10*mb, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Len() != 0 {
		t.Errorf("expected empty tier after blob loss, got %d entries", reopened.Len())
	}
}

// TestCapacityTier_CorruptIndexStartsCold tests that a mangled index file
// does not fail startup
func TestCapacityTier_CorruptIndexStartsCold(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(dir+"/"+indexFileName, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("writing corrupt index: %v", err)
	}

	tier, err := NewCapacityTier(dir, 10*mb, nil)
	if err != nil {
		t.Fatalf("expected cold start, got error: %v", err)
	}
	if tier.Len() != 0 {
		t.Errorf("expected empty tier, got %d entries", tier.Len())
	}
}
