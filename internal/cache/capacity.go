package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tierq/tierq/pkg/errors"
)

const indexFileName = "index.json"

// CapacityTier is the disk-backed tier: one blob file per key under the
// cache root plus a JSON sidecar index rewritten on every mutating
// operation. Eviction removes the least-recently-accessed entry until the
// incoming entry fits.
type CapacityTier struct {
	mu          sync.Mutex
	directory   string
	capacity    int64
	currentSize int64
	index       map[string]*Metadata
	evictions   uint64
	logger      *log.Logger
}

// NewCapacityTier creates the tier rooted at directory, loading any index
// left by a previous run. Entries whose blob file has gone missing are
// dropped from the index.
func NewCapacityTier(directory string, capacity int64, logger *log.Logger) (*CapacityTier, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(directory, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	t := &CapacityTier{
		directory: directory,
		capacity:  capacity,
		index:     make(map[string]*Metadata),
		logger:    logger.With("component", "cache", "tier", "capacity"),
	}

	if err := t.loadIndex(); err != nil {
		// A corrupt index means starting cold, not failing startup.
		t.logger.Warn("could not load cache index, starting empty", "err", err)
		t.index = make(map[string]*Metadata)
		t.currentSize = 0
	}

	return t, nil
}

// Get reads the blob for key, verifies its checksum, and updates the
// on-disk access metadata. Read or integrity failures drop the entry and
// report a miss.
func (t *CapacityTier) Get(key string) ([]byte, Metadata, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	meta, ok := t.index[key]
	if !ok {
		return nil, Metadata{}, false
	}

	data, err := os.ReadFile(t.blobPath(key))
	if err != nil {
		t.logger.Warn("blob read failed, dropping entry", "key", key, "err", err)
		t.dropLocked(key)
		return nil, Metadata{}, false
	}

	if sum := checksum(data); sum != meta.Checksum {
		t.logger.Warn("checksum mismatch, dropping entry", "key", key)
		t.dropLocked(key)
		return nil, Metadata{}, false
	}

	meta.AccessedAt = time.Now()
	meta.Frequency++
	t.saveIndexLocked()

	return data, *meta, true
}

// Put writes the blob and index entry for key, evicting least-recently-
// accessed entries until the new entry fits within the byte budget.
func (t *CapacityTier) Put(key string, data []byte, meta Metadata) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.index[key]; ok {
		t.currentSize -= old.Size
		delete(t.index, key)
	}

	for t.currentSize+meta.Size > t.capacity && len(t.index) > 0 {
		t.evictOldestLocked()
	}

	if err := os.WriteFile(t.blobPath(key), data, 0o600); err != nil {
		t.saveIndexLocked()
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "blob write failed").
			WithComponent("cache").WithContext("key", key)
	}

	m := meta
	t.index[key] = &m
	t.currentSize += meta.Size
	t.saveIndexLocked()

	return nil
}

// Remove deletes key and its blob without counting an eviction.
func (t *CapacityTier) Remove(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.index[key]; !ok {
		return false
	}
	t.dropLocked(key)
	t.saveIndexLocked()
	return true
}

// Contains reports key residency without touching access metadata.
func (t *CapacityTier) Contains(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[key]
	return ok
}

// Clear removes every blob and resets the index.
func (t *CapacityTier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.index {
		_ = os.Remove(t.blobPath(key))
	}
	t.index = make(map[string]*Metadata)
	t.currentSize = 0
	t.saveIndexLocked()
}

// Size returns the resident byte total.
func (t *CapacityTier) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSize
}

// Capacity returns the byte budget.
func (t *CapacityTier) Capacity() int64 { return t.capacity }

// Len returns the resident entry count.
func (t *CapacityTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.index)
}

// Evictions returns the cumulative pressure-eviction count.
func (t *CapacityTier) Evictions() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictions
}

func (t *CapacityTier) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time

	first := true
	for key, meta := range t.index {
		if first || meta.AccessedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = meta.AccessedAt
			first = false
		}
	}

	if oldestKey != "" {
		t.dropLocked(oldestKey)
		t.evictions++
	}
}

func (t *CapacityTier) dropLocked(key string) {
	meta, ok := t.index[key]
	if !ok {
		return
	}
	_ = os.Remove(t.blobPath(key))
	delete(t.index, key)
	t.currentSize -= meta.Size
}

// blobPath hashes the key so arbitrary cache keys map to safe file names.
func (t *CapacityTier) blobPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(t.directory, fmt.Sprintf("%x.blob", sum[:8]))
}

func (t *CapacityTier) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(t.directory, indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var items map[string]*Metadata
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}

	t.currentSize = 0
	for key, meta := range items {
		if _, err := os.Stat(t.blobPath(key)); os.IsNotExist(err) {
			continue
		}
		t.index[key] = meta
		t.currentSize += meta.Size
	}
	return nil
}

// saveIndexLocked rewrites the sidecar index atomically. Failures are
// logged and tolerated; the index is rebuilt lazily from what loads next
// run.
func (t *CapacityTier) saveIndexLocked() {
	indexPath := filepath.Join(t.directory, indexFileName)
	tmpPath := indexPath + ".tmp"

	data, err := json.Marshal(t.index)
	if err != nil {
		t.logger.Warn("index encode failed", "err", err)
		return
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		t.logger.Warn("index write failed", "err", err)
		return
	}
	if err := os.Rename(tmpPath, indexPath); err != nil {
		t.logger.Warn("index rename failed", "err", err)
		_ = os.Remove(tmpPath)
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
