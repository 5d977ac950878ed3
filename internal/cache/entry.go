package cache

import (
	"container/list"
	"time"

	"github.com/tierq/tierq/pkg/types"
)

// Metadata describes a cached value independent of which tier holds it.
type Metadata struct {
	Key         string         `json:"key"`
	Size        int64          `json:"size"`
	Kind        types.DataKind `json:"kind"`
	CreatedAt   time.Time      `json:"created_at"`
	AccessedAt  time.Time      `json:"accessed_at"`
	Frequency   int            `json:"frequency"`
	Compressed  bool           `json:"compressed"`
	Checksum    string         `json:"checksum"`
	ComputeCost float64        `json:"compute_cost"`
	Priority    int            `json:"priority"`
}

// entry is a fast-tier resident value plus its metadata and eviction-list
// position.
type entry struct {
	meta Metadata
	data []byte
	elem *list.Element
}
