// Package cache implements the tiered content cache.
//
// The cache holds item payloads in a bounded fast tier (memory) and a larger
// bounded slow tier (disk), each with an independent byte budget and strict
// LRU eviction. Entries being written by an in-flight fetch are pinned and
// skipped by eviction. Memory evictions demote complete entries to the disk
// tier; partial entries are dropped since resumption is tracked by the fetch
// coordinator, not the cache. Disk evictions delete the backing data.
//
// Thread Safety:
// All tier mutations are serialized per tier. The cache is safe for
// concurrent use from UI callers and fetch workers.
package cache

import (
	"errors"
	"time"

	"github.com/moeview/moeview/pkg/booru"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrClosed is returned when operations are attempted on a closed cache.
	ErrClosed = errors.New("cache is closed")

	// ErrInsufficientSpace is returned by the disk tier when an insert
	// would drop the filesystem below the configured free-space floor.
	// Callers treat it as a refused insert, not a failure.
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// ============================================================================
// Tiers
// ============================================================================

// Tier identifies one level of the cache hierarchy.
type Tier uint8

const (
	TierNone Tier = iota
	TierMemory
	TierDisk
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	default:
		return "none"
	}
}

// ============================================================================
// Records
// ============================================================================

// Record is one cached content unit.
type Record struct {
	// ID identifies the item.
	ID booru.ItemID

	// Data is the payload, possibly partial while a fetch is in flight.
	Data []byte

	// TotalSize is the full content length as reported by the source,
	// or 0 if unknown.
	TotalSize int64

	// Kind classifies the content (image, video, other).
	Kind booru.Kind

	// Tier is the tier the record currently resides in.
	Tier Tier

	// LastAccess is the recency marker used for eviction ordering.
	LastAccess time.Time
}

// Complete reports whether the record holds all of its bytes.
func (r *Record) Complete() bool {
	return r.TotalSize > 0 && int64(len(r.Data)) == r.TotalSize
}

// PutOptions controls insert behavior.
type PutOptions struct {
	// Pinned marks the entry as being written by an in-flight fetch.
	// Pinned entries are skipped by eviction until unpinned.
	Pinned bool

	// LowRecency inserts the entry at the cold end of the LRU instead of
	// the hot end. Used for soft-cancelled prefetch results the user has
	// navigated away from.
	LowRecency bool
}

// ============================================================================
// Statistics
// ============================================================================

// Stats contains cache counters for observability.
type Stats struct {
	MemoryBytes  uint64 `json:"memory_bytes"`
	MemoryBudget uint64 `json:"memory_budget"`
	MemoryItems  int    `json:"memory_items"`
	DiskBytes    uint64 `json:"disk_bytes"`
	DiskBudget   uint64 `json:"disk_budget"`
	DiskItems    int    `json:"disk_items"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
	Demotions    uint64 `json:"demotions"`
}

// TierOccupancy reports the identifiers and byte usage of one tier.
type TierOccupancy struct {
	Tier  Tier           `json:"tier"`
	Items []booru.ItemID `json:"items"`
	Bytes uint64         `json:"bytes"`
}

// Occupancy reports per-tier contents, used by the session collaborator
// and the stats API. Identifiers are ordered most recently used first.
type Occupancy struct {
	Memory TierOccupancy `json:"memory"`
	Disk   TierOccupancy `json:"disk"`
}

// ============================================================================
// Metrics
// ============================================================================

// Metrics provides observability for cache operations.
//
// This is optional - if not provided, metrics collection is skipped.
type Metrics interface {
	// RecordHit records a cache hit in the given tier.
	RecordHit(tier Tier)

	// RecordMiss records a cache miss.
	RecordMiss()

	// RecordEviction records an entry evicted from a tier.
	RecordEviction(tier Tier, bytes int64)

	// RecordDemotion records an entry demoted from memory to disk.
	RecordDemotion(bytes int64)

	// RecordResidentBytes records the current resident bytes of a tier.
	RecordResidentBytes(tier Tier, bytes int64)
}
