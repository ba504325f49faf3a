package cache

import (
	"sync/atomic"

	"github.com/moeview/moeview/internal/logger"
	"github.com/moeview/moeview/pkg/booru"
)

// Config holds the tier budgets and disk-tier layout.
type Config struct {
	// MemoryBudget bounds the memory tier in bytes. 0 disables the bound.
	MemoryBudget uint64

	// DiskBudget bounds the disk tier in bytes. 0 disables the bound.
	DiskBudget uint64

	// DiskPath is the disk-tier directory. Empty disables the disk tier.
	DiskPath string

	// FreeSpaceFloor refuses disk inserts that would leave fewer than
	// this many bytes available on the cache filesystem.
	FreeSpaceFloor uint64

	// Compression stores disk objects zstd-compressed.
	Compression bool
}

// TieredCache is the two-level content cache.
//
// The cache exclusively owns payload memory and disk allocation. The fetch
// coordinator owns in-flight state and hands completed records to Put;
// nothing else mutates tier contents directly.
type TieredCache struct {
	memory  *memoryTier
	disk    *diskTier // nil when the disk tier is disabled
	metrics Metrics

	closed atomic.Bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	demotions atomic.Uint64
}

// New opens a tiered cache. The disk tier is restored from its on-disk
// index when present.
func New(cfg Config, metrics Metrics) (*TieredCache, error) {
	c := &TieredCache{
		memory:  newMemoryTier(cfg.MemoryBudget),
		metrics: metrics,
	}

	if cfg.DiskPath != "" {
		disk, err := newDiskTier(cfg.DiskPath, cfg.DiskBudget, cfg.FreeSpaceFloor, cfg.Compression)
		if err != nil {
			return nil, err
		}
		disk.onEvict = func(bytes uint64) {
			c.evictions.Add(1)
			if c.metrics != nil {
				c.metrics.RecordEviction(TierDisk, int64(bytes))
			}
		}
		c.disk = disk
	}

	return c, nil
}

// Get returns the cached record for an item, checking the memory tier
// first. A hit in either tier refreshes that tier's recency. Disk hits
// are not automatically promoted; callers decide via Promote.
func (c *TieredCache) Get(id booru.ItemID) (*Record, bool) {
	if c.closed.Load() {
		return nil, false
	}

	if rec, ok := c.memory.get(id); ok {
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.RecordHit(TierMemory)
		}
		return rec, true
	}

	if c.disk != nil {
		if rec, ok := c.disk.get(id); ok {
			c.hits.Add(1)
			if c.metrics != nil {
				c.metrics.RecordHit(TierDisk)
			}
			return rec, true
		}
	}

	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.RecordMiss()
	}
	return nil, false
}

// Put inserts or updates a record in the memory tier, evicting entries as
// needed to stay under budget. Complete evicted entries are demoted to the
// disk tier; partial ones are dropped.
func (c *TieredCache) Put(rec *Record, opts PutOptions) error {
	if c.closed.Load() {
		return ErrClosed
	}

	evicted := c.memory.put(rec, opts)
	c.handleEvicted(evicted)
	c.publishResidency()
	return nil
}

// handleEvicted demotes complete memory-tier victims to disk and drops
// the rest.
func (c *TieredCache) handleEvicted(evicted []*Record) {
	for _, victim := range evicted {
		c.evictions.Add(1)
		if c.metrics != nil {
			c.metrics.RecordEviction(TierMemory, int64(len(victim.Data)))
		}

		if c.disk == nil || !victim.Complete() {
			logger.Debug("memory cache dropped",
				logger.KeyItemID, int64(victim.ID),
				logger.KeyBytes, int64(len(victim.Data)))
			continue
		}

		if err := c.disk.put(victim, PutOptions{}); err != nil {
			logger.Warn("demotion to disk failed",
				logger.KeyItemID, int64(victim.ID),
				logger.KeyError, err)
			continue
		}

		c.demotions.Add(1)
		if c.metrics != nil {
			c.metrics.RecordDemotion(int64(len(victim.Data)))
		}
		logger.Debug("demoted to disk",
			logger.KeyItemID, int64(victim.ID),
			logger.KeyBytes, int64(len(victim.Data)))
	}
}

// Promote moves a complete disk-tier entry into the memory tier. The
// move is atomic from the caller's perspective: the record stays readable
// from one tier or the other throughout.
func (c *TieredCache) Promote(id booru.ItemID) bool {
	if c.closed.Load() || c.disk == nil {
		return false
	}
	if c.memory.contains(id) {
		return false
	}

	rec, ok := c.disk.get(id)
	if !ok || !rec.Complete() {
		return false
	}

	evicted := c.memory.put(rec, PutOptions{})
	c.disk.remove(id)
	c.handleEvicted(evicted)
	c.publishResidency()
	return true
}

// Invalidate removes an item from all tiers.
func (c *TieredCache) Invalidate(id booru.ItemID) {
	if c.closed.Load() {
		return
	}
	c.memory.remove(id)
	if c.disk != nil {
		c.disk.remove(id)
	}
	c.publishResidency()
}

// Contains reports which tier holds the item without refreshing recency.
func (c *TieredCache) Contains(id booru.ItemID) Tier {
	if c.closed.Load() {
		return TierNone
	}
	if c.memory.contains(id) {
		return TierMemory
	}
	if c.disk != nil && c.disk.contains(id) {
		return TierDisk
	}
	return TierNone
}

// IsComplete reports whether the item is cached with all of its bytes,
// without refreshing recency.
func (c *TieredCache) IsComplete(id booru.ItemID) bool {
	if c.closed.Load() {
		return false
	}
	if rec, ok := c.memory.peek(id); ok {
		return rec.Complete()
	}
	if c.disk != nil {
		return c.disk.isComplete(id)
	}
	return false
}

// Pin marks a memory-tier entry as being written by an in-flight fetch,
// excluding it from eviction.
func (c *TieredCache) Pin(id booru.ItemID) {
	if c.closed.Load() {
		return
	}
	c.memory.setPinned(id, true)
}

// Unpin releases a pin and re-runs eviction, since the pinned entry may
// have been holding the memory tier over budget.
func (c *TieredCache) Unpin(id booru.ItemID) {
	if c.closed.Load() {
		return
	}
	evicted := c.memory.setPinned(id, false)
	c.handleEvicted(evicted)
	c.publishResidency()
}

// Occupancy reports per-tier identifiers and byte usage, most recently
// used first.
func (c *TieredCache) Occupancy() Occupancy {
	occ := Occupancy{
		Memory: c.memory.occupancy(),
		Disk:   TierOccupancy{Tier: TierDisk},
	}
	if c.disk != nil {
		occ.Disk = c.disk.occupancy()
	}
	return occ
}

// Stats returns current cache counters.
func (c *TieredCache) Stats() Stats {
	s := Stats{
		MemoryBytes:  c.memory.usedBytes(),
		MemoryBudget: c.memory.budget,
		MemoryItems:  c.memory.count(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Evictions:    c.evictions.Load(),
		Demotions:    c.demotions.Load(),
	}
	if c.disk != nil {
		s.DiskBytes = c.disk.usedBytes()
		s.DiskBudget = c.disk.budget
		s.DiskItems = c.disk.count()
	}
	return s
}

func (c *TieredCache) publishResidency() {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordResidentBytes(TierMemory, int64(c.memory.usedBytes()))
	if c.disk != nil {
		c.metrics.RecordResidentBytes(TierDisk, int64(c.disk.usedBytes()))
	}
}

// Close flushes the disk index and releases resources. Further operations
// return ErrClosed or miss.
func (c *TieredCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.disk != nil {
		return c.disk.close()
	}
	return nil
}
