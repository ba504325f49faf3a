package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/moeview/moeview/pkg/booru"
)

// memoryEntry is one resident item in the memory tier.
type memoryEntry struct {
	rec    *Record
	pinned bool
	elem   *list.Element
}

// memoryTier is the fast tier: payloads held in process memory under a
// byte budget with strict LRU eviction.
//
// All methods require m.mu unless noted. The tier never performs I/O, so
// holding the lock across operations is cheap.
type memoryTier struct {
	mu      sync.Mutex
	budget  uint64
	used    uint64
	entries map[booru.ItemID]*memoryEntry
	lru     *list.List // front = most recently used
}

func newMemoryTier(budget uint64) *memoryTier {
	return &memoryTier{
		budget:  budget,
		entries: make(map[booru.ItemID]*memoryEntry),
		lru:     list.New(),
	}
}

// get returns the record and refreshes its recency.
func (m *memoryTier) get(id booru.ItemID) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	entry.rec.LastAccess = time.Now()
	m.lru.MoveToFront(entry.elem)
	return entry.rec, true
}

// put inserts or updates a record and evicts until the tier is under
// budget. It returns the records removed to make room; the caller decides
// which of them are demoted to disk.
func (m *memoryTier) put(rec *Record, opts PutOptions) []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Tier = TierMemory
	rec.LastAccess = time.Now()

	if entry, ok := m.entries[rec.ID]; ok {
		m.used -= uint64(len(entry.rec.Data))
		m.used += uint64(len(rec.Data))
		entry.rec = rec
		entry.pinned = opts.Pinned
		if opts.LowRecency {
			m.lru.MoveToBack(entry.elem)
		} else {
			m.lru.MoveToFront(entry.elem)
		}
		return m.evictOverBudget()
	}

	entry := &memoryEntry{rec: rec, pinned: opts.Pinned}
	if opts.LowRecency {
		entry.elem = m.lru.PushBack(rec.ID)
	} else {
		entry.elem = m.lru.PushFront(rec.ID)
	}
	m.entries[rec.ID] = entry
	m.used += uint64(len(rec.Data))

	return m.evictOverBudget()
}

// evictOverBudget removes least recently used unpinned entries until the
// tier fits its budget. Caller must hold m.mu.
func (m *memoryTier) evictOverBudget() []*Record {
	if m.budget == 0 {
		return nil
	}

	var evicted []*Record
	elem := m.lru.Back()
	for m.used > m.budget && elem != nil {
		prev := elem.Prev()
		id := elem.Value.(booru.ItemID)
		entry := m.entries[id]
		if !entry.pinned {
			m.removeEntry(entry)
			evicted = append(evicted, entry.rec)
		}
		elem = prev
	}
	return evicted
}

// removeEntry unlinks an entry. Caller must hold m.mu.
func (m *memoryTier) removeEntry(entry *memoryEntry) {
	m.lru.Remove(entry.elem)
	delete(m.entries, entry.rec.ID)
	m.used -= uint64(len(entry.rec.Data))
	entry.rec.Tier = TierNone
}

// remove drops an entry regardless of pin state. Returns the record if
// it was resident.
func (m *memoryTier) remove(id booru.ItemID) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	m.removeEntry(entry)
	return entry.rec, true
}

// setPinned changes the pin state of a resident entry. Unpinning re-runs
// eviction since the entry may have been holding the tier over budget.
func (m *memoryTier) setPinned(id booru.ItemID, pinned bool) []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil
	}
	entry.pinned = pinned
	if pinned {
		return nil
	}
	return m.evictOverBudget()
}

// contains reports residency without refreshing recency.
func (m *memoryTier) contains(id booru.ItemID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

// peek returns the record without refreshing recency.
func (m *memoryTier) peek(id booru.ItemID) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return entry.rec, true
}

// occupancy returns resident identifiers ordered most recent first.
func (m *memoryTier) occupancy() TierOccupancy {
	m.mu.Lock()
	defer m.mu.Unlock()

	occ := TierOccupancy{Tier: TierMemory, Bytes: m.used}
	for elem := m.lru.Front(); elem != nil; elem = elem.Next() {
		occ.Items = append(occ.Items, elem.Value.(booru.ItemID))
	}
	return occ
}

func (m *memoryTier) usedBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *memoryTier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
