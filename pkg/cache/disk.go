package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"

	"github.com/moeview/moeview/internal/logger"
	"github.com/moeview/moeview/pkg/booru"
)

// diskIndexEntry is the JSON value stored in the badger index for one
// cached object.
type diskIndexEntry struct {
	StoredSize uint64    `json:"stored_size"`
	DataSize   int64     `json:"data_size"`
	TotalSize  int64     `json:"total_size"`
	Kind       uint8     `json:"kind"`
	LastAccess time.Time `json:"last_access"`
	Compressed bool      `json:"compressed"`
}

// diskEntry is the in-memory view of one disk-tier object.
type diskEntry struct {
	id         booru.ItemID
	storedSize uint64
	dataSize   int64
	totalSize  int64
	kind       booru.Kind
	lastAccess time.Time
	compressed bool
	elem       *list.Element
}

// diskTier is the slow tier: zstd-compressed payload files on disk with a
// badger index carrying size, kind and recency. The recency list is
// rebuilt from the index at open, so LRU order survives restarts.
type diskTier struct {
	mu        sync.Mutex
	dir       string
	budget    uint64
	freeFloor uint64
	compress  bool
	used      uint64

	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// onEvict is invoked after each budget eviction with the stored size.
	onEvict func(bytes uint64)

	entries map[booru.ItemID]*diskEntry
	lru     *list.List // front = most recently used
}

func newDiskTier(dir string, budget, freeFloor uint64, compress bool) (*diskTier, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dir, "index")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	d := &diskTier{
		dir:       dir,
		budget:    budget,
		freeFloor: freeFloor,
		compress:  compress,
		db:        db,
		encoder:   encoder,
		decoder:   decoder,
		entries:   make(map[booru.ItemID]*diskEntry),
		lru:       list.New(),
	}

	if err := d.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return d, nil
}

// loadIndex rebuilds the in-memory entry map and recency order from the
// badger index, dropping index entries whose object file is gone.
func (d *diskTier) loadIndex() error {
	var loaded []*diskEntry
	var stale []booru.ItemID

	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id, err := booru.ParseItemID(string(item.Key()))
			if err != nil {
				continue
			}

			var idx diskIndexEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &idx)
			}); err != nil {
				stale = append(stale, id)
				continue
			}

			if _, err := os.Stat(d.objectPath(id, idx.Compressed)); err != nil {
				stale = append(stale, id)
				continue
			}

			loaded = append(loaded, &diskEntry{
				id:         id,
				storedSize: idx.StoredSize,
				dataSize:   idx.DataSize,
				totalSize:  idx.TotalSize,
				kind:       booru.Kind(idx.Kind),
				lastAccess: idx.LastAccess,
				compressed: idx.Compressed,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load cache index: %w", err)
	}

	for _, id := range stale {
		_ = d.deleteIndexEntry(id)
	}

	// Most recent first so the LRU list can be rebuilt back to front.
	sort.Slice(loaded, func(i, j int) bool {
		return loaded[i].lastAccess.After(loaded[j].lastAccess)
	})

	for _, entry := range loaded {
		entry.elem = d.lru.PushBack(entry.id)
		d.entries[entry.id] = entry
		d.used += entry.storedSize
	}

	if len(loaded) > 0 {
		logger.Info("disk cache loaded",
			logger.KeyPath, d.dir,
			logger.KeyCount, len(loaded),
			logger.KeyResident, int64(d.used),
			logger.KeyBudget, int64(d.budget))
	}

	return nil
}

func (d *diskTier) objectPath(id booru.ItemID, compressed bool) string {
	ext := ".bin"
	if compressed {
		ext = ".zst"
	}
	return filepath.Join(d.dir, "objects", id.String()+ext)
}

// get reads an object back, refreshing its recency.
func (d *diskTier) get(id booru.ItemID) (*Record, bool) {
	d.mu.Lock()
	entry, ok := d.entries[id]
	if !ok {
		d.mu.Unlock()
		return nil, false
	}
	entry.lastAccess = time.Now()
	d.lru.MoveToFront(entry.elem)
	snapshot := *entry
	d.mu.Unlock()

	raw, err := os.ReadFile(d.objectPath(id, snapshot.compressed))
	if err != nil {
		logger.Warn("disk cache object unreadable",
			logger.KeyItemID, int64(id),
			logger.KeyError, err)
		d.remove(id)
		return nil, false
	}

	data := raw
	if snapshot.compressed {
		data, err = d.decoder.DecodeAll(raw, nil)
		if err != nil {
			logger.Warn("disk cache object corrupt",
				logger.KeyItemID, int64(id),
				logger.KeyError, err)
			d.remove(id)
			return nil, false
		}
	}

	d.writeIndexEntry(&snapshot)

	return &Record{
		ID:         id,
		Data:       data,
		TotalSize:  snapshot.totalSize,
		Kind:       snapshot.kind,
		Tier:       TierDisk,
		LastAccess: snapshot.lastAccess,
	}, true
}

// put stores an object, evicting older entries until the tier fits its
// budget. Inserts that would drop the filesystem below the free-space
// floor are refused with ErrInsufficientSpace.
func (d *diskTier) put(rec *Record, opts PutOptions) error {
	stored := rec.Data
	compressed := false
	if d.compress {
		stored = d.encoder.EncodeAll(rec.Data, nil)
		compressed = true
	}

	if err := d.checkFreeSpace(uint64(len(stored))); err != nil {
		return err
	}

	path := d.objectPath(rec.ID, compressed)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, stored, 0o644); err != nil {
		return fmt.Errorf("failed to write cache object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize cache object: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.entries[rec.ID]; ok {
		d.used -= old.storedSize
		if old.compressed != compressed {
			_ = os.Remove(d.objectPath(rec.ID, old.compressed))
		}
		d.lru.Remove(old.elem)
		delete(d.entries, rec.ID)
	}

	entry := &diskEntry{
		id:         rec.ID,
		storedSize: uint64(len(stored)),
		dataSize:   int64(len(rec.Data)),
		totalSize:  rec.TotalSize,
		kind:       rec.Kind,
		lastAccess: time.Now(),
		compressed: compressed,
	}
	if opts.LowRecency {
		entry.elem = d.lru.PushBack(rec.ID)
	} else {
		entry.elem = d.lru.PushFront(rec.ID)
	}
	d.entries[rec.ID] = entry
	d.used += entry.storedSize

	d.writeIndexEntry(entry)
	d.evictOverBudgetLocked()

	return nil
}

// evictOverBudgetLocked deletes least recently used objects until the tier
// fits its budget. Caller must hold d.mu.
func (d *diskTier) evictOverBudgetLocked() {
	if d.budget == 0 {
		return
	}
	evicted := 0
	for d.used > d.budget {
		elem := d.lru.Back()
		if elem == nil {
			break
		}
		id := elem.Value.(booru.ItemID)
		entry := d.entries[id]
		d.removeEntryLocked(entry)
		if d.onEvict != nil {
			d.onEvict(entry.storedSize)
		}
		evicted++
	}
	if evicted > 0 {
		logger.Debug("disk cache evicted",
			logger.KeyEvicted, evicted,
			logger.KeyResident, int64(d.used),
			logger.KeyBudget, int64(d.budget))
	}
}

// removeEntryLocked unlinks an entry and deletes its backing data.
// Caller must hold d.mu.
func (d *diskTier) removeEntryLocked(entry *diskEntry) {
	d.lru.Remove(entry.elem)
	delete(d.entries, entry.id)
	d.used -= entry.storedSize
	_ = os.Remove(d.objectPath(entry.id, entry.compressed))
	_ = d.deleteIndexEntry(entry.id)
}

// remove drops an object and its index entry.
func (d *diskTier) remove(id booru.ItemID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[id]
	if !ok {
		return false
	}
	d.removeEntryLocked(entry)
	return true
}

// writeIndexEntry persists an entry's metadata. Failures are logged, not
// surfaced: the index is rebuilt from surviving entries at next open.
func (d *diskTier) writeIndexEntry(entry *diskEntry) {
	idx := diskIndexEntry{
		StoredSize: entry.storedSize,
		DataSize:   entry.dataSize,
		TotalSize:  entry.totalSize,
		Kind:       uint8(entry.kind),
		LastAccess: entry.lastAccess,
		Compressed: entry.compressed,
	}
	val, err := json.Marshal(&idx)
	if err == nil {
		err = d.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(entry.id.String()), val)
		})
	}
	if err != nil {
		logger.Warn("failed to update cache index",
			logger.KeyItemID, int64(entry.id),
			logger.KeyError, err)
	}
}

func (d *diskTier) deleteIndexEntry(id booru.ItemID) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(id.String()))
	})
}

// checkFreeSpace refuses inserts that would drop available space on the
// cache filesystem below the configured floor.
func (d *diskTier) checkFreeSpace(needed uint64) error {
	if d.freeFloor == 0 {
		return nil
	}

	var st unix.Statfs_t
	if err := unix.Statfs(d.dir, &st); err != nil {
		// Can't measure; let the write proceed and fail on its own.
		return nil
	}

	avail := st.Bavail * uint64(st.Bsize)
	if avail < needed+d.freeFloor {
		return fmt.Errorf("%w: %d bytes available, %d needed plus %d floor",
			ErrInsufficientSpace, avail, needed, d.freeFloor)
	}
	return nil
}

// contains reports residency without refreshing recency.
func (d *diskTier) contains(id booru.ItemID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[id]
	return ok
}

// isComplete reports whether the stored object holds all of its bytes.
func (d *diskTier) isComplete(id booru.ItemID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[id]
	return ok && entry.totalSize > 0 && entry.dataSize == entry.totalSize
}

// occupancy returns resident identifiers ordered most recent first.
func (d *diskTier) occupancy() TierOccupancy {
	d.mu.Lock()
	defer d.mu.Unlock()

	occ := TierOccupancy{Tier: TierDisk, Bytes: d.used}
	for elem := d.lru.Front(); elem != nil; elem = elem.Next() {
		occ.Items = append(occ.Items, elem.Value.(booru.ItemID))
	}
	return occ
}

func (d *diskTier) usedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

func (d *diskTier) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *diskTier) close() error {
	d.encoder.Close()
	d.decoder.Close()
	return d.db.Close()
}
