// Package memtable holds the mutable, in-memory buffer of recent writes.
// It is backed by a skip list so both point lookups and the sorted scan
// a flush needs are cheap.
package memtable

import (
	"sync"
	"time"

	"github.com/rustedge/rustedge/internal/record"
)

// MemTable is the active write buffer for an engine. A single RWMutex
// guards both the skip list and the size/sequence bookkeeping; writers
// take the write lock, readers (Get) take the read lock.
type MemTable struct {
	mu        sync.RWMutex
	list      *skipList
	size      int64
	maxBytes  int64
	nextSeq   uint64
	createdAt time.Time
}

// New creates an empty MemTable that reports IsFull once its estimated
// size reaches maxBytes. maxBytes <= 0 disables the size trigger.
func New(maxBytes int64) *MemTable {
	return &MemTable{
		list:      newSkipList(),
		maxBytes:  maxBytes,
		nextSeq:   1,
		createdAt: time.Now(),
	}
}

// Put validates and inserts key/value, assigning the next internal
// sequence and timestamp. Replaces any existing entry for key in place.
func (mt *MemTable) Put(key, value []byte) error {
	if err := record.Validate(key, value); err != nil {
		return err
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	e := record.Entry{
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Timestamp: uint64(time.Now().UnixMilli()),
		Sequence:  mt.nextSeq,
	}
	mt.nextSeq++
	mt.applyLocked(e)
	return nil
}

// Delete inserts a tombstone for key, shadowing any earlier value for
// that key in this memtable and any older SST once flushed.
func (mt *MemTable) Delete(key []byte) error {
	if len(key) == 0 {
		return record.ErrEmptyKey
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	e := record.Entry{
		Key:       append([]byte(nil), key...),
		Tombstone: true,
		Timestamp: uint64(time.Now().UnixMilli()),
		Sequence:  mt.nextSeq,
	}
	mt.nextSeq++
	mt.applyLocked(e)
	return nil
}

// Apply installs an already-sequenced entry, as produced by the engine
// after a successful WAL append or replayed from a WAL during recovery.
// It advances the internal sequence counter so subsequent standalone
// Put/Delete calls stay strictly increasing.
func (mt *MemTable) Apply(e record.Entry) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.applyLocked(e)
}

func (mt *MemTable) applyLocked(e record.Entry) {
	prev, existed := mt.list.put(e)
	if existed {
		mt.size += entrySize(e) - entrySize(prev)
	} else {
		mt.size += entrySize(e)
	}
	if e.Sequence >= mt.nextSeq {
		mt.nextSeq = e.Sequence + 1
	}
}

func entrySize(e record.Entry) int64 {
	return int64(len(e.Key)+len(e.Value)) + 16
}

// Get returns the entry stored for key, tombstone or not. Callers must
// inspect Entry.Tombstone: a found tombstone still shadows older data in
// flushed SSTs and must not be treated as a miss by the engine.
func (mt *MemTable) Get(key []byte) (record.Entry, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	e, ok := mt.list.get(key)
	if !ok {
		return record.Entry{}, false
	}
	return e.Clone(), true
}

// IsFull reports whether the memtable has reached its configured size
// budget and should be flushed.
func (mt *MemTable) IsFull() bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.maxBytes > 0 && mt.size >= mt.maxBytes
}

// Size returns the current estimated size in bytes.
func (mt *MemTable) Size() int64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size
}

// Entries returns every entry, including tombstones, in ascending key
// order. Used by flush to build the next SST.
func (mt *MemTable) Entries() []record.Entry {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.list.entriesSorted()
}

// Clear discards all entries, resetting the memtable to empty. The
// sequence counter is preserved so sequences stay globally increasing.
func (mt *MemTable) Clear() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.list = newSkipList()
	mt.size = 0
}

// EstimateMemoryUsage reports the approximate heap footprint of the
// skip list, independent of the size-budget accounting used by IsFull.
func (mt *MemTable) EstimateMemoryUsage() int64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.list.estimateMemoryUsage()
}

// CreatedAt returns when this memtable was instantiated.
func (mt *MemTable) CreatedAt() time.Time {
	return mt.createdAt
}
