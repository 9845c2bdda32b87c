// Package engine orchestrates the memtable, WAL, SSTs, and compaction
// into a single embeddable key-value store.
package engine

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/goerr"

	"github.com/rustedge/rustedge/internal/compaction"
	"github.com/rustedge/rustedge/internal/memtable"
	"github.com/rustedge/rustedge/internal/record"
	"github.com/rustedge/rustedge/internal/sstable"
	"github.com/rustedge/rustedge/internal/wal"
)

// ErrClosed is returned by any operation attempted after Close.
var ErrClosed = goerr.New("engine is closed")

// Config controls the durability and compaction behavior of an Engine.
type Config struct {
	// DataDir holds the WAL and SST files. Created if it doesn't exist.
	DataDir string

	// MemTableMaxBytes bounds the active memtable's estimated size
	// before it is flushed to a new SST. Zero or negative disables the
	// size trigger (flush only happens on ForceFlush/Close).
	MemTableMaxBytes int64

	// MaxSSTables is the full-live-set compaction trigger (§4.5): once
	// a flush leaves more than this many live SSTs, the engine merges
	// all of them into one. Zero or negative disables compaction.
	MaxSSTables int

	// Logger receives structured engine events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns sane defaults for dir: a 4 MiB memtable budget
// and compaction once more than 4 SSTs are live.
func DefaultConfig(dir string) Config {
	return Config{
		DataDir:          dir,
		MemTableMaxBytes: 4 << 20,
		MaxSSTables:      4,
	}
}

// Engine is an open LSM-tree store. Safe for concurrent use; Get takes
// only read locks, Put/Delete/flush are serialized against each other.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	// writeMu serializes the write path (sequence assignment, WAL
	// append, memtable apply, and any flush/compaction it triggers) so
	// the WAL and the global sequence counter stay in lockstep. Get
	// never takes it.
	writeMu sync.Mutex
	seq     uint64
	wal     *wal.WAL
	closed  bool

	// mtMu guards which *memtable.MemTable is current; the memtable's
	// own RWMutex guards its contents.
	mtMu sync.RWMutex
	mt   *memtable.MemTable

	// sstMu guards the live SST list, ordered oldest (front) to newest
	// (back) by creation.
	sstMu sync.RWMutex
	ssts  []*sstable.Reader
}

// Open prepares cfg.DataDir, replays any WAL files into a fresh
// memtable, opens every live SST in creation order, resumes the
// sequence counter after the highest sequence found in either, and
// starts a new current WAL ready to accept writes.
func Open(cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, goerr.Wrap(record.ErrInvalidInput, "engine config missing data dir")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mt := memtable.New(cfg.MemTableMaxBytes)
	lastSeq, err := wal.RecoverInto(cfg.DataDir, mt)
	if err != nil {
		return nil, err
	}

	sstPaths, err := sstable.ListFiles(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	ssts := make([]*sstable.Reader, 0, len(sstPaths))
	for _, path := range sstPaths {
		r, err := sstable.Open(path)
		if err != nil {
			for _, opened := range ssts {
				opened.Close()
			}
			return nil, err
		}
		ssts = append(ssts, r)

		// A flush deletes the WAL files it covered, so an SST can hold
		// sequences above anything replayed; resume the counter past them.
		entries, err := r.All()
		if err != nil {
			for _, opened := range ssts {
				opened.Close()
			}
			return nil, err
		}
		for _, entry := range entries {
			if entry.Sequence > lastSeq {
				lastSeq = entry.Sequence
			}
		}
	}

	current, err := wal.Create(cfg.DataDir, nowMillis())
	if err != nil {
		for _, opened := range ssts {
			opened.Close()
		}
		return nil, err
	}

	logger.Info("engine opened", "dir", cfg.DataDir, "recoveredSeq", lastSeq, "sstCount", len(ssts))
	return &Engine{
		cfg:    cfg,
		logger: logger,
		seq:    lastSeq,
		wal:    current,
		mt:     mt,
		ssts:   ssts,
	}, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Put durably records key=value: it is appended to the WAL before
// being applied to the memtable, and is visible to Get once this call
// returns nil. A full memtable triggers an inline flush (and, if
// configured, compaction) before Put returns.
func (e *Engine) Put(key, value []byte) error {
	if err := record.Validate(key, value); err != nil {
		return err
	}
	return e.write(record.Entry{
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Timestamp: uint64(nowMillis()),
	})
}

// Delete records a tombstone for key, shadowing any earlier value in
// the memtable or an older SST.
func (e *Engine) Delete(key []byte) error {
	if len(key) == 0 {
		return record.ErrEmptyKey
	}
	return e.write(record.Entry{
		Key:       append([]byte(nil), key...),
		Tombstone: true,
		Timestamp: uint64(nowMillis()),
	})
}

func (e *Engine) write(entry record.Entry) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.closed {
		return ErrClosed
	}

	e.seq++
	entry.Sequence = e.seq

	if err := e.wal.Append(entry); err != nil {
		e.seq--
		return err
	}

	e.mtMu.RLock()
	mt := e.mt
	e.mtMu.RUnlock()
	mt.Apply(entry)

	if mt.IsFull() {
		// The write itself already succeeded and is durable via the WAL
		// append above; a flush failure here is retried on the next
		// full memtable or ForceFlush, not surfaced as this Put's error.
		if err := e.flushLocked(); err != nil {
			e.logger.Warn("flush after full memtable failed", "error", err)
		}
	}
	return nil
}

// Get returns the value for key. found is false both when the key was
// never written and when its most recent write was a Delete.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	e.mtMu.RLock()
	mt := e.mt
	e.mtMu.RUnlock()

	if entry, ok := mt.Get(key); ok {
		if entry.Tombstone {
			return nil, false, nil
		}
		return entry.Value, true, nil
	}

	e.sstMu.RLock()
	ssts := make([]*sstable.Reader, len(e.ssts))
	copy(ssts, e.ssts)
	e.sstMu.RUnlock()

	for i := len(ssts) - 1; i >= 0; i-- {
		r := ssts[i]
		if !r.MayContain(key) {
			continue
		}
		entry, found, err := r.Get(key)
		if err != nil {
			return nil, false, err
		}
		if !found {
			continue
		}
		if entry.Tombstone {
			return nil, false, nil
		}
		return entry.Value, true, nil
	}
	return nil, false, nil
}

// ForceFlush flushes the current memtable to a new SST even if it
// isn't full, rotating the WAL and running compaction if that pushes
// the live SST count over the configured threshold. A no-op if the
// memtable is empty.
func (e *Engine) ForceFlush() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.flushLocked()
}

// flushLocked must be called with writeMu held.
func (e *Engine) flushLocked() error {
	e.mtMu.RLock()
	mt := e.mt
	e.mtMu.RUnlock()

	entries := mt.Entries()
	if len(entries) == 0 {
		return nil
	}

	millis := nowMillis()
	path := filepath.Join(e.cfg.DataDir, sstable.FileName(millis))
	if err := sstable.Build(path, entries); err != nil {
		return err
	}
	reader, err := sstable.Open(path)
	if err != nil {
		return err
	}

	e.sstMu.Lock()
	e.ssts = append(e.ssts, reader)
	e.sstMu.Unlock()

	e.mtMu.Lock()
	e.mt = memtable.New(e.cfg.MemTableMaxBytes)
	e.mtMu.Unlock()

	sealedPath := e.wal.Path()
	newWAL, err := wal.Rotate(e.wal, nowMillis())
	if err != nil {
		return err
	}
	e.wal = newWAL

	if err := wal.DeleteUpTo(e.cfg.DataDir, sealedPath); err != nil {
		e.logger.Warn("failed to delete sealed wal file", "error", err)
	}

	e.logger.Info("flushed memtable", "sst", path, "entries", len(entries))

	if e.cfg.MaxSSTables > 0 {
		e.sstMu.RLock()
		count := len(e.ssts)
		e.sstMu.RUnlock()
		if count > e.cfg.MaxSSTables {
			if err := e.compactLocked(); err != nil {
				e.logger.Warn("compaction failed", "error", err)
			}
		}
	}
	return nil
}

// ForceCompact merges every live SST into one immediately, regardless
// of MaxSSTables. A no-op if fewer than two SSTs are live.
func (e *Engine) ForceCompact() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.sstMu.RLock()
	count := len(e.ssts)
	e.sstMu.RUnlock()
	if count < 2 {
		return nil
	}
	return e.compactLocked()
}

// compactLocked merges every live SST into one, per the full-live-set
// policy (§4.5). Must be called with writeMu held.
//
// The old readers are neither closed nor unlinked from e.ssts until the
// new merged SST has been built and successfully reopened: compaction.Run
// only removes the input files after its own Build call succeeds, and an
// already-open *sstable.Reader keeps serving reads against an unlinked
// file's descriptor, so the engine stays fully consistent (and retryable)
// at every step along the way, including if compaction.Run or the
// subsequent Open fails.
func (e *Engine) compactLocked() error {
	e.sstMu.RLock()
	oldReaders := make([]*sstable.Reader, len(e.ssts))
	copy(oldReaders, e.ssts)
	paths := make([]string, len(oldReaders))
	for i, r := range oldReaders {
		paths[i] = r.Path()
	}
	e.sstMu.RUnlock()

	outPath := filepath.Join(e.cfg.DataDir, sstable.FileName(nowMillis()))
	if err := compaction.Run(paths, outPath); err != nil {
		if errors.Is(err, compaction.ErrCompactionEmpty) {
			e.logger.Info("compaction left no survivors", "inputs", len(paths))
			return nil
		}
		// The old readers are untouched; e.ssts still serves every key
		// exactly as before the attempt.
		return err
	}

	reader, err := sstable.Open(outPath)
	if err != nil {
		// Build succeeded but the result couldn't be reopened. The old
		// readers are still live (never closed), so reads keep working
		// off their already-open descriptors even though compaction.Run
		// has unlinked the underlying input files.
		return err
	}

	e.sstMu.Lock()
	e.ssts = []*sstable.Reader{reader}
	e.sstMu.Unlock()

	for _, r := range oldReaders {
		r.Close()
	}

	e.logger.Info("compacted sstables", "inputs", len(paths), "output", outPath)
	return nil
}

// Close flushes any unflushed writes and releases every open file
// handle. Subsequent calls return nil without doing anything.
func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.flushLocked(); err != nil {
		e.logger.Warn("flush during close failed", "error", err)
	}

	e.sstMu.Lock()
	for _, r := range e.ssts {
		r.Close()
	}
	e.sstMu.Unlock()

	return e.wal.Close()
}

// Stats reports a point-in-time snapshot of engine state, useful for
// the stats CLI subcommand and for tests.
type Stats struct {
	MemTableEntries int
	SSTableCount    int
	Sequence        uint64
}

// Stats returns a snapshot of the engine's current state.
func (e *Engine) Stats() Stats {
	e.mtMu.RLock()
	mt := e.mt
	e.mtMu.RUnlock()

	e.sstMu.RLock()
	sstCount := len(e.ssts)
	e.sstMu.RUnlock()

	e.writeMu.Lock()
	seq := e.seq
	e.writeMu.Unlock()

	return Stats{
		MemTableEntries: len(mt.Entries()),
		SSTableCount:    sstCount,
		Sequence:        seq,
	}
}
