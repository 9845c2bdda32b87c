// Package rustedge is a thin embeddable wrapper around the LSM-tree
// storage engine in internal/engine. Most callers only need this
// package; internal/* is the implementation.
package rustedge

import (
	"log/slog"

	"github.com/rustedge/rustedge/internal/engine"
)

// Options configures a DB. The zero value is not usable directly: Dir
// must be set. Everything else falls back to engine defaults.
type Options struct {
	// Dir holds the WAL and SST files. Created if it doesn't exist.
	Dir string

	// MemTableMaxBytes bounds the memtable before an automatic flush.
	// Zero uses engine.DefaultConfig's 4 MiB budget.
	MemTableMaxBytes int64

	// MaxSSTables triggers full-live-set compaction once exceeded.
	// Zero uses engine.DefaultConfig's default of 4.
	MaxSSTables int

	// Logger receives structured store events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) toConfig() engine.Config {
	cfg := engine.DefaultConfig(o.Dir)
	if o.MemTableMaxBytes != 0 {
		cfg.MemTableMaxBytes = o.MemTableMaxBytes
	}
	if o.MaxSSTables != 0 {
		cfg.MaxSSTables = o.MaxSSTables
	}
	if o.Logger != nil {
		cfg.Logger = o.Logger
	}
	return cfg
}

// DB is an open key-value store. Safe for concurrent use by multiple
// goroutines within one process; rustedge does not coordinate across
// processes.
type DB struct {
	eng *engine.Engine
}

// Open prepares opts.Dir and returns a DB ready for use, replaying any
// WAL records left from a prior run and opening every live SST.
func Open(opts Options) (*DB, error) {
	eng, err := engine.Open(opts.toConfig())
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng}, nil
}

// Put durably stores value under key, visible to Get once this call
// returns nil.
func (db *DB) Put(key, value []byte) error {
	return db.eng.Put(key, value)
}

// Delete removes key, shadowing any earlier value once this call
// returns nil.
func (db *DB) Delete(key []byte) error {
	return db.eng.Delete(key)
}

// Get returns the value stored for key. found is false if the key was
// never written, or was most recently deleted.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	return db.eng.Get(key)
}

// Flush forces the current memtable out to a new SST immediately,
// rather than waiting for it to fill up.
func (db *DB) Flush() error {
	return db.eng.ForceFlush()
}

// Compact merges every live SST into one immediately, regardless of
// the configured MaxSSTables threshold.
func (db *DB) Compact() error {
	return db.eng.ForceCompact()
}

// Stats reports a point-in-time snapshot of the store's internal state.
func (db *DB) Stats() engine.Stats {
	return db.eng.Stats()
}

// Close flushes any unflushed writes and releases every open file
// handle. Safe to call more than once.
func (db *DB) Close() error {
	return db.eng.Close()
}
