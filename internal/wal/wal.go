// Package wal implements the append-only, crash-recoverable write-ahead
// log that every mutation is durably recorded to before it is applied
// to the memtable.
package wal

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr"

	"github.com/rustedge/rustedge/internal/memtable"
	"github.com/rustedge/rustedge/internal/record"
)

// headerSize is the fixed 24-byte record header: key_len, value_len,
// timestamp, sequence.
const headerSize = 24

// tombstoneMarker occupies value_len when the record is a deletion.
const tombstoneMarker = 0xFFFFFFFF

const (
	filePrefix = "wal_"
	fileSuffix = ".log"
)

var (
	// ErrCorrupt classifies a malformed WAL record. RecoverInto does not
	// return it: a malformed record is skipped by resynchronization, and
	// garbage that resync cannot get past ends recovery of that file
	// successfully.
	ErrCorrupt = goerr.New("wal record corrupt")
	// ErrIO classifies a filesystem failure during WAL access.
	ErrIO = goerr.New("wal io failure")
)

// WAL is the current, append-only log file accepting new records. Only
// one WAL is current at a time; append is synchronous to storage.
type WAL struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *bufio.Writer
}

// Create opens a brand new wal_<millis>.log file in dir and returns a
// WAL ready to accept appends.
func Create(dir string, millis int64) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(ErrIO, "create wal directory").With("dir", dir)
	}
	path := filepath.Join(dir, fileName(millis))
	f, err := os.Create(path)
	if err != nil {
		return nil, goerr.Wrap(ErrIO, "create wal file").With("path", path)
	}
	return &WAL{
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

func fileName(millis int64) string {
	return filePrefix + strconv.FormatInt(millis, 10) + fileSuffix
}

// Path returns the current WAL file's path.
func (w *WAL) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Append serializes e per the WAL record format, writes it through the
// buffered writer, flushes, and fsyncs. The record is durable once this
// call returns nil.
func (w *WAL) Append(e record.Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := serialize(e)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(data); err != nil {
		return goerr.Wrap(ErrIO, "write wal record").With("path", w.path)
	}
	if err := w.writer.Flush(); err != nil {
		return goerr.Wrap(ErrIO, "flush wal writer").With("path", w.path)
	}
	if err := w.file.Sync(); err != nil {
		return goerr.Wrap(ErrIO, "sync wal file").With("path", w.path)
	}
	return nil
}

// Close flushes and closes the current WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer != nil {
		w.writer.Flush()
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func serialize(e record.Entry) ([]byte, error) {
	if err := record.Validate(e.Key, e.Value); err != nil {
		return nil, err
	}
	valueLen := uint32(tombstoneMarker)
	var valuePayload []byte
	if !e.Tombstone {
		valueLen = uint32(len(e.Value))
		valuePayload = e.Value
	}

	buf := make([]byte, headerSize+len(e.Key)+len(valuePayload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(e.Key)))
	binary.LittleEndian.PutUint32(buf[4:8], valueLen)
	binary.LittleEndian.PutUint64(buf[8:16], e.Timestamp)
	binary.LittleEndian.PutUint64(buf[16:24], e.Sequence)
	copy(buf[headerSize:], e.Key)
	copy(buf[headerSize+len(e.Key):], valuePayload)
	return buf, nil
}

// Rotate opens a fresh wal_<millis>.log in the same directory and then
// closes w, returning the new WAL. Called by the engine after a
// successful memtable flush. Creating the replacement before closing w
// means a failure here leaves w still usable rather than stranding the
// engine with no current WAL.
func Rotate(w *WAL, millis int64) (*WAL, error) {
	dir := filepath.Dir(w.Path())
	next, err := Create(dir, millis)
	if err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return next, nil
}

// ListFiles returns every wal_*.log file in dir, in lexicographic
// (chronological) order.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(ErrIO, "list wal directory").With("dir", dir)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// DeleteUpTo removes every wal_*.log file in dir whose path sorts at or
// before sealedPath, lexicographically. Used by the engine to discard
// WAL files once their data is durable in a newly-built SST.
func DeleteUpTo(dir, sealedPath string) error {
	files, err := ListFiles(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f > sealedPath {
			continue
		}
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return goerr.Wrap(ErrIO, "remove obsolete wal file").With("path", f)
		}
	}
	return nil
}

// RecoverInto replays every wal_*.log file in dir, in chronological
// order, applying each record to mt. It returns the highest sequence
// number observed across all files (zero if none).
//
// A record whose declared lengths are out of bounds, or whose sequence
// doesn't strictly increase, is treated as corruption: recovery
// resynchronizes by scanning forward byte by byte for the next position
// holding a plausible header. A record that parses cleanly but whose
// body trails off before the file ends is a benign truncated write (the
// normal signature of a crash mid-append) and silently ends recovery
// for that file with the records read so far applied. When resync finds
// no plausible header before EOF, the rest of the file is treated as
// tail garbage and recovery of that file likewise ends successfully.
func RecoverInto(dir string, mt *memtable.MemTable) (uint64, error) {
	files, err := ListFiles(dir)
	if err != nil {
		return 0, err
	}
	var lastSeq uint64
	for _, path := range files {
		lastSeq, err = recoverFile(path, mt, lastSeq)
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func recoverFile(path string, mt *memtable.MemTable, lastSeq uint64) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lastSeq, goerr.Wrap(ErrIO, "read wal file").With("path", path)
	}

	pos := 0
	for pos < len(data) {
		rec, consumed, status := tryParseRecord(data[pos:], lastSeq)
		switch status {
		case recordOK:
			mt.Apply(rec)
			lastSeq = rec.Sequence
			pos += consumed
		case recordIncomplete:
			// A well-formed header (or none at all) with fewer bytes
			// behind it than it declares: the tail of a write that never
			// finished before a crash. Always the last thing in a WAL
			// file, so recovery ends here successfully.
			return lastSeq, nil
		case recordInvalid:
			next, found := resync(data, pos+1, lastSeq)
			if !found {
				// Nothing after this point parses as a record:
				// unrecoverable tail garbage, so recovery ends here.
				return lastSeq, nil
			}
			pos = next
		}
	}
	return lastSeq, nil
}

// recordStatus classifies the result of parsing one record.
type recordStatus int

const (
	recordOK recordStatus = iota
	// recordIncomplete means the header parsed (or there wasn't enough
	// data left for one) but the declared record runs past the end of
	// the buffer: a truncated write, not corruption.
	recordIncomplete
	// recordInvalid means the header itself is malformed (an
	// out-of-range length or a non-increasing sequence) and isn't
	// explained by simple truncation.
	recordInvalid
)

// tryParseRecord attempts to parse one record at the start of buf,
// classifying any failure per recordStatus so callers can tell a
// benign truncated tail from genuine corruption requiring resync.
func tryParseRecord(buf []byte, lastSeq uint64) (record.Entry, int, recordStatus) {
	if len(buf) < headerSize {
		return record.Entry{}, 0, recordIncomplete
	}
	keyLen := binary.LittleEndian.Uint32(buf[0:4])
	valueLen := binary.LittleEndian.Uint32(buf[4:8])
	timestamp := binary.LittleEndian.Uint64(buf[8:16])
	sequence := binary.LittleEndian.Uint64(buf[16:24])

	if keyLen == 0 || uint64(keyLen) > record.MaxKeySize {
		return record.Entry{}, 0, recordInvalid
	}
	tombstone := valueLen == tombstoneMarker
	if !tombstone && uint64(valueLen) > record.MaxValueSize {
		return record.Entry{}, 0, recordInvalid
	}
	if sequence <= lastSeq {
		return record.Entry{}, 0, recordInvalid
	}

	bodyLen := int(keyLen)
	if !tombstone {
		bodyLen += int(valueLen)
	}
	total := headerSize + bodyLen
	if total > len(buf) {
		return record.Entry{}, 0, recordIncomplete
	}

	key := append([]byte(nil), buf[headerSize:headerSize+int(keyLen)]...)
	var value []byte
	if !tombstone {
		value = append([]byte(nil), buf[headerSize+int(keyLen):total]...)
	}

	return record.Entry{
		Key:       key,
		Value:     value,
		Tombstone: tombstone,
		Timestamp: timestamp,
		Sequence:  sequence,
	}, total, recordOK
}

func resync(data []byte, start int, lastSeq uint64) (int, bool) {
	for pos := start; pos+headerSize <= len(data); pos++ {
		if _, _, status := tryParseRecord(data[pos:], lastSeq); status == recordOK {
			return pos, true
		}
	}
	return 0, false
}
