// Package sstable implements the immutable, sorted, bloom-filter-backed
// on-disk table that a memtable flush or a compaction produces.
package sstable

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr"

	"github.com/rustedge/rustedge/internal/bloom"
	"github.com/rustedge/rustedge/internal/record"
)

const (
	magic      = "RUSTEDGE"
	formatVersion = uint32(1)

	headerSize    = 64
	reservedSize  = 23
	entryHeaderSize = 24
	indexEntryHeaderSize = 20 // key_len(4) + rel_offset(8) + key_size(4) + value_size(4)
	footerSize    = 32

	tombstoneMarker = 0xFFFFFFFF

	// CompressionNone is the only codec required by v0.1.
	CompressionNone = uint8(0)

	filePrefix = "sst_"
	fileSuffix = ".sst"
)

var (
	// ErrEmptyBuild classifies an attempt to build an SST from no entries.
	ErrEmptyBuild = goerr.New("cannot build an sst from zero entries")
	// ErrCorrupt classifies a header missing its magic or carrying
	// inconsistent offsets.
	ErrCorrupt = goerr.New("sst file corrupt")
	// ErrIO classifies a filesystem failure during SST access.
	ErrIO = goerr.New("sst io failure")
)

type header struct {
	version      uint32
	entryCount   uint32
	indexOffset  uint64
	bloomOffset  uint64
	dataOffset   uint64
	compression  uint8
}

type indexEntry struct {
	key       []byte
	relOffset uint64
	valueLen  uint32 // tombstoneMarker for a tombstone
}

// FileName returns the sst_<millis>.sst name for a table built at the
// given millisecond timestamp.
func FileName(millis int64) string {
	return filePrefix + strconv.FormatInt(millis, 10) + fileSuffix
}

// ListFiles returns every sst_*.sst file in dir, sorted lexicographically,
// which for sst_<millis>.sst names is creation order (see the
// open-question note in DESIGN.md).
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(ErrIO, "list sst directory").With("dir", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Build writes entries (which must already be sorted by ascending key,
// with at most one entry per key) to a new SST file at path, following
// the six-step build protocol: reserve header, reserve the bloom
// filter, emit the data section, emit the index section, emit the
// footer, then seek back and fill in the bloom bits and header offsets.
func Build(path string, entries []record.Entry) (err error) {
	if len(entries) == 0 {
		return ErrEmptyBuild
	}

	f, err := os.Create(path)
	if err != nil {
		return goerr.Wrap(ErrIO, "create sst file").With("path", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = goerr.Wrap(ErrIO, "close sst file").With("path", path)
		}
	}()

	filter := bloom.New(len(entries))
	bloomLen := int64(len(filter.Bytes()))
	dataOffset := int64(headerSize) + bloomLen

	w := bufio.NewWriter(f)
	if _, err := w.Write(make([]byte, headerSize)); err != nil {
		return goerr.Wrap(ErrIO, "reserve sst header")
	}
	if _, err := w.Write(make([]byte, bloomLen)); err != nil {
		return goerr.Wrap(ErrIO, "reserve sst bloom region")
	}

	crc := crc32.NewIEEE()
	out := io.MultiWriter(w, crc)

	index := make([]indexEntry, 0, len(entries))
	var dataSize int64
	for _, e := range entries {
		filter.Add(e.Key)

		valueLen := uint32(tombstoneMarker)
		var value []byte
		if !e.Tombstone {
			valueLen = uint32(len(e.Value))
			value = e.Value
		}

		buf := make([]byte, entryHeaderSize+len(e.Key)+len(value))
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(e.Key)))
		binary.LittleEndian.PutUint32(buf[4:8], valueLen)
		binary.LittleEndian.PutUint64(buf[8:16], e.Timestamp)
		binary.LittleEndian.PutUint64(buf[16:24], e.Sequence)
		copy(buf[entryHeaderSize:], e.Key)
		copy(buf[entryHeaderSize+len(e.Key):], value)

		if _, err := out.Write(buf); err != nil {
			return goerr.Wrap(ErrIO, "write sst data entry")
		}

		index = append(index, indexEntry{key: e.Key, relOffset: uint64(dataSize), valueLen: valueLen})
		dataSize += int64(len(buf))
	}

	for _, ie := range index {
		buf := make([]byte, indexEntryHeaderSize+len(ie.key))
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(ie.key)))
		binary.LittleEndian.PutUint64(buf[4:12], ie.relOffset)
		binary.LittleEndian.PutUint32(buf[12:16], uint32(len(ie.key)))
		binary.LittleEndian.PutUint32(buf[16:20], ie.valueLen)
		copy(buf[indexEntryHeaderSize:], ie.key)
		if _, err := w.Write(buf); err != nil {
			return goerr.Wrap(ErrIO, "write sst index entry")
		}
	}
	indexSize := int64(0)
	for _, ie := range index {
		indexSize += int64(indexEntryHeaderSize + len(ie.key))
	}

	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint64(footer[4:12], uint64(dataSize))
	binary.LittleEndian.PutUint64(footer[12:20], uint64(indexSize))
	if _, err := w.Write(footer); err != nil {
		return goerr.Wrap(ErrIO, "write sst footer")
	}
	if err := w.Flush(); err != nil {
		return goerr.Wrap(ErrIO, "flush sst writer")
	}

	indexOffset := dataOffset + dataSize

	if _, err := f.WriteAt(filter.Bytes(), headerSize); err != nil {
		return goerr.Wrap(ErrIO, "write sst bloom bits")
	}

	hdr := make([]byte, headerSize)
	copy(hdr[0:8], magic)
	binary.LittleEndian.PutUint32(hdr[8:12], formatVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(entries)))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(indexOffset))
	binary.LittleEndian.PutUint64(hdr[24:32], headerSize)
	binary.LittleEndian.PutUint64(hdr[32:40], uint64(dataOffset))
	hdr[40] = CompressionNone
	if _, err := f.WriteAt(hdr, 0); err != nil {
		return goerr.Wrap(ErrIO, "write sst header")
	}
	if err := f.Sync(); err != nil {
		return goerr.Wrap(ErrIO, "sync sst file")
	}

	return nil
}

// Reader is an opened, immutable SST. Its bloom filter and index are
// held in memory; the data section is read on demand.
type Reader struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	hdr    header
	filter *bloom.Filter
	index  []indexEntry
}

// Open reads and validates an SST's header, bloom filter, and index.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(ErrIO, "open sst file").With("path", path)
	}

	r := &Reader{path: path, file: f}
	if err := r.load(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) load() error {
	hdrBuf := make([]byte, headerSize)
	if _, err := r.file.ReadAt(hdrBuf, 0); err != nil {
		return goerr.Wrap(ErrCorrupt, "read sst header").With("path", r.path)
	}
	if string(hdrBuf[0:8]) != magic {
		return goerr.Wrap(ErrCorrupt, "sst missing magic").With("path", r.path)
	}

	h := header{
		version:     binary.LittleEndian.Uint32(hdrBuf[8:12]),
		entryCount:  binary.LittleEndian.Uint32(hdrBuf[12:16]),
		indexOffset: binary.LittleEndian.Uint64(hdrBuf[16:24]),
		bloomOffset: binary.LittleEndian.Uint64(hdrBuf[24:32]),
		dataOffset:  binary.LittleEndian.Uint64(hdrBuf[32:40]),
		compression: hdrBuf[40],
	}
	if h.bloomOffset != headerSize || h.dataOffset < h.bloomOffset || h.indexOffset < h.dataOffset {
		return goerr.Wrap(ErrCorrupt, "sst header offsets inconsistent").With("path", r.path)
	}
	r.hdr = h

	bloomLen := h.dataOffset - h.bloomOffset
	bloomBuf := make([]byte, bloomLen)
	if _, err := r.file.ReadAt(bloomBuf, int64(h.bloomOffset)); err != nil {
		return goerr.Wrap(ErrCorrupt, "read sst bloom region").With("path", r.path)
	}
	r.filter = bloom.FromBytes(bloomBuf)

	info, err := r.file.Stat()
	if err != nil {
		return goerr.Wrap(ErrIO, "stat sst file").With("path", r.path)
	}
	indexLen := info.Size() - footerSize - int64(h.indexOffset)
	if indexLen < 0 {
		return goerr.Wrap(ErrCorrupt, "sst index region overruns file").With("path", r.path)
	}
	indexBuf := make([]byte, indexLen)
	if _, err := r.file.ReadAt(indexBuf, int64(h.indexOffset)); err != nil {
		return goerr.Wrap(ErrCorrupt, "read sst index region").With("path", r.path)
	}

	index := make([]indexEntry, 0, h.entryCount)
	pos := 0
	for pos < len(indexBuf) {
		if pos+indexEntryHeaderSize > len(indexBuf) {
			return goerr.Wrap(ErrCorrupt, "sst index entry truncated").With("path", r.path)
		}
		keyLen := binary.LittleEndian.Uint32(indexBuf[pos : pos+4])
		relOffset := binary.LittleEndian.Uint64(indexBuf[pos+4 : pos+12])
		valueLen := binary.LittleEndian.Uint32(indexBuf[pos+16 : pos+20])
		pos += indexEntryHeaderSize
		if pos+int(keyLen) > len(indexBuf) {
			return goerr.Wrap(ErrCorrupt, "sst index key truncated").With("path", r.path)
		}
		key := append([]byte(nil), indexBuf[pos:pos+int(keyLen)]...)
		pos += int(keyLen)
		index = append(index, indexEntry{key: key, relOffset: relOffset, valueLen: valueLen})
	}
	r.index = index

	return nil
}

// MayContain consults the bloom filter; a false answer is authoritative
// and requires no index or data access.
func (r *Reader) MayContain(key []byte) bool {
	return r.filter.MayContain(key)
}

// Get returns the entry for key if present, bloom-filtering first and
// then binary-searching the fully-populated index.
func (r *Reader) Get(key []byte) (record.Entry, bool, error) {
	if !r.filter.MayContain(key) {
		return record.Entry{}, false, nil
	}

	i := sort.Search(len(r.index), func(i int) bool {
		return string(r.index[i].key) >= string(key)
	})
	if i >= len(r.index) || string(r.index[i].key) != string(key) {
		return record.Entry{}, false, nil
	}
	ie := r.index[i]

	r.mu.Lock()
	defer r.mu.Unlock()

	// Index offsets are relative to the start of the data section, not
	// to the start of the file.
	entryOffset := int64(r.hdr.dataOffset) + int64(ie.relOffset)
	hdrBuf := make([]byte, entryHeaderSize)
	if _, err := r.file.ReadAt(hdrBuf, entryOffset); err != nil {
		return record.Entry{}, false, goerr.Wrap(ErrIO, "read sst data entry header").With("path", r.path)
	}
	keyLen := binary.LittleEndian.Uint32(hdrBuf[0:4])
	valueLen := binary.LittleEndian.Uint32(hdrBuf[4:8])
	timestamp := binary.LittleEndian.Uint64(hdrBuf[8:16])
	sequence := binary.LittleEndian.Uint64(hdrBuf[16:24])

	tombstone := valueLen == tombstoneMarker
	bodyLen := int(keyLen)
	if !tombstone {
		bodyLen += int(valueLen)
	}
	body := make([]byte, bodyLen)
	if _, err := r.file.ReadAt(body, entryOffset+entryHeaderSize); err != nil {
		return record.Entry{}, false, goerr.Wrap(ErrIO, "read sst data entry body").With("path", r.path)
	}

	e := record.Entry{
		Key:       append([]byte(nil), body[:keyLen]...),
		Tombstone: tombstone,
		Timestamp: timestamp,
		Sequence:  sequence,
	}
	if !tombstone {
		e.Value = append([]byte(nil), body[keyLen:]...)
	}
	return e, true, nil
}

// All reads every entry in the data section, in ascending key order.
// Used by compaction to build its merge input.
func (r *Reader) All() ([]record.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := int64(r.hdr.indexOffset) - int64(r.hdr.dataOffset)
	buf := make([]byte, size)
	if _, err := r.file.ReadAt(buf, int64(r.hdr.dataOffset)); err != nil {
		return nil, goerr.Wrap(ErrIO, "read sst data section").With("path", r.path)
	}

	entries := make([]record.Entry, 0, r.hdr.entryCount)
	pos := 0
	for pos < len(buf) {
		if pos+entryHeaderSize > len(buf) {
			return nil, goerr.Wrap(ErrCorrupt, "sst data entry header truncated").With("path", r.path)
		}
		keyLen := binary.LittleEndian.Uint32(buf[pos : pos+4])
		valueLen := binary.LittleEndian.Uint32(buf[pos+4 : pos+8])
		timestamp := binary.LittleEndian.Uint64(buf[pos+8 : pos+16])
		sequence := binary.LittleEndian.Uint64(buf[pos+16 : pos+24])
		pos += entryHeaderSize

		tombstone := valueLen == tombstoneMarker
		bodyLen := int(keyLen)
		if !tombstone {
			bodyLen += int(valueLen)
		}
		if pos+bodyLen > len(buf) {
			return nil, goerr.Wrap(ErrCorrupt, "sst data entry body truncated").With("path", r.path)
		}

		e := record.Entry{
			Key:       append([]byte(nil), buf[pos:pos+int(keyLen)]...),
			Tombstone: tombstone,
			Timestamp: timestamp,
			Sequence:  sequence,
		}
		if !tombstone {
			e.Value = append([]byte(nil), buf[pos+int(keyLen):pos+bodyLen]...)
		}
		entries = append(entries, e)
		pos += bodyLen
	}
	return entries, nil
}

// EntryCount reports the number of entries recorded in the header.
func (r *Reader) EntryCount() int {
	return int(r.hdr.entryCount)
}

// Path returns the file path this reader was opened from.
func (r *Reader) Path() string {
	return r.path
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}
