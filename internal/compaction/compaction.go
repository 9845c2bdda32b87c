// Package compaction merges several SSTs into one, discarding
// tombstones and superseded duplicates.
package compaction

import (
	"os"

	"github.com/m-mizutani/goerr"

	"github.com/rustedge/rustedge/internal/record"
	"github.com/rustedge/rustedge/internal/sstable"
)

// ErrCompactionEmpty classifies a compaction whose inputs, once merged
// and tombstones removed, yield no surviving entries.
var ErrCompactionEmpty = goerr.New("compaction produced no survivors")

// Run opens every SST in inputPaths, merges them (§4.4: sort by key
// ascending/sequence descending, keep the first occurrence of each
// key, discard tombstones), and writes the result to a new SST at
// outputPath. On success the input files are removed.
func Run(inputPaths []string, outputPath string) error {
	readers := make([]*sstable.Reader, 0, len(inputPaths))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	sources := make([][]record.Entry, 0, len(inputPaths))
	for _, path := range inputPaths {
		r, err := sstable.Open(path)
		if err != nil {
			return err
		}
		readers = append(readers, r)

		entries, err := r.All()
		if err != nil {
			return err
		}
		sources = append(sources, entries)
	}

	merged := Merge(sources)
	if len(merged) == 0 {
		return ErrCompactionEmpty
	}

	if err := sstable.Build(outputPath, merged); err != nil {
		return err
	}

	for _, path := range inputPaths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return goerr.Wrap(sstable.ErrIO, "remove compacted sst input").With("path", path)
		}
	}
	return nil
}
