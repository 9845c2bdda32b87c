package compaction

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rustedge/rustedge/internal/record"
	"github.com/rustedge/rustedge/internal/sstable"
)

func buildSST(t *testing.T, dir string, millis int64, entries []record.Entry) string {
	t.Helper()
	path := filepath.Join(dir, sstable.FileName(millis))
	if err := sstable.Build(path, entries); err != nil {
		t.Fatalf("Build(%d): %v", millis, err)
	}
	return path
}

func TestRun_MergesAndRemovesInputs(t *testing.T) {
	dir := t.TempDir()

	p1 := buildSST(t, dir, 1000, []record.Entry{
		{Key: []byte("a"), Value: []byte("1"), Timestamp: 1, Sequence: 1},
		{Key: []byte("c"), Value: []byte("3"), Timestamp: 1, Sequence: 3},
	})
	p2 := buildSST(t, dir, 2000, []record.Entry{
		{Key: []byte("a"), Tombstone: true, Timestamp: 2, Sequence: 4},
		{Key: []byte("b"), Value: []byte("2"), Timestamp: 2, Sequence: 2},
	})

	outPath := filepath.Join(dir, sstable.FileName(3000))
	if err := Run([]string{p1, p2}, outPath); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(p1); !os.IsNotExist(err) {
		t.Errorf("expected input %s to be removed", p1)
	}
	if _, err := os.Stat(p2); !os.IsNotExist(err) {
		t.Errorf("expected input %s to be removed", p2)
	}

	r, err := sstable.Open(outPath)
	if err != nil {
		t.Fatalf("Open output: %v", err)
	}
	defer r.Close()

	if r.EntryCount() != 2 {
		t.Fatalf("expected 2 surviving entries (b and c; a is discarded with its tombstone), got %d", r.EntryCount())
	}
	if _, found, _ := r.Get([]byte("a")); found {
		t.Errorf("expected a to be fully removed after tombstone compaction")
	}
	b, found, _ := r.Get([]byte("b"))
	if !found || string(b.Value) != "2" {
		t.Errorf("expected b=2 to survive, got %+v found=%v", b, found)
	}
	c, found, _ := r.Get([]byte("c"))
	if !found || string(c.Value) != "3" {
		t.Errorf("expected c=3 to survive, got %+v found=%v", c, found)
	}
}

func TestRun_EmptySurvivorsIsAnError(t *testing.T) {
	dir := t.TempDir()

	p1 := buildSST(t, dir, 1000, []record.Entry{
		{Key: []byte("a"), Value: []byte("1"), Timestamp: 1, Sequence: 1},
	})
	p2 := buildSST(t, dir, 2000, []record.Entry{
		{Key: []byte("a"), Tombstone: true, Timestamp: 2, Sequence: 2},
	})

	outPath := filepath.Join(dir, sstable.FileName(3000))
	err := Run([]string{p1, p2}, outPath)
	if !errors.Is(err, ErrCompactionEmpty) {
		t.Fatalf("expected ErrCompactionEmpty, got %v", err)
	}

	// Inputs must survive a failed compaction.
	if _, err := os.Stat(p1); err != nil {
		t.Errorf("expected input %s to remain on failure", p1)
	}
	if _, err := os.Stat(p2); err != nil {
		t.Errorf("expected input %s to remain on failure", p2)
	}
}

func TestRun_StrictlyIncreasingOutputKeys(t *testing.T) {
	dir := t.TempDir()

	p1 := buildSST(t, dir, 1000, []record.Entry{
		{Key: []byte("m"), Value: []byte("13"), Timestamp: 1, Sequence: 2},
		{Key: []byte("z"), Value: []byte("26"), Timestamp: 1, Sequence: 1},
	})
	p2 := buildSST(t, dir, 2000, []record.Entry{
		{Key: []byte("a"), Value: []byte("1"), Timestamp: 2, Sequence: 3},
	})

	outPath := filepath.Join(dir, sstable.FileName(3000))
	if err := Run([]string{p1, p2}, outPath); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r, err := sstable.Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	entries, err := r.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	for i := 1; i < len(entries); i++ {
		if string(entries[i-1].Key) >= string(entries[i].Key) {
			t.Fatalf("expected strictly increasing keys, got %s then %s", entries[i-1].Key, entries[i].Key)
		}
	}
}
