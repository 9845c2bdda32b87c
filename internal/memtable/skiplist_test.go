package memtable

import (
	"fmt"
	"testing"

	"github.com/rustedge/rustedge/internal/record"
)

func TestSkipList_PutGet(t *testing.T) {
	sl := newSkipList()

	e := record.Entry{Key: []byte("test_key"), Value: []byte("test_value"), Sequence: 1}
	sl.put(e)

	got, found := sl.get(e.Key)
	if !found {
		t.Fatalf("expected to find key %s", e.Key)
	}
	if string(got.Value) != string(e.Value) {
		t.Errorf("expected value %s, got %s", e.Value, got.Value)
	}
}

func TestSkipList_Update(t *testing.T) {
	sl := newSkipList()
	key := []byte("test_key")

	sl.put(record.Entry{Key: key, Value: []byte("value1"), Sequence: 1})
	got, _ := sl.get(key)
	if string(got.Value) != "value1" {
		t.Errorf("expected value1, got %s", got.Value)
	}

	prev, existed := sl.put(record.Entry{Key: key, Value: []byte("value2"), Sequence: 2})
	if !existed {
		t.Errorf("expected an existing entry to be reported")
	}
	if string(prev.Value) != "value1" {
		t.Errorf("expected previous value1, got %s", prev.Value)
	}
	got, _ = sl.get(key)
	if string(got.Value) != "value2" {
		t.Errorf("expected updated value2, got %s", got.Value)
	}
}

func TestSkipList_Tombstone(t *testing.T) {
	sl := newSkipList()
	key := []byte("test_key")

	sl.put(record.Entry{Key: key, Value: []byte("test_value"), Sequence: 1})
	sl.put(record.Entry{Key: key, Tombstone: true, Sequence: 2})

	got, found := sl.get(key)
	if !found {
		t.Fatalf("expected the tombstone node to still be found")
	}
	if !got.Tombstone {
		t.Errorf("expected a tombstone entry")
	}
}

func TestSkipList_EntriesSorted(t *testing.T) {
	sl := newSkipList()

	keys := []string{"zebra", "apple", "monkey", "banana", "cherry"}
	for i, key := range keys {
		sl.put(record.Entry{Key: []byte(key), Value: []byte(fmt.Sprintf("value_%d", i)), Sequence: uint64(i + 1)})
	}

	entries := sl.entriesSorted()
	expected := []string{"apple", "banana", "cherry", "monkey", "zebra"}
	if len(entries) != len(expected) {
		t.Fatalf("expected %d entries, got %d", len(expected), len(entries))
	}
	for i, e := range entries {
		if string(e.Key) != expected[i] {
			t.Errorf("expected key %s at position %d, got %s", expected[i], i, e.Key)
		}
	}
}

func TestSkipList_GetMissing(t *testing.T) {
	sl := newSkipList()
	if _, found := sl.get([]byte("nope")); found {
		t.Errorf("expected a miss on an empty list")
	}
}
