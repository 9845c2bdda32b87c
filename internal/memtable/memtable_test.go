package memtable

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rustedge/rustedge/internal/record"
)

func TestMemTable_PutGet(t *testing.T) {
	mt := New(0)

	key := []byte("test_key")
	value := []byte("test_value")

	if err := mt.Put(key, value); err != nil {
		t.Fatalf("unexpected error during Put: %v", err)
	}

	got, found := mt.Get(key)
	if !found {
		t.Fatalf("expected to find key %s", key)
	}
	if string(got.Value) != string(value) {
		t.Errorf("expected value %s, got %s", value, got.Value)
	}
	if got.Tombstone {
		t.Errorf("expected a live entry, got a tombstone")
	}
}

func TestMemTable_RejectsInvalidInput(t *testing.T) {
	mt := New(0)

	if err := mt.Put(nil, []byte("v")); !errors.Is(err, record.ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
	if err := mt.Delete(nil); !errors.Is(err, record.ErrEmptyKey) {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
}

func TestMemTable_SizeTracking(t *testing.T) {
	mt := New(0)

	if mt.Size() != 0 {
		t.Errorf("expected initial size 0, got %d", mt.Size())
	}

	key := []byte("test_key")
	mt.Put(key, []byte("test_value"))
	firstSize := mt.Size()
	if firstSize <= 0 {
		t.Errorf("expected positive size after insert, got %d", firstSize)
	}

	mt.Put(key, []byte("a_longer_test_value"))
	if mt.Size() <= firstSize {
		t.Errorf("expected size to grow after a larger update, got %d (was %d)", mt.Size(), firstSize)
	}
}

func TestMemTable_Delete(t *testing.T) {
	mt := New(0)
	key := []byte("test_key")

	mt.Put(key, []byte("test_value"))
	if err := mt.Delete(key); err != nil {
		t.Fatalf("unexpected error during Delete: %v", err)
	}

	got, found := mt.Get(key)
	if !found {
		t.Fatalf("expected the tombstone to still be retrievable")
	}
	if !got.Tombstone {
		t.Errorf("expected a tombstone entry after delete")
	}
}

func TestMemTable_SequenceStrictlyIncreasing(t *testing.T) {
	mt := New(0)

	mt.Put([]byte("a"), []byte("1"))
	mt.Put([]byte("b"), []byte("2"))
	mt.Delete([]byte("a"))

	a, _ := mt.Get([]byte("a"))
	b, _ := mt.Get([]byte("b"))

	if !(b.Sequence < a.Sequence) {
		t.Errorf("expected strictly increasing sequence numbers, got b=%d a=%d", b.Sequence, a.Sequence)
	}
}

func TestMemTable_Apply(t *testing.T) {
	mt := New(0)

	mt.Apply(record.Entry{Key: []byte("k"), Value: []byte("v"), Sequence: 42, Timestamp: 100})
	got, found := mt.Get([]byte("k"))
	if !found {
		t.Fatalf("expected applied entry to be found")
	}
	if got.Sequence != 42 {
		t.Errorf("expected sequence 42, got %d", got.Sequence)
	}

	// The internal counter must have advanced past an applied sequence.
	mt.Put([]byte("k2"), []byte("v2"))
	k2, _ := mt.Get([]byte("k2"))
	if k2.Sequence <= 42 {
		t.Errorf("expected a standalone Put after Apply to get a later sequence, got %d", k2.Sequence)
	}
}

func TestMemTable_IsFull(t *testing.T) {
	mt := New(32)
	if mt.IsFull() {
		t.Errorf("expected an empty memtable not to be full")
	}
	mt.Put([]byte("key"), []byte("a_value_long_enough_to_trip_the_budget"))
	if !mt.IsFull() {
		t.Errorf("expected the memtable to report full once past maxBytes")
	}
}

func TestMemTable_IsFullDisabled(t *testing.T) {
	mt := New(0)
	for i := 0; i < 1000; i++ {
		mt.Put([]byte(fmt.Sprintf("key_%d", i)), []byte("value"))
	}
	if mt.IsFull() {
		t.Errorf("expected IsFull to stay false when maxBytes is 0")
	}
}

func TestMemTable_Entries(t *testing.T) {
	mt := New(0)

	keys := []string{"zebra", "apple", "monkey"}
	for i, key := range keys {
		mt.Put([]byte(key), []byte(fmt.Sprintf("value_%d", i)))
	}

	entries := mt.Entries()
	expected := []string{"apple", "monkey", "zebra"}
	if len(entries) != len(expected) {
		t.Fatalf("expected %d entries, got %d", len(expected), len(entries))
	}
	for i, e := range entries {
		if string(e.Key) != expected[i] {
			t.Errorf("expected key %s at position %d, got %s", expected[i], i, e.Key)
		}
	}
}

func TestMemTable_Clear(t *testing.T) {
	mt := New(0)
	mt.Put([]byte("a"), []byte("1"))
	mt.Clear()

	if len(mt.Entries()) != 0 {
		t.Errorf("expected no entries after Clear")
	}
	if mt.Size() != 0 {
		t.Errorf("expected size 0 after Clear, got %d", mt.Size())
	}
}

func TestMemTable_ConcurrentAccess(t *testing.T) {
	mt := New(0)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			mt.Put([]byte(fmt.Sprintf("key_%d", i)), []byte(fmt.Sprintf("value_%d", i)))
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			mt.Get([]byte(fmt.Sprintf("key_%d", i%50)))
		}
	}()

	wg.Wait()

	if len(mt.Entries()) != 100 {
		t.Errorf("expected 100 entries after concurrent access, got %d", len(mt.Entries()))
	}
}
