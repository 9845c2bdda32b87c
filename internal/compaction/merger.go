package compaction

import (
	"bytes"
	"container/heap"

	"github.com/rustedge/rustedge/internal/record"
)

// mergeItem is one candidate entry sitting at the head of a source.
type mergeItem struct {
	entry     record.Entry
	sourceIdx int
}

// mergeHeap is a min-heap ordered by (key ascending, sequence
// descending): among entries sharing a key, the highest sequence (the
// most recent write) surfaces first.
type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	cmp := bytes.Compare(h[i].entry.Key, h[j].entry.Key)
	if cmp != 0 {
		return cmp < 0
	}
	return h[i].entry.Sequence > h[j].entry.Sequence
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) {
	*h = append(*h, x.(mergeItem))
}

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge performs a k-way merge of several ascending-by-key entry
// slices, keeping only the highest-sequence entry for each key and
// discarding tombstones from the result entirely (the full-live-set
// compaction policy: once every source for a key has been folded in,
// the newest state for that key is known and a tombstone need not be
// carried forward).
func Merge(sources [][]record.Entry) []record.Entry {
	positions := make([]int, len(sources))
	h := &mergeHeap{}
	for i, s := range sources {
		if len(s) > 0 {
			heap.Push(h, mergeItem{entry: s[0], sourceIdx: i})
			positions[i] = 1
		}
	}

	var out []record.Entry
	var lastKey []byte
	haveLast := false

	for h.Len() > 0 {
		item := heap.Pop(h).(mergeItem)

		src := sources[item.sourceIdx]
		if positions[item.sourceIdx] < len(src) {
			heap.Push(h, mergeItem{entry: src[positions[item.sourceIdx]], sourceIdx: item.sourceIdx})
			positions[item.sourceIdx]++
		}

		if haveLast && bytes.Equal(item.entry.Key, lastKey) {
			continue // a lower-sequence duplicate for a key already resolved
		}
		lastKey = item.entry.Key
		haveLast = true

		if item.entry.Tombstone {
			continue
		}
		out = append(out, item.entry)
	}

	return out
}
