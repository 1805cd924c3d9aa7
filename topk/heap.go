// Package topk implements the bounded Top-K and grouped accumulator of
// a size-K min-heap over a composite score tuple, with an
// optional secondary per-distinct-key heap for grouped results.
package topk

import (
	"container/heap"

	"github.com/mizusearch/core/types"
)

// better reports whether a should rank ahead of b: higher sort scores
// win lexicographically over the three slots; ties break by seq_id
// descending.
func better(a, b types.TopKEntry) bool {
	for i := 0; i < 3; i++ {
		if a.SortScores[i] != b.SortScores[i] {
			return a.SortScores[i] > b.SortScores[i]
		}
	}
	return a.SeqID > b.SeqID
}

type item struct {
	entry    types.TopKEntry
	groupKey uint64
	index    int
}

// innerHeap is a container/heap.Interface whose root is always the
// current worst entry, so that Pop ejects exactly the element a
// bounded accumulator should evict first.
type innerHeap struct {
	items []*item
}

func (h *innerHeap) Len() int { return len(h.items) }

func (h *innerHeap) Less(i, j int) bool {
	// i sorts before j (i.e. i is the "smaller"/worse element) when j
	// is the better-ranked entry.
	return better(h.items[j].entry, h.items[i].entry)
}

func (h *innerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *innerHeap) Push(x any) {
	it := x.(*item)
	it.index = len(h.items)
	h.items = append(h.items, it)
}

func (h *innerHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return it
}

func insertBounded(h *innerHeap, e types.TopKEntry, limit int) {
	if limit <= 0 {
		return
	}
	if h.Len() < limit {
		heap.Push(h, &item{entry: e})
		return
	}
	if h.Len() == 0 {
		return
	}
	worst := h.items[0]
	if better(e, worst.entry) {
		worst.entry = e
		heap.Fix(h, 0)
	}
}

// sortedDescending drains a copy of the heap into best-first order
// without disturbing the live heap.
func sortedDescending(h *innerHeap) []types.TopKEntry {
	tmp := &innerHeap{items: append([]*item(nil), h.items...)}
	for i, it := range tmp.items {
		tmp.items[i] = &item{entry: it.entry, groupKey: it.groupKey, index: i}
	}
	n := tmp.Len()
	out := make([]types.TopKEntry, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(tmp).(*item).entry
	}
	return out
}

// TopK is a bounded, ungrouped accumulator of size k.
type TopK struct {
	h *innerHeap
	k int
}

func NewTopK(k int) *TopK {
	return &TopK{h: &innerHeap{}, k: k}
}

// Offer considers e for inclusion in the top k.
func (t *TopK) Offer(e types.TopKEntry) { insertBounded(t.h, e, t.k) }

// Results returns the accumulated entries, best first.
func (t *TopK) Results() []types.TopKEntry { return sortedDescending(t.h) }

func (t *TopK) Len() int { return t.h.Len() }
