package topk

import (
	"container/heap"

	"github.com/cespare/xxhash/v2"

	"github.com/mizusearch/core/types"
)

// HashGroupKey combines the raw string values of a document's
// group_by fields into the 64-bit distinct key grouping is keyed on.
// xxhash's streaming Write composes cleanly over a variable-length
// value list, unlike the fixed-arity stdlib hashes.
func HashGroupKey(values []string) uint64 {
	h := xxhash.New()
	for _, v := range values {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

type groupState struct {
	heap      *innerHeap
	outerItem *item // nil when this group currently has no outer representative
}

func bestOf(items []*item) types.TopKEntry {
	best := items[0].entry
	for _, it := range items[1:] {
		if better(it.entry, best) {
			best = it.entry
		}
	}
	return best
}

// GroupedTopK maintains, per distinct group key, a bounded heap of up
// to groupLimit entries, and an outer bounded heap of up to k groups
// keyed on each group's current best representative.
type GroupedTopK struct {
	outer      *innerHeap
	k          int
	groupLimit int
	groups     map[uint64]*groupState
}

func NewGroupedTopK(k, groupLimit int) *GroupedTopK {
	return &GroupedTopK{
		outer:      &innerHeap{},
		k:          k,
		groupLimit: groupLimit,
		groups:     make(map[uint64]*groupState),
	}
}

// Offer considers e for inclusion under its DistinctKey's group, and
// propagates the group's resulting best representative into the outer
// top-k of groups.
func (g *GroupedTopK) Offer(e types.TopKEntry) {
	gs := g.groups[e.DistinctKey]
	if gs == nil {
		gs = &groupState{heap: &innerHeap{}}
		g.groups[e.DistinctKey] = gs
	}
	insertBounded(gs.heap, e, g.groupLimit)
	if gs.heap.Len() == 0 {
		return
	}
	best := bestOf(gs.heap.items)

	if gs.outerItem != nil {
		gs.outerItem.entry = best
		heap.Fix(g.outer, gs.outerItem.index)
		return
	}
	if g.outer.Len() < g.k {
		it := &item{entry: best, groupKey: e.DistinctKey}
		heap.Push(g.outer, it)
		gs.outerItem = it
		return
	}
	worstOuter := g.outer.items[0]
	if better(best, worstOuter.entry) {
		if evicted := g.groups[worstOuter.groupKey]; evicted != nil {
			evicted.outerItem = nil
		}
		worstOuter.entry = best
		worstOuter.groupKey = e.DistinctKey
		gs.outerItem = worstOuter
		heap.Fix(g.outer, 0)
	}
}

// Group is one grouped result: the representative entries (best
// first, up to group_limit) sharing a distinct key.
type Group struct {
	DistinctKey uint64
	Entries     []types.TopKEntry
}

// Results returns the accumulated groups, ranked by each group's best
// entry, best group first.
func (g *GroupedTopK) Results() []Group {
	ranked := sortedDescendingKeyed(g.outer)
	out := make([]Group, 0, len(ranked))
	for _, key := range ranked {
		gs := g.groups[key]
		if gs == nil {
			continue
		}
		out = append(out, Group{DistinctKey: key, Entries: sortedDescending(gs.heap)})
	}
	return out
}

// sortedDescendingKeyed mirrors sortedDescending but returns the group
// keys in best-first order instead of entries, since outer heap items
// carry group keys rather than final entries the caller wants back
// directly.
func sortedDescendingKeyed(h *innerHeap) []uint64 {
	tmp := &innerHeap{items: append([]*item(nil), h.items...)}
	for i, it := range tmp.items {
		tmp.items[i] = &item{entry: it.entry, groupKey: it.groupKey, index: i}
	}
	n := tmp.Len()
	out := make([]uint64, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(tmp).(*item).groupKey
	}
	return out
}
