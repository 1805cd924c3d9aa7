// Package facet implements the facet index: a value map plus a
// counter list kept sorted by count descending with equal counts
// ordered by value, and a high-cardinality fallback that keeps counts
// only once the distinct-value ratio gets too large for per-value id
// lists to be worth the memory.
package facet

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

type counterNode struct {
	value string
	count int
	ids   *roaring.Bitmap // nil once the index is in high-cardinality fallback
	prev  *counterNode
	next  *counterNode
}

// Index is one facet field's value counter list.
type Index struct {
	values   map[string]*counterNode
	head     *counterNode
	tail     *counterNode
	lastAt   map[int]*counterNode // last (tail-most) node known to hold this count; a hint, repaired lazily
	fallback bool
}

func New() *Index {
	return &Index{
		values: make(map[string]*counterNode),
		lastAt: make(map[int]*counterNode),
	}
}

// Insert adds one occurrence of value for docID.
func (ix *Index) Insert(value string, docID uint32) {
	n, ok := ix.values[value]
	if !ok {
		n = &counterNode{value: value, count: 0}
		if !ix.fallback {
			n.ids = roaring.New()
		}
		ix.values[value] = n
		ix.appendAfterLastNonZero(n)
	}
	if n.ids != nil {
		n.ids.Add(docID)
	}
	ix.bump(n, 1)
}

// Delete removes one occurrence of value for docID. If the node's
// count reaches zero it is unlinked and dropped.
func (ix *Index) Delete(value string, docID uint32) {
	n, ok := ix.values[value]
	if !ok {
		return
	}
	if n.ids != nil {
		n.ids.Remove(docID)
	}
	ix.bump(n, -1)
	if n.count <= 0 {
		ix.detachFromList(n)
		ix.clearLastAt(0, n)
		delete(ix.values, value)
	}
}

// appendAfterLastNonZero places a fresh count-1 node after the last
// node with count >= 1, i.e. at the tail of the list so far.
func (ix *Index) appendAfterLastNonZero(n *counterNode) {
	ix.insertAfter(ix.tail, n)
}

func (ix *Index) insertAfter(anchor, n *counterNode) {
	if anchor == nil {
		n.next = ix.head
		if ix.head != nil {
			ix.head.prev = n
		}
		ix.head = n
		if ix.tail == nil {
			ix.tail = n
		}
		return
	}
	n.prev = anchor
	n.next = anchor.next
	if anchor.next != nil {
		anchor.next.prev = n
	} else {
		ix.tail = n
	}
	anchor.next = n
}

func (ix *Index) detachFromList(n *counterNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		ix.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		ix.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (ix *Index) clearLastAt(count int, n *counterNode) {
	if ix.lastAt[count] == n {
		delete(ix.lastAt, count)
	}
}

// bump changes n's count by delta and restores the list order: count
// descending, equal counts ordered by value ascending. lastAt is a
// jump hint to the existing tail-most node at the target count; the
// hint is advisory only — bubbleUp/bubbleDown are always run afterward
// and will fully correct the order even if the hint was stale, since
// an anchored jump lands at the tail of its count run, not at the
// node's value position within it.
func (ix *Index) bump(n *counterNode, delta int) {
	old := n.count
	ix.clearLastAt(old, n)
	n.count += delta

	if anchor, ok := ix.lastAt[n.count]; ok && anchor != n && n.count > 0 {
		ix.detachFromList(n)
		ix.insertAfter(anchor, n)
	}
	ix.bubbleUp(n)
	ix.bubbleDown(n)
	ix.lastAt[n.count] = ix.tailmostAtCount(n)
}

// ranksBefore reports whether a belongs ahead of b in the counter
// list: higher count first, ties broken by value ascending.
func ranksBefore(a, b *counterNode) bool {
	if a.count != b.count {
		return a.count > b.count
	}
	return a.value < b.value
}

func (ix *Index) bubbleUp(n *counterNode) {
	for n.prev != nil && ranksBefore(n, n.prev) {
		ix.swapWithPrev(n)
	}
}

func (ix *Index) bubbleDown(n *counterNode) {
	for n.next != nil && ranksBefore(n.next, n) {
		ix.swapWithNext(n)
	}
}

func (ix *Index) swapWithPrev(n *counterNode) {
	p := n.prev
	ix.detachFromList(p)
	ix.insertAfter(n, p)
	// n is now where p was; nothing further to fix up since both
	// pointers were rebuilt by detach/insert.
}

func (ix *Index) swapWithNext(n *counterNode) {
	next := n.next
	ix.detachFromList(next)
	ix.insertAfter(n.prev, next)
}

// tailmostAtCount walks forward from n while the count matches,
// returning the last node in that run. Used to keep lastAt pointing
// at the node new arrivals at the same count should be inserted
// after.
func (ix *Index) tailmostAtCount(n *counterNode) *counterNode {
	cur := n
	for cur.next != nil && cur.next.count == n.count {
		cur = cur.next
	}
	return cur
}

// EnableFallback switches the index into high-cardinality mode: every
// node's id list is dropped and further inserts/deletes only track
// counts. This is one-way — once dropped, id lists are not
// reconstructed if cardinality later falls back below the threshold.
func (ix *Index) EnableFallback() {
	if ix.fallback {
		return
	}
	ix.fallback = true
	for _, n := range ix.values {
		n.ids = nil
	}
}

// ShouldFallback reports whether distinct_values/total_docs crosses
// the configured high-cardinality threshold.
func ShouldFallback(distinctValues, totalDocs int, ratio float64, minDocs int) bool {
	if totalDocs < minDocs {
		return false
	}
	return float64(distinctValues) > ratio*float64(totalDocs)
}

func (ix *Index) DistinctValues() int { return len(ix.values) }

func (ix *Index) IsFallback() bool { return ix.fallback }

// Count returns value's current count, or 0 if unknown.
func (ix *Index) Count(value string) int {
	if n, ok := ix.values[value]; ok {
		return n.count
	}
	return 0
}

// ValueCount pairs a facet value with its count, in the order Top
// returns them.
type ValueCount struct {
	Value string
	Count int
}

// Top returns the k highest-count values (wildcard path: report the
// top counter-list nodes directly).
func (ix *Index) Top(k int) []ValueCount {
	var out []ValueCount
	for n := ix.head; n != nil && len(out) < k; n = n.next {
		out = append(out, ValueCount{Value: n.value, Count: n.count})
	}
	return out
}

// TopFiltered walks the counter list in descending-count order,
// intersecting each candidate's id list with filterIDs, emitting
// non-zero intersections until k have been found or 2k candidates have
// been examined (the examination cap). In fallback mode
// there is no per-value id list to intersect, so it degrades to exact
// total counts (the filter is ignored, matching the documented
// fallback behavior).
func (ix *Index) TopFiltered(filterIDs *roaring.Bitmap, k, examineFactor int) []ValueCount {
	if ix.fallback {
		return ix.Top(k)
	}
	limit := k * examineFactor
	if limit <= 0 {
		limit = k
	}
	var out []ValueCount
	examined := 0
	for n := ix.head; n != nil && len(out) < k && examined < limit; n = n.next {
		examined++
		and := roaring.And(n.ids, filterIDs)
		c := int(and.GetCardinality())
		if c > 0 {
			out = append(out, ValueCount{Value: n.value, Count: c})
		}
	}
	return out
}

// SortedByValue returns every current value/count pair in lexical
// value order, for sort_by=value facet responses.
func (ix *Index) SortedByValue() []ValueCount {
	out := make([]ValueCount, 0, len(ix.values))
	for v, n := range ix.values {
		out = append(out, ValueCount{Value: v, Count: n.count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}
