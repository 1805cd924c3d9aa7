// Package numindex implements the per-field ordered int/float/bool
// range trees: equality, inclusive range, open/closed greater/less, and
// not-equals (computed as all_ids - equals), backed by a B-tree keyed
// on the exact packed integer.
package numindex

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"
)

// PackFloat maps a float64 onto a monotone int64 ordering via a
// sign-flip: negative numbers' bit patterns are bitwise-inverted so
// that standard integer ordering matches float ordering.
func PackFloat(f float64) int64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return int64(bits)
}

// PackBool coerces a bool to {0,1}.
func PackBool(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

type node struct {
	key int64
	ids *roaring.Bitmap
}

func less(a, b node) bool { return a.key < b.key }

// Tree is a per-field ordered index from an exact packed key to the
// set of document ids holding that value.
type Tree struct {
	t   *btree.BTreeG[node]
	all *roaring.Bitmap // every id inserted and not since dropped by RemoveDoc, for not-equals
}

func New() *Tree {
	return &Tree{t: btree.NewG(32, less), all: roaring.New()}
}

// Insert records that docID holds value key.
func (tr *Tree) Insert(key int64, docID uint32) {
	n, ok := tr.t.Get(node{key: key})
	if !ok {
		n = node{key: key, ids: roaring.New()}
	}
	n.ids.Add(docID)
	tr.t.ReplaceOrInsert(n)
	tr.all.Add(docID)
}

// Delete removes the record that docID holds value key. If docID is
// the last holder of key, the node is dropped. all_ids membership is
// only cleared by RemoveDoc (a doc may hold other values for the same
// field... within a single field/tree a doc normally holds one value,
// but array fields attach the doc to multiple keys).
func (tr *Tree) Delete(key int64, docID uint32) {
	n, ok := tr.t.Get(node{key: key})
	if !ok {
		return
	}
	n.ids.Remove(docID)
	if n.ids.IsEmpty() {
		tr.t.Delete(node{key: key})
	} else {
		tr.t.ReplaceOrInsert(n)
	}
}

// RemoveDoc drops docID from the not-equals universe. Call once the
// caller has also issued Delete for every key the doc held.
func (tr *Tree) RemoveDoc(docID uint32) { tr.all.Remove(docID) }

// Equals returns the ids holding exactly key.
func (tr *Tree) Equals(key int64) *roaring.Bitmap {
	n, ok := tr.t.Get(node{key: key})
	if !ok {
		return roaring.New()
	}
	return n.ids.Clone()
}

// NotEquals returns all_ids - Equals(key).
func (tr *Tree) NotEquals(key int64) *roaring.Bitmap {
	out := tr.all.Clone()
	out.AndNot(tr.Equals(key))
	return out
}

// Range returns the union of ids in [lo, hi] (bounds toggled by
// inclusive flags).
func (tr *Tree) Range(lo, hi int64, loInclusive, hiInclusive bool) *roaring.Bitmap {
	out := roaring.New()
	pivotLo := lo
	if !loInclusive {
		pivotLo = lo + 1
	}
	tr.t.AscendRange(node{key: pivotLo}, node{key: hi + 1}, func(n node) bool {
		if !hiInclusive && n.key == hi {
			return true
		}
		out.Or(n.ids)
		return true
	})
	return out
}

// GreaterThan returns ids with key > v (or >= v if inclusive).
func (tr *Tree) GreaterThan(v int64, inclusive bool) *roaring.Bitmap {
	pivot := v
	if !inclusive {
		pivot = v + 1
	}
	out := roaring.New()
	tr.t.AscendGreaterOrEqual(node{key: pivot}, func(n node) bool {
		out.Or(n.ids)
		return true
	})
	return out
}

// LessThan returns ids with key < v (or <= v if inclusive).
func (tr *Tree) LessThan(v int64, inclusive bool) *roaring.Bitmap {
	out := roaring.New()
	tr.t.AscendLessThan(node{key: v}, func(n node) bool {
		out.Or(n.ids)
		return true
	})
	if inclusive {
		out.Or(tr.Equals(v))
	}
	return out
}

// All returns every id inserted into the tree and not since dropped
// by RemoveDoc.
func (tr *Tree) All() *roaring.Bitmap { return tr.all.Clone() }
