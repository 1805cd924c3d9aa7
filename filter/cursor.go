// Package filter implements the filter iterator tree: a
// recursive AND/OR/leaf evaluator over id cursors, with NOT-equals
// implemented as a gap walk and cardinality-based subtree reordering.
package filter

import "github.com/RoaringBitmap/roaring/v2"

// Cursor is the common id-stream interface every filter node and leaf
// exposes: postings.Iterator already satisfies it directly.
type Cursor interface {
	Valid() bool
	ID() uint32
	Next()
	SkipTo(id uint32)
}

// BitmapCursor adapts a materialized roaring.Bitmap (the numeric/bool/
// geo/id leaf representation) to Cursor.
type BitmapCursor struct {
	it   roaring.IntPeekable
	id   uint32
	done bool
}

func NewBitmapCursor(bm *roaring.Bitmap) *BitmapCursor {
	c := &BitmapCursor{it: bm.Iterator()}
	c.advance()
	return c
}

func (c *BitmapCursor) advance() {
	if !c.it.HasNext() {
		c.done = true
		return
	}
	c.id = c.it.Next()
}

func (c *BitmapCursor) Valid() bool { return !c.done }
func (c *BitmapCursor) ID() uint32  { return c.id }
func (c *BitmapCursor) Next()       { c.advance() }
func (c *BitmapCursor) SkipTo(target uint32) {
	if c.done {
		return
	}
	if c.id >= target {
		return
	}
	c.id = c.it.AdvanceIfNeeded(target)
	if c.id < target {
		c.done = true
	}
}

// AndCursor synchronizes two cursors, advancing the lagging side to
// the leader on every step.
type AndCursor struct {
	a, b Cursor
}

func NewAnd(a, b Cursor) *AndCursor { return &AndCursor{a: a, b: b} }

func (n *AndCursor) sync() {
	for n.a.Valid() && n.b.Valid() && n.a.ID() != n.b.ID() {
		if n.a.ID() < n.b.ID() {
			n.a.SkipTo(n.b.ID())
		} else {
			n.b.SkipTo(n.a.ID())
		}
	}
}

func (n *AndCursor) Valid() bool {
	n.sync()
	return n.a.Valid() && n.b.Valid()
}

func (n *AndCursor) ID() uint32 { return n.a.ID() }

func (n *AndCursor) Next() {
	n.a.Next()
	n.b.Next()
}

func (n *AndCursor) SkipTo(target uint32) {
	n.a.SkipTo(target)
	n.b.SkipTo(target)
}

// OrCursor emits the minimum of the two current ids, advancing only
// the side(s) that matched it.
type OrCursor struct {
	a, b Cursor
}

func NewOr(a, b Cursor) *OrCursor { return &OrCursor{a: a, b: b} }

func (n *OrCursor) Valid() bool { return n.a.Valid() || n.b.Valid() }

func (n *OrCursor) ID() uint32 {
	switch {
	case n.a.Valid() && n.b.Valid():
		if n.a.ID() < n.b.ID() {
			return n.a.ID()
		}
		return n.b.ID()
	case n.a.Valid():
		return n.a.ID()
	default:
		return n.b.ID()
	}
}

func (n *OrCursor) Next() {
	id := n.ID()
	if n.a.Valid() && n.a.ID() == id {
		n.a.Next()
	}
	if n.b.Valid() && n.b.ID() == id {
		n.b.Next()
	}
}

func (n *OrCursor) SkipTo(target uint32) {
	n.a.SkipTo(target)
	n.b.SkipTo(target)
}

// NotCursor implements NOT-equals by walking the gap ids between
// consecutive matches of inner, tracking inner as the "previous match"
// cursor, over the universe [0, maxID).
type NotCursor struct {
	inner Cursor
	maxID uint32
	cur   uint32
}

func NewNot(inner Cursor, maxID uint32) *NotCursor {
	n := &NotCursor{inner: inner, maxID: maxID}
	n.closeGap()
	return n
}

// closeGap advances cur past every id the inner cursor currently
// matches, landing on the next true gap (or maxID, meaning exhausted).
func (n *NotCursor) closeGap() {
	for n.cur < n.maxID {
		if n.inner.Valid() && n.inner.ID() < n.cur {
			n.inner.SkipTo(n.cur)
			continue
		}
		if n.inner.Valid() && n.inner.ID() == n.cur {
			n.cur++
			n.inner.Next()
			continue
		}
		break
	}
}

func (n *NotCursor) Valid() bool { return n.cur < n.maxID }
func (n *NotCursor) ID() uint32  { return n.cur }

func (n *NotCursor) Next() {
	n.cur++
	n.closeGap()
}

func (n *NotCursor) SkipTo(target uint32) {
	if target > n.cur {
		n.cur = target
	}
	n.closeGap()
}

// LiteralCursor walks a small, already-sorted, caller-owned id slice
// (the `id` field filter, whose literal id set is materialized by
// the resolver).
type LiteralCursor struct {
	ids []uint32
	idx int
}

func NewLiteral(ids []uint32) *LiteralCursor { return &LiteralCursor{ids: ids} }

func (c *LiteralCursor) Valid() bool { return c.idx < len(c.ids) }
func (c *LiteralCursor) ID() uint32  { return c.ids[c.idx] }
func (c *LiteralCursor) Next()       { c.idx++ }
func (c *LiteralCursor) SkipTo(target uint32) {
	for c.idx < len(c.ids) && c.ids[c.idx] < target {
		c.idx++
	}
}
