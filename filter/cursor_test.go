package filter

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
)

func drain(c Cursor) []uint32 {
	var out []uint32
	for c.Valid() {
		out = append(out, c.ID())
		c.Next()
	}
	return out
}

func equalIDs(t *testing.T, got, want []uint32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAndCursor(t *testing.T) {
	a := NewBitmapCursor(roaring.BitmapOf(1, 2, 3, 4, 5))
	b := NewBitmapCursor(roaring.BitmapOf(2, 4, 6))
	equalIDs(t, drain(NewAnd(a, b)), []uint32{2, 4})
}

func TestOrCursor(t *testing.T) {
	a := NewBitmapCursor(roaring.BitmapOf(1, 3, 5))
	b := NewBitmapCursor(roaring.BitmapOf(2, 3, 6))
	equalIDs(t, drain(NewOr(a, b)), []uint32{1, 2, 3, 5, 6})
}

func TestNotCursorGapWalk(t *testing.T) {
	inner := NewBitmapCursor(roaring.BitmapOf(1, 3))
	equalIDs(t, drain(NewNot(inner, 5)), []uint32{0, 2, 4})
}

func TestNotCursorSkipTo(t *testing.T) {
	inner := NewBitmapCursor(roaring.BitmapOf(1, 2, 3))
	n := NewNot(inner, 10)
	n.SkipTo(5)
	if !n.Valid() || n.ID() != 5 {
		t.Fatalf("expected skip_to(5) to land on 5, got valid=%v id=%v", n.Valid(), n.ID())
	}
}

func TestLiteralCursorSkipTo(t *testing.T) {
	c := NewLiteral([]uint32{2, 4, 6, 8})
	c.SkipTo(5)
	if !c.Valid() || c.ID() != 6 {
		t.Fatalf("expected skip_to(5) to land on 6, got valid=%v id=%v", c.Valid(), c.ID())
	}
}

func TestAndCursorEmptyIntersection(t *testing.T) {
	a := NewBitmapCursor(roaring.BitmapOf(1, 2))
	b := NewBitmapCursor(roaring.BitmapOf(3, 4))
	if NewAnd(a, b).Valid() {
		t.Fatal("expected empty intersection to be invalid")
	}
}
