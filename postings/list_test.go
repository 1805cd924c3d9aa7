package postings

import "testing"

func ids(es []Entry) []uint32 {
	out := make([]uint32, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func equalIDs(t *testing.T, got []uint32, want []uint32) {
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

func TestUpsertThenContains(t *testing.T) {
	l := New(0, 0)
	for i := uint32(0); i < 500; i++ {
		l.Upsert(i, []uint32{i})
	}
	for i := uint32(0); i < 500; i++ {
		if !l.Contains(i) {
			t.Fatalf("expected list to contain %d", i)
		}
		it := l.NewIterator()
		it.SkipTo(i)
		if !it.Valid() || it.ID() != i {
			t.Fatalf("skip_to(%d) landed on wrong id", i)
		}
	}
}

func TestCompactChainedBoundary(t *testing.T) {
	l := New(0, 0)
	for i := uint32(0); i < 64; i++ {
		l.Upsert(i, nil)
	}
	if l.kind != KindCompact {
		t.Fatalf("expected compact form at 64 entries")
	}
	l.Upsert(64, nil)
	if l.kind != KindChained {
		t.Fatalf("expected chained form after crossing 64 entries")
	}
	if l.Len() != 65 {
		t.Fatalf("len = %d, want 65", l.Len())
	}
}

func TestBlockSplitOnGlobalMax(t *testing.T) {
	l := New(8, 4) // tiny block size to exercise splitting cheaply
	for i := uint32(0); i < 20; i++ {
		l.Upsert(i, nil)
	}
	l.Upsert(1000, nil) // global max, should land in or create the tail block
	if !l.Contains(1000) {
		t.Fatal("expected list to contain the global max id")
	}
	var blocks int
	for b := l.root; b != nil; b = b.next {
		blocks++
		if b.size() > l.blockMax {
			t.Fatalf("block exceeds blockMax: %d > %d", b.size(), l.blockMax)
		}
	}
	if blocks < 2 {
		t.Fatalf("expected split to have produced multiple blocks, got %d", blocks)
	}
}

func TestEraseMergesAndDemotes(t *testing.T) {
	l := New(8, 4)
	for i := uint32(0); i < 20; i++ {
		l.Upsert(i, nil)
	}
	for i := uint32(0); i < 18; i++ {
		l.Erase(i)
	}
	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
	if l.kind != KindCompact {
		t.Fatalf("expected demotion back to compact form, got kind=%v", l.kind)
	}
}

func TestIntersectTwoAndN(t *testing.T) {
	a := New(0, 0)
	b := New(0, 0)
	c := New(0, 0)
	for _, v := range []uint32{1, 2, 3, 4, 5} {
		a.Upsert(v, []uint32{v})
	}
	for _, v := range []uint32{2, 3, 5, 7} {
		b.Upsert(v, []uint32{v + 100})
	}
	for _, v := range []uint32{2, 3, 5, 9} {
		c.Upsert(v, []uint32{v + 200})
	}

	two := Intersect(a, b)
	equalIDs(t, ids(two), []uint32{2, 3, 5})
	if len(two[0].Offsets) != 2 {
		t.Fatalf("expected concatenated offsets, got %v", two[0].Offsets)
	}

	three := Intersect(a, b, c)
	equalIDs(t, ids(three), []uint32{2, 3, 5})
	if len(three[0].Offsets) != 3 {
		t.Fatalf("expected 3-way concatenated offsets, got %v", three[0].Offsets)
	}
}

func TestUnion(t *testing.T) {
	a := New(0, 0)
	b := New(0, 0)
	for _, v := range []uint32{1, 3, 5} {
		a.Upsert(v, nil)
	}
	for _, v := range []uint32{2, 3, 6} {
		b.Upsert(v, nil)
	}
	u := Union(a, b)
	equalIDs(t, ids(u), []uint32{1, 2, 3, 5, 6})
}

func TestExactAndPhraseMatch(t *testing.T) {
	// doc 1, field "title" = "tom sawyer" (2 tokens, scalar field).
	tom := New(0, 0)
	sawyer := New(0, 0)
	tom.Upsert(1, EncodeOccurrences([]Occurrence{{Offset: 0, LastToken: false}}))
	sawyer.Upsert(1, EncodeOccurrences([]Occurrence{{Offset: 1, LastToken: true}}))

	if !ExactMatch([]*List{tom, sawyer}, 1) {
		t.Fatal("expected exact match for full two-token title")
	}
	if !PhraseMatch([]*List{tom, sawyer}, 1) {
		t.Fatal("expected phrase match too")
	}

	// doc 2: "tom" appears but not followed immediately by "sawyer".
	tom.Upsert(2, EncodeOccurrences([]Occurrence{{Offset: 0}}))
	sawyer.Upsert(2, EncodeOccurrences([]Occurrence{{Offset: 5, LastToken: true}}))
	if ExactMatch([]*List{tom, sawyer}, 2) {
		t.Fatal("did not expect exact match for doc 2")
	}
	if PhraseMatch([]*List{tom, sawyer}, 2) {
		t.Fatal("did not expect phrase match for doc 2")
	}
}

func TestIdempotentUpsert(t *testing.T) {
	l := New(0, 0)
	doc := func() {
		l.Upsert(5, []uint32{1, 2, 3})
	}
	doc()
	before := l.NewIterator()
	before.SkipTo(5)
	beforeOffs := append([]uint32(nil), before.Offsets()...)
	doc()
	after := l.NewIterator()
	after.SkipTo(5)
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	equalIDs(t, []uint32{uint32(len(beforeOffs))}, []uint32{uint32(len(after.Offsets()))})
}
