package topk

import (
	"testing"

	"github.com/mizusearch/core/types"
)

func entry(seqID uint32, score int64) types.TopKEntry {
	return types.TopKEntry{SeqID: types.SeqID(seqID), SortScores: [3]int64{score, 0, 0}}
}

func TestTopKKeepsHighestScores(t *testing.T) {
	tk := NewTopK(2)
	tk.Offer(entry(1, 10))
	tk.Offer(entry(2, 30))
	tk.Offer(entry(3, 20))
	tk.Offer(entry(4, 5))

	got := tk.Results()
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].SeqID != 2 || got[1].SeqID != 3 {
		t.Fatalf("expected [2,3] best-first, got %+v", got)
	}
}

func TestTopKTieBreaksBySeqIDDescending(t *testing.T) {
	tk := NewTopK(1)
	tk.Offer(entry(5, 10))
	tk.Offer(entry(9, 10))
	got := tk.Results()
	if got[0].SeqID != 9 {
		t.Fatalf("expected tie to favor higher seq_id, got %+v", got)
	}
}

func TestHashGroupKeyStableAndDistinguishing(t *testing.T) {
	a := HashGroupKey([]string{"red", "small"})
	b := HashGroupKey([]string{"red", "small"})
	c := HashGroupKey([]string{"red", "large"})
	if a != b {
		t.Fatal("expected identical inputs to hash identically")
	}
	if a == c {
		t.Fatal("expected different inputs to hash differently")
	}
}

func TestGroupedTopK(t *testing.T) {
	g := NewGroupedTopK(2, 2)
	red := HashGroupKey([]string{"red"})
	blue := HashGroupKey([]string{"blue"})
	green := HashGroupKey([]string{"green"})

	offer := func(key uint64, seqID uint32, score int64) {
		e := entry(seqID, score)
		e.DistinctKey = key
		e.HasDistinct = true
		g.Offer(e)
	}
	offer(red, 1, 100)
	offer(red, 2, 90)
	offer(red, 3, 80) // exceeds red's group_limit of 2, should be dropped (lowest)
	offer(blue, 4, 50)
	offer(green, 5, 10) // should not make the outer top-2 groups

	groups := g.Results()
	if len(groups) != 2 {
		t.Fatalf("expected top 2 groups, got %d", len(groups))
	}
	if groups[0].DistinctKey != red {
		t.Fatal("expected red group to rank first")
	}
	if len(groups[0].Entries) != 2 {
		t.Fatalf("expected red group capped at group_limit 2, got %d", len(groups[0].Entries))
	}
	if groups[1].DistinctKey != blue {
		t.Fatal("expected blue group to be the second-best group")
	}
}
