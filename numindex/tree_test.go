package numindex

import (
	"math"
	"testing"
)

func TestPackFloatOrdering(t *testing.T) {
	vals := []float64{-100.5, -1, -0.001, 0, 0.001, 1, 100.5}
	for i := 1; i < len(vals); i++ {
		if PackFloat(vals[i-1]) >= PackFloat(vals[i]) {
			t.Fatalf("pack(%v) >= pack(%v), want strictly increasing", vals[i-1], vals[i])
		}
	}
	if PackFloat(math.Inf(-1)) >= PackFloat(math.Inf(1)) {
		t.Fatal("-Inf should pack below +Inf")
	}
}

func TestEqualsAndNotEquals(t *testing.T) {
	tr := New()
	tr.Insert(10, 1)
	tr.Insert(10, 2)
	tr.Insert(20, 3)

	eq := tr.Equals(10)
	if eq.GetCardinality() != 2 || !eq.Contains(1) || !eq.Contains(2) {
		t.Fatalf("unexpected equals set: %v", eq.ToArray())
	}

	ne := tr.NotEquals(10)
	if ne.GetCardinality() != 1 || !ne.Contains(3) {
		t.Fatalf("unexpected not-equals set: %v", ne.ToArray())
	}
}

func TestRangeInclusiveExclusive(t *testing.T) {
	tr := New()
	for _, v := range []int64{1, 2, 3, 4, 5} {
		tr.Insert(v, uint32(v))
	}
	in := tr.Range(2, 4, true, true)
	if in.ToArray()[0] != 2 || in.GetCardinality() != 3 {
		t.Fatalf("inclusive range wrong: %v", in.ToArray())
	}
	ex := tr.Range(2, 4, false, false)
	if ex.GetCardinality() != 1 || !ex.Contains(3) {
		t.Fatalf("exclusive range wrong: %v", ex.ToArray())
	}
}

func TestGreaterLessOpenClosed(t *testing.T) {
	tr := New()
	for _, v := range []int64{1, 2, 3, 4, 5} {
		tr.Insert(v, uint32(v))
	}
	gt := tr.GreaterThan(3, false)
	if gt.GetCardinality() != 2 {
		t.Fatalf("gt(3) wrong: %v", gt.ToArray())
	}
	gte := tr.GreaterThan(3, true)
	if gte.GetCardinality() != 3 {
		t.Fatalf("gte(3) wrong: %v", gte.ToArray())
	}
	lt := tr.LessThan(3, false)
	if lt.GetCardinality() != 2 {
		t.Fatalf("lt(3) wrong: %v", lt.ToArray())
	}
	lte := tr.LessThan(3, true)
	if lte.GetCardinality() != 3 {
		t.Fatalf("lte(3) wrong: %v", lte.ToArray())
	}
}

func TestDeleteDropsEmptyNode(t *testing.T) {
	tr := New()
	tr.Insert(5, 1)
	tr.Delete(5, 1)
	if tr.Equals(5).GetCardinality() != 0 {
		t.Fatal("expected node to be empty after deleting its only id")
	}
	tr.RemoveDoc(1)
	if tr.All().GetCardinality() != 0 {
		t.Fatal("expected all_ids empty after RemoveDoc")
	}
}

func TestBoolPacking(t *testing.T) {
	if PackBool(true) != 1 || PackBool(false) != 0 {
		t.Fatal("bool packing must be {0,1}")
	}
}
