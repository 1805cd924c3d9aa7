package filter

import (
	"testing"

	"github.com/mizusearch/core/types"
)

func TestParseLeafOperators(t *testing.T) {
	tests := []struct {
		expr   string
		cmp    types.Comparator
		values []string
		negate bool
	}{
		{"year:1922", types.CmpEq, []string{"1922"}, false},
		{"brand:=nike", types.CmpEq, []string{"nike"}, false},
		{"brand:!=nike", types.CmpEq, []string{"nike"}, true},
		{"points:>100", types.CmpGt, []string{"100"}, false},
		{"points:>=100", types.CmpGte, []string{"100"}, false},
		{"points:<100", types.CmpLt, []string{"100"}, false},
		{"points:<=100", types.CmpLte, []string{"100"}, false},
		{"year:[1990..2000]", types.CmpRange, []string{"1990", "2000"}, false},
		{"brand:=[nike, adidas]", types.CmpIn, []string{"nike", "adidas"}, false},
	}
	for _, tc := range tests {
		node, err := Parse(tc.expr)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.expr, err)
		}
		if !node.IsLeaf() {
			t.Fatalf("Parse(%q): expected leaf", tc.expr)
		}
		if node.Comparator != tc.cmp || node.Negate != tc.negate {
			t.Fatalf("Parse(%q): got cmp=%v negate=%v", tc.expr, node.Comparator, node.Negate)
		}
		if len(node.Values) != len(tc.values) {
			t.Fatalf("Parse(%q): got values %v, want %v", tc.expr, node.Values, tc.values)
		}
		for i := range tc.values {
			if node.Values[i] != tc.values[i] {
				t.Fatalf("Parse(%q): got values %v, want %v", tc.expr, node.Values, tc.values)
			}
		}
	}
}

func TestParsePrecedenceAndGrouping(t *testing.T) {
	// && binds tighter: a || b && c parses as a || (b && c).
	node, err := Parse("brand:nike || brand:adidas && points:>50")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if node.Op != types.Or {
		t.Fatalf("expected top-level OR, got %v", node.Op)
	}
	if node.Right.Op != types.And {
		t.Fatalf("expected right side AND, got %v", node.Right.Op)
	}

	// Parentheses override: (a || b) && c.
	node, err = Parse("(brand:nike || brand:adidas) && points:>50")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if node.Op != types.And {
		t.Fatalf("expected top-level AND, got %v", node.Op)
	}
	if node.Left.Op != types.Or {
		t.Fatalf("expected left side OR, got %v", node.Left.Op)
	}
}

func TestParseReference(t *testing.T) {
	node, err := Parse("$Brands(country:usa && active:true)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if node.ReferenceCollection != "Brands" {
		t.Fatalf("got reference collection %q", node.ReferenceCollection)
	}
	if node.ReferenceFilter == nil || node.ReferenceFilter.Op != types.And {
		t.Fatalf("got reference filter %+v", node.ReferenceFilter)
	}
}

func TestParseGeo(t *testing.T) {
	node, err := Parse("loc:(48.90, 2.39, 5.1 km)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if node.Comparator != types.CmpGeoRadius || node.GeoRadius == nil {
		t.Fatalf("got %+v", node)
	}
	if node.GeoRadius.Center.Lat != 48.90 || node.GeoRadius.RadiusKM != 5.1 {
		t.Fatalf("got radius filter %+v", node.GeoRadius)
	}

	node, err = Parse("loc:(0, 0, 0, 10, 10, 10, 10, 0)")
	if err != nil {
		t.Fatalf("Parse polygon: %v", err)
	}
	if node.Comparator != types.CmpGeoPolygon || len(node.GeoPolygon.Vertices) != 4 {
		t.Fatalf("got polygon filter %+v", node.GeoPolygon)
	}
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"brand:",
		"(brand:nike",
		"$Brands country:usa",
		"year:[1990..2000",
		"brand:nike &&",
	} {
		if _, err := Parse(expr); err == nil {
			t.Fatalf("Parse(%q): expected error", expr)
		}
	}
}
