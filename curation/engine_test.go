package curation

import (
	"testing"
	"time"

	"github.com/mizusearch/core/types"
)

func docOf(id string) *types.Document { return &types.Document{ID: id} }

func TestExactMatchIncludesPinOrdering(t *testing.T) {
	e := New()
	e.Add(Rule{
		ID:    "r1",
		Query: "in",
		Match: MatchExact,
		Includes: []Include{
			{DocID: "0", Position: 1},
			{DocID: "3", Position: 2},
		},
	})

	out := e.Evaluate("in", time.Now(), nil)
	if len(out.Includes) != 2 {
		t.Fatalf("expected 2 includes, got %d", len(out.Includes))
	}

	result := &types.SearchResult{Hits: []types.Hit{
		{Document: docOf("9")},
		{Document: docOf("8")},
	}}
	Apply(out, result, docOf)

	if len(result.Hits) < 2 || result.Hits[0].Document.ID != "0" || result.Hits[1].Document.ID != "3" {
		t.Fatalf("expected [0, 3, ...], got %+v", result.Hits)
	}
}

func TestExcludeDropsHiddenHit(t *testing.T) {
	e := New()
	e.Add(Rule{ID: "hide-1", Query: "shoes", Match: MatchContains, Excludes: []string{"bad-1"}})

	out := e.Evaluate("running shoes", time.Now(), nil)
	result := &types.SearchResult{Hits: []types.Hit{
		{Document: docOf("good-1")},
		{Document: docOf("bad-1")},
	}}
	Apply(out, result, docOf)

	if len(result.Hits) != 1 || result.Hits[0].Document.ID != "good-1" {
		t.Fatalf("expected bad-1 excluded, got %+v", result.Hits)
	}
}

func TestStopProcessingSkipsLaterRules(t *testing.T) {
	e := New()
	e.Add(Rule{ID: "first", Query: "shoes", Match: MatchContains, Includes: []Include{{DocID: "a", Position: 1}}, StopProcessing: true})
	e.Add(Rule{ID: "second", Query: "shoes", Match: MatchContains, Includes: []Include{{DocID: "b", Position: 1}}})

	out := e.Evaluate("shoes", time.Now(), nil)
	if out.Includes[1] != "a" {
		t.Fatalf("expected first rule's pin to win once stop_processing halts evaluation, got %q", out.Includes[1])
	}
	if len(out.MatchedRuleIDs) != 1 {
		t.Fatalf("expected only the first rule to be recorded as matched, got %v", out.MatchedRuleIDs)
	}
}

func TestLaterRuleWinsOnDuplicatePosition(t *testing.T) {
	e := New()
	e.Add(Rule{ID: "first", Query: "shoes", Match: MatchContains, Includes: []Include{{DocID: "a", Position: 1}}})
	e.Add(Rule{ID: "second", Query: "shoes", Match: MatchContains, Includes: []Include{{DocID: "b", Position: 1}}})

	out := e.Evaluate("shoes", time.Now(), nil)
	if out.Includes[1] != "b" {
		t.Fatalf("expected later-declared rule to win the duplicate position, got %q", out.Includes[1])
	}
}

func TestTemplateMatchBindsPlaceholder(t *testing.T) {
	e := New()
	e.Add(Rule{
		ID:           "tmpl",
		Query:        "shoes for {size}",
		ReplaceQuery: "shoes-{size}",
	})

	out := e.Evaluate("shoes for 10", time.Now(), nil)
	if !out.HasReplaceQuery || out.ReplaceQuery != "shoes-10" {
		t.Fatalf("expected template expansion to bind {size}=10, got %q", out.ReplaceQuery)
	}
}

func TestEffectiveWindowExcludesOutOfRangeRule(t *testing.T) {
	e := New()
	past := time.Now().Add(-48 * time.Hour)
	pastEnd := time.Now().Add(-24 * time.Hour)
	e.Add(Rule{ID: "expired", Query: "shoes", Match: MatchContains, EffectiveFrom: past, EffectiveTo: pastEnd, Includes: []Include{{DocID: "a", Position: 1}}})

	out := e.Evaluate("shoes", time.Now(), nil)
	if len(out.Includes) != 0 {
		t.Fatalf("expected expired rule to be skipped, got %v", out.Includes)
	}
}

func TestTagRestrictedRuleOnlyMatchesWithTag(t *testing.T) {
	e := New()
	e.Add(Rule{ID: "tagged", Query: "shoes", Match: MatchContains, Tags: []string{"summer-sale"}, Includes: []Include{{DocID: "a", Position: 1}}})

	if out := e.Evaluate("shoes", time.Now(), nil); len(out.Includes) != 0 {
		t.Fatalf("expected no match without the rule's tag, got %v", out.Includes)
	}
	if out := e.Evaluate("shoes", time.Now(), []string{"summer-sale"}); len(out.Includes) != 1 {
		t.Fatalf("expected a match once the request carries the rule's tag, got %v", out.Includes)
	}
}
