package search

import (
	"testing"

	"github.com/mizusearch/core/config"
	"github.com/mizusearch/core/postings"
	"github.com/mizusearch/core/text"
	"github.com/mizusearch/core/types"
)

func buildTitleField(t *testing.T) FieldSource {
	t.Helper()
	trie := text.New()
	lists := map[string]*postings.List{}
	addDoc := func(docID uint32, title string) {
		toks := text.Tokenize(title)
		for i, tok := range toks {
			trie.Add(tok)
			l, ok := lists[tok]
			if !ok {
				l = postings.New(0, 0)
				lists[tok] = l
			}
			l.Upsert(docID, postings.EncodeOccurrences([]postings.Occurrence{
				{Offset: uint32(i), LastToken: i == len(toks)-1},
			}))
		}
	}
	addDoc(1, "tom sawyer")
	addDoc(2, "huckleberry finn")

	return FieldSource{
		Name:     "title",
		Priority: 1,
		Trie:     trie,
		PostingsFor: func(tok string) *postings.List {
			if l, ok := lists[tok]; ok {
				return l
			}
			return nil
		},
		NumTypos: 2,
	}
}

func TestRunExactMatch(t *testing.T) {
	field := buildTitleField(t)
	o := New(config.Default())

	req := &Request{
		Parsed: &types.SearchRequest{Q: "tom sawyer", PerPage: 10, Page: 1},
		Fields: []FieldSource{field},
		MaxSeqID: 3,
	}
	result, err := o.Run(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Found == 0 {
		t.Fatal("expected at least one hit")
	}
	found := false
	for _, h := range result.Hits {
		if h.TextMatchScore > 0 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a positively scored hit for an exact query")
	}
}

func TestRunWildcardMatchesEverything(t *testing.T) {
	field := buildTitleField(t)
	o := New(config.Default())

	req := &Request{
		Parsed:   &types.SearchRequest{Q: "*", PerPage: 10, Page: 1},
		Fields:   []FieldSource{field},
		MaxSeqID: 3,
	}
	result, err := o.Run(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Found != 3 {
		t.Fatalf("expected all 3 seq_ids to match wildcard, got %d", result.Found)
	}
}

func TestRunTypoToleratesOneEdit(t *testing.T) {
	field := buildTitleField(t)
	o := New(config.Default())

	req := &Request{
		Parsed:   &types.SearchRequest{Q: "tom sawer", PerPage: 10, Page: 1}, // missing a 'y'
		Fields:   []FieldSource{field},
		MaxSeqID: 3,
	}
	result, err := o.Run(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Found == 0 {
		t.Fatal("expected typo-tolerant match to still find doc 1")
	}
}

func TestParseQueryMarkers(t *testing.T) {
	include, exclude, phrases := parseQueryMarkers(`red "running shoes" -leather`)
	wantInclude := []string{"red", "running", "shoes"}
	if len(include) != len(wantInclude) {
		t.Fatalf("got include %v", include)
	}
	for i := range wantInclude {
		if include[i] != wantInclude[i] {
			t.Fatalf("got include %v, want %v", include, wantInclude)
		}
	}
	if len(exclude) != 1 || exclude[0] != "leather" {
		t.Fatalf("got exclude %v", exclude)
	}
	if len(phrases) != 1 || len(phrases[0]) != 2 || phrases[0][0] != "running" || phrases[0][1] != "shoes" {
		t.Fatalf("got phrases %v", phrases)
	}
}

func TestSlicePageWindows(t *testing.T) {
	hits := make([]types.Hit, 5)
	req := &types.SearchRequest{PerPage: 2, Page: 2}
	got := slicePage(hits, req)
	if len(got) != 2 {
		t.Fatalf("got %d hits", len(got))
	}
	req.Page = 4
	if got := slicePage(hits, req); got != nil {
		t.Fatalf("expected empty page past the end, got %d", len(got))
	}
}
