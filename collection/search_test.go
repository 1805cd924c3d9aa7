package collection

import (
	"testing"
	"time"

	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/config"
	"github.com/mizusearch/core/curation"
	"github.com/mizusearch/core/types"
)

func vectorSchema() types.CollectionSchema {
	return types.CollectionSchema{
		Name: "items",
		Fields: []types.FieldSchema{
			{Name: "id", Type: types.FieldString, Index: true},
			{Name: "title", Type: types.FieldString, Index: true},
			{Name: "embedding", Type: types.FieldVector, VectorDim: 4, VectorDistance: types.DistanceL2},
		},
	}
}

func TestSearchVectorQueryOrdersByDistance(t *testing.T) {
	cfg := config.Default()
	cfg.NumMemoryShards = 1
	c := New(vectorSchema(), cfg, nil)

	seed := []struct {
		id  string
		vec []any
	}{
		{"0", []any{0.85, 0.90, 0.82, 0.37}},
		{"1", []any{0.97, 0.93, 0.39, 0.30}},
		{"2", []any{0.23, 0.63, 0.51, 0.39}},
	}
	for _, d := range seed {
		if _, err := c.Add(map[string]any{
			"id": d.id, "title": "item " + d.id, "embedding": d.vec,
		}, types.Create, types.CoerceOrReject); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	req := &types.SearchRequest{
		Q:       "*",
		QueryBy: []string{"title"},
		Vector: &types.VectorQuery{
			Field:  "embedding",
			Vector: []float32{0.96, 0.94, 0.39, 0.30},
			K:      3,
		},
		PerPage: 10,
		Page:    1,
	}
	res, err := c.Search(req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(res.Hits))
	}
	got := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		got[i] = h.Document.ID
	}
	want := []string{"1", "0", "2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func phrasesSchema() types.CollectionSchema {
	return types.CollectionSchema{
		Name: "phrases",
		Fields: []types.FieldSchema{
			{Name: "id", Type: types.FieldString, Index: true},
			{Name: "title", Type: types.FieldString, Index: true},
		},
	}
}

func TestSearchSynonymRuleMatchesAlternateTerm(t *testing.T) {
	cfg := config.Default()
	cfg.NumMemoryShards = 1
	c := New(phrasesSchema(), cfg, nil)
	c.Synonyms = []types.SynonymRule{
		{ID: "s1", Root: "smart phone", Synonyms: []string{"iphone"}},
	}

	if _, err := c.Add(map[string]any{"id": "1", "title": "iphone"}, types.Create, types.CoerceOrReject); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := c.Search(&types.SearchRequest{
		Q: "smart phone", QueryBy: []string{"title"}, PerPage: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Found != 1 {
		t.Fatalf("expected synonym expansion to match \"iphone\", got %d hits", res.Found)
	}
}

func curationSchema() types.CollectionSchema {
	return types.CollectionSchema{
		Name: "curated",
		Fields: []types.FieldSchema{
			{Name: "id", Type: types.FieldString, Index: true},
			{Name: "title", Type: types.FieldString, Index: true},
		},
	}
}

func TestSearchCurationPinning(t *testing.T) {
	cfg := config.Default()
	cfg.NumMemoryShards = 1
	c := New(curationSchema(), cfg, nil)

	for _, d := range []map[string]any{
		{"id": "0", "title": "in the beginning"},
		{"id": "1", "title": "in a galaxy far away"},
		{"id": "2", "title": "inline skating"},
		{"id": "3", "title": "interest rates rising"},
	} {
		if _, err := c.Add(d, types.Create, types.CoerceOrReject); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	c.Curation.Add(curation.Rule{
		ID:    "r1",
		Query: "in",
		Match: curation.MatchExact,
		Includes: []curation.Include{
			{DocID: "0", Position: 1},
			{DocID: "3", Position: 2},
		},
	})

	res, err := c.Search(&types.SearchRequest{
		Q: "in", QueryBy: []string{"title"}, PerPage: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) < 2 {
		t.Fatalf("expected at least 2 hits, got %d", len(res.Hits))
	}
	if res.Hits[0].Document.ID != "0" {
		t.Fatalf("expected doc 0 pinned first, got %v", res.Hits[0].Document.ID)
	}
	if res.Hits[1].Document.ID != "3" {
		t.Fatalf("expected doc 3 pinned second, got %v", res.Hits[1].Document.ID)
	}
}

type constantEmbedder struct {
	vecs map[string][]float32
}

func (e *constantEmbedder) Embed(text string) ([]float32, error) {
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 0}, nil
}

func TestSearchHybridAutoEmbedRanksExactTermFirst(t *testing.T) {
	cfg := config.Default()
	cfg.NumMemoryShards = 1
	c := New(types.CollectionSchema{
		Name: "fruit",
		Fields: []types.FieldSchema{
			{Name: "id", Type: types.FieldString, Index: true},
			{Name: "name", Type: types.FieldString, Index: true},
			{Name: "embedding", Type: types.FieldVector, VectorDim: 2, VectorDistance: types.DistanceL2},
		},
	}, cfg, nil)

	c.Embedder = &constantEmbedder{vecs: map[string][]float32{
		"butter": {1, 1},
	}}

	seed := []struct {
		id, name string
		vec      []any
	}{
		{"1", "butter", []any{1, 1}},
		{"2", "butterball", []any{1, 2}},
		{"3", "butterfly", []any{5, 5}},
	}
	for _, d := range seed {
		if _, err := c.Add(map[string]any{
			"id": d.id, "name": d.name, "embedding": d.vec,
		}, types.Create, types.CoerceOrReject); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	res, err := c.Search(&types.SearchRequest{
		Q: "butter", QueryBy: []string{"name"},
		Vector:  &types.VectorQuery{Field: "embedding", K: 3},
		PerPage: 10, Page: 1,
		Deadline: WithDeadline(5 * time.Second),
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) == 0 {
		t.Fatal("expected hits")
	}
	if res.Hits[0].Document.ID != "1" {
		t.Fatalf("expected exact term \"butter\" to rank first, got %v", res.Hits[0].Document.ID)
	}
}

func shopSchema() types.CollectionSchema {
	return types.CollectionSchema{
		Name: "shop",
		Fields: []types.FieldSchema{
			{Name: "id", Type: types.FieldString, Index: true},
			{Name: "name", Type: types.FieldString, Index: true},
			{Name: "brand", Type: types.FieldString, Index: true, Facet: true},
			{Name: "price", Type: types.FieldInt32, Index: true, Sort: true},
		},
	}
}

func seedShop(t *testing.T) *Collection {
	t.Helper()
	cfg := config.Default()
	cfg.NumMemoryShards = 1
	c := New(shopSchema(), cfg, nil)
	for _, d := range []map[string]any{
		{"id": "0", "name": "air max sneaker", "brand": "nike", "price": 120},
		{"id": "1", "name": "air force sneaker", "brand": "nike", "price": 110},
		{"id": "2", "name": "gazelle sneaker", "brand": "adidas", "price": 90},
		{"id": "3", "name": "samba sneaker", "brand": "adidas", "price": 95},
		{"id": "4", "name": "classic leather sneaker", "brand": "reebok", "price": 80},
	} {
		if _, err := c.Add(d, types.Create, types.CoerceOrReject); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return c
}

func TestSearchGroupByCollapsesPerBrand(t *testing.T) {
	c := seedShop(t)
	res, err := c.Search(&types.SearchRequest{
		Q: "sneaker", QueryBy: []string{"name"},
		GroupBy: []string{"brand"}, GroupLimit: 1,
		PerPage: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.GroupedHits) != 3 {
		t.Fatalf("expected 3 brand groups, got %d", len(res.GroupedHits))
	}
	seen := make(map[string]bool)
	for _, g := range res.GroupedHits {
		if len(g.GroupKey) != 1 {
			t.Fatalf("expected 1-element group key, got %v", g.GroupKey)
		}
		if len(g.Hits) != 1 {
			t.Fatalf("group %v: expected group_limit=1 hit, got %d", g.GroupKey, len(g.Hits))
		}
		seen[g.GroupKey[0]] = true
	}
	for _, brand := range []string{"nike", "adidas", "reebok"} {
		if !seen[brand] {
			t.Fatalf("missing group for %q (got %v)", brand, seen)
		}
	}
}

func TestSearchPagination(t *testing.T) {
	c := seedShop(t)
	page1, err := c.Search(&types.SearchRequest{
		Q: "sneaker", QueryBy: []string{"name"}, PerPage: 2, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search page 1: %v", err)
	}
	page2, err := c.Search(&types.SearchRequest{
		Q: "sneaker", QueryBy: []string{"name"}, PerPage: 2, Page: 2,
	})
	if err != nil {
		t.Fatalf("Search page 2: %v", err)
	}
	if page1.Found != 5 || page2.Found != 5 {
		t.Fatalf("expected found=5 on both pages, got %d and %d", page1.Found, page2.Found)
	}
	if len(page1.Hits) != 2 || len(page2.Hits) != 2 {
		t.Fatalf("expected 2 hits per page, got %d and %d", len(page1.Hits), len(page2.Hits))
	}
	if page1.Hits[0].Document.ID == page2.Hits[0].Document.ID {
		t.Fatal("pages must not overlap")
	}
	if page2.Page != 2 {
		t.Fatalf("got page %d", page2.Page)
	}
}

func TestSearchPerPageCapacity(t *testing.T) {
	c := seedShop(t)
	_, err := c.Search(&types.SearchRequest{
		Q: "sneaker", QueryBy: []string{"name"}, PerPage: 300, Page: 1,
	})
	if !cerr.Is(err, cerr.CodeCapacity) {
		t.Fatalf("expected capacity error for per_page=300, got %v", err)
	}
}

func TestSearchFieldProjection(t *testing.T) {
	c := seedShop(t)
	res, err := c.Search(&types.SearchRequest{
		Q: "sneaker", QueryBy: []string{"name"},
		IncludeFields: []string{"name"},
		PerPage:       10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) == 0 {
		t.Fatal("expected hits")
	}
	doc := res.Hits[0].Document
	if _, ok := doc.Raw["name"]; !ok {
		t.Fatal("projection dropped an included field")
	}
	if _, ok := doc.Raw["id"]; !ok {
		t.Fatal("projection must keep id")
	}
	if _, ok := doc.Raw["brand"]; ok {
		t.Fatal("projection leaked a non-included field")
	}
	if full, err := c.Get(doc.ID); err != nil || len(full.Raw) <= len(doc.Raw) {
		t.Fatalf("stored document must stay unprojected (err=%v)", err)
	}
}

func TestSearchFacetQueryFiltersValues(t *testing.T) {
	c := seedShop(t)
	res, err := c.Search(&types.SearchRequest{
		Q: "sneaker", QueryBy: []string{"name"},
		FacetBy: []string{"brand"}, FacetQuery: "brand:adi",
		PerPage: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.FacetCounts) != 1 {
		t.Fatalf("expected 1 facet field, got %d", len(res.FacetCounts))
	}
	counts := res.FacetCounts[0].Counts
	if len(counts) != 1 || counts[0].Value != "adidas" || counts[0].Count != 2 {
		t.Fatalf("expected only adidas:2, got %+v", counts)
	}
}

func TestSearchExcludeToken(t *testing.T) {
	c := seedShop(t)
	res, err := c.Search(&types.SearchRequest{
		Q: "sneaker -air", QueryBy: []string{"name"}, PerPage: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Found != 3 {
		t.Fatalf("expected 3 hits after excluding \"air\", got %d", res.Found)
	}
	for _, h := range res.Hits {
		if h.Document.ID == "0" || h.Document.ID == "1" {
			t.Fatalf("doc %s contains excluded token", h.Document.ID)
		}
	}
}

func TestSearchPhraseRequiresAdjacency(t *testing.T) {
	cfg := config.Default()
	cfg.NumMemoryShards = 1
	c := New(phrasesSchema(), cfg, nil)
	for _, d := range []map[string]any{
		{"id": "1", "title": "smart phone case"},
		{"id": "2", "title": "phone with smart assistant"},
	} {
		if _, err := c.Add(d, types.Create, types.CoerceOrReject); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	res, err := c.Search(&types.SearchRequest{
		Q: `"smart phone"`, QueryBy: []string{"title"}, PerPage: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Document.ID != "1" {
		t.Fatalf("expected only the adjacent phrase to match, got %+v", res.Hits)
	}
}

func TestSearchHighlight(t *testing.T) {
	c := seedShop(t)
	res, err := c.Search(&types.SearchRequest{
		Q: "gazelle", QueryBy: []string{"name"}, PerPage: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(res.Hits))
	}
	got := res.Hits[0].Highlight["name"]
	if got != "<mark>gazelle</mark> sneaker" {
		t.Fatalf("got highlight %q", got)
	}
}

func TestSearchPrefixMatchesTrailingToken(t *testing.T) {
	c := seedShop(t)
	strict, err := c.Search(&types.SearchRequest{
		Q: "sneak", QueryBy: []string{"name"}, PerPage: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if strict.Found != 0 {
		t.Fatalf("expected no hits without prefix search, got %d", strict.Found)
	}

	res, err := c.Search(&types.SearchRequest{
		Q: "sneak", QueryBy: []string{"name"}, Prefix: []bool{true},
		PerPage: 10, Page: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Found != 5 {
		t.Fatalf("expected prefix search to reach all 5 docs, got %d", res.Found)
	}
}
