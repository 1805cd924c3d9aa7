package collection

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	geo "github.com/blevesearch/bleve/geo"
	"github.com/cespare/xxhash/v2"

	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/curation"
	"github.com/mizusearch/core/filter"
	"github.com/mizusearch/core/numindex"
	"github.com/mizusearch/core/postings"
	"github.com/mizusearch/core/search"
	"github.com/mizusearch/core/text"
	"github.com/mizusearch/core/topk"
	"github.com/mizusearch/core/types"
	"github.com/mizusearch/core/vectorindex"
)

// Search runs the full search pipeline against this collection: curation
// rule evaluation and query/filter rewriting, filter-tree compilation,
// the query orchestrator (text + optional hybrid vector fusion), facet
// counting, and finally pinning/hiding the result around the curation
// outcome and any request-level pinned_hits/hidden_hits.
func (c *Collection) Search(req *types.SearchRequest) (*types.SearchResult, error) {
	started := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	parsed := *req
	if c.cfg.MaxResultWindow > 0 && parsed.PerPage > c.cfg.MaxResultWindow {
		return nil, cerr.Capacity("per_page %d exceeds the maximum of %d", parsed.PerPage, c.cfg.MaxResultWindow)
	}

	outcome := c.Curation.Evaluate(parsed.Q, started, parsed.OverrideTags)
	mergeRequestOverrides(&outcome, &parsed)
	if outcome.HasReplaceQuery {
		parsed.Q = outcome.ReplaceQuery
	}
	if outcome.RemoveMatchedTokens {
		parsed.Q = stripMatchedTokens(parsed.Q, c.Curation.Rules(), outcome.MatchedRuleIDs)
	}

	filterNode := parsed.FilterBy
	if outcome.HasFilter {
		filterNode = outcome.FilterOverride
	}
	if len(outcome.SortBy) > 0 {
		parsed.SortBy = outcome.SortBy
	}
	if len(parsed.SortBy) == 0 && c.schema.DefaultSortingField != "" {
		// With no explicit sort_by, the schema's default sorting field
		// breaks text-score ties, descending.
		parsed.SortBy = []types.SortField{
			{Field: "_text_match", Desc: true},
			{Field: c.schema.DefaultSortingField, Desc: true},
		}
	}

	resolver := &collectionResolver{c: c}
	cursor, _, err := filter.Build(filterNode, resolver)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		// No filter: the candidate set is every live document, not the
		// whole seq_id range — deleted ids must stay invisible.
		cursor = filter.NewBitmapCursor(resolver.allIDs())
	}

	fields, err := c.resolveFieldSources(&parsed)
	if err != nil {
		return nil, err
	}

	vecBackend, err := c.resolveVectorQuery(&parsed)
	if err != nil {
		return nil, err
	}

	facets := make(map[string]search.FacetBackend, len(parsed.FacetBy))
	for _, name := range parsed.FacetBy {
		facets[name] = &mergedFacetBackend{shards: c.shards, field: name}
	}

	orchReq := &search.Request{
		Parsed:        &parsed,
		Fields:        fields,
		Filter:        cursor,
		MaxSeqID:      c.nextSeqID.Load(),
		Vector:        vecBackend,
		ExtraSort:     c.buildExtraSort(parsed.SortBy),
		Facets:        facets,
		Deadline:      parsed.Deadline,
		StopWords:     c.StopWords,
		SynonymGroups: c.expandSynonyms(parsed.Q, c.queryLocale(parsed.QueryBy)),
		ResolveDoc:    c.docForSeq,
	}
	if len(parsed.GroupBy) > 0 {
		groupBy := parsed.GroupBy
		orchReq.GroupKey = func(seqID types.SeqID) ([]string, uint64) {
			vals := make([]string, len(groupBy))
			if doc := c.docForSeq(seqID); doc != nil {
				for i, f := range groupBy {
					vals[i] = stringify(doc.Raw[f])
				}
			}
			return vals, topk.HashGroupKey(vals)
		}
	}

	orch := search.New(c.cfg)
	result, err := orch.Run(orchReq)
	if err != nil {
		return nil, err
	}

	curation.Apply(outcome, result, func(id string) *types.Document {
		seqID, ok := c.userIDToSeq[id]
		if !ok {
			return nil
		}
		if outcome.FilterCuratedHits && filterNode != nil {
			cur, _, err := filter.Build(filterNode, resolver)
			if err != nil || !matchesCursor(cur, uint32(seqID)) {
				return nil
			}
		}
		return c.docForSeq(seqID)
	})

	projectResult(result, parsed.IncludeFields, parsed.ExcludeFields)

	result.Page = parsed.Page
	result.SearchTimeMS = time.Since(started).Milliseconds()
	return result, nil
}

// projectResult applies the include_fields/exclude_fields projection
// to every hit's document, copying rather than mutating the stored
// document. "id" always survives projection so callers can still
// address the hit.
func projectResult(result *types.SearchResult, include, exclude []string) {
	if len(include) == 0 && len(exclude) == 0 {
		return
	}
	for i := range result.Hits {
		result.Hits[i].Document = projectDoc(result.Hits[i].Document, include, exclude)
	}
	for g := range result.GroupedHits {
		for i := range result.GroupedHits[g].Hits {
			result.GroupedHits[g].Hits[i].Document = projectDoc(result.GroupedHits[g].Hits[i].Document, include, exclude)
		}
	}
}

func projectDoc(doc *types.Document, include, exclude []string) *types.Document {
	if doc == nil {
		return nil
	}
	keep := func(name string) bool {
		if name == "id" {
			return true
		}
		for _, e := range exclude {
			if e == name {
				return false
			}
		}
		if len(include) == 0 {
			return true
		}
		for _, in := range include {
			if in == name {
				return true
			}
		}
		return false
	}
	raw := make(map[string]any, len(doc.Raw))
	for k, v := range doc.Raw {
		if keep(k) {
			raw[k] = v
		}
	}
	return &types.Document{SeqID: doc.SeqID, ID: doc.ID, Raw: raw}
}

// mergeRequestOverrides folds the request's own pinned_hits/hidden_hits
// into the curation outcome so curation.Apply only has to run
// once. Request-level hints are applied after rule-produced ones, so a
// caller's explicit override always wins a conflicting position.
func mergeRequestOverrides(out *curation.Outcome, req *types.SearchRequest) {
	for _, id := range req.HiddenHits {
		out.Excludes[id] = true
	}
	for _, p := range req.PinnedHits {
		out.Includes[p.Position] = p.ID
	}
}

// stripMatchedTokens removes, from q, every whitespace token that
// literally appears in one of the matched rules' own query patterns
// (the remove_matched_tokens toggle). Template placeholders are left
// alone since they don't name a literal token to strip.
func stripMatchedTokens(q string, rules []curation.Rule, matchedIDs []string) string {
	matched := make(map[string]bool, len(matchedIDs))
	for _, id := range matchedIDs {
		matched[id] = true
	}
	drop := make(map[string]bool)
	for _, r := range rules {
		if !matched[r.ID] {
			continue
		}
		for _, tok := range strings.Fields(r.Query) {
			if !strings.HasPrefix(tok, "{") {
				drop[strings.ToLower(tok)] = true
			}
		}
	}
	if len(drop) == 0 {
		return q
	}
	var kept []string
	for _, tok := range strings.Fields(q) {
		if !drop[strings.ToLower(tok)] {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// queryLocale is the locale the query is tokenized under: the first
// query_by field's declared locale.
func (c *Collection) queryLocale(queryBy []string) string {
	if len(queryBy) == 0 {
		return ""
	}
	if fs, ok := c.schema.FieldByName(queryBy[0]); ok {
		return fs.Locale
	}
	return ""
}

// expandSynonyms returns one token slice per synonym rule whose root
// (or, for a multi-way rule, any member) appears in q; each group is
// a separate candidate subquery downstream. A rule declared for
// a specific locale only applies when the query runs under that
// locale; a rule with no locale applies everywhere.
func (c *Collection) expandSynonyms(q, locale string) [][]string {
	tokens := text.Tokenize(q)
	var groups [][]string
	for _, rule := range c.Synonyms {
		if rule.Locale != "" && rule.Locale != locale {
			continue
		}
		if rule.Root != "" {
			rootTokens := text.Tokenize(rule.Root)
			if !containsSubsequence(tokens, rootTokens) {
				continue
			}
			for _, syn := range rule.Synonyms {
				groups = append(groups, substituteSubsequence(tokens, rootTokens, text.Tokenize(syn)))
			}
			continue
		}
		for _, member := range rule.Synonyms {
			memberTokens := text.Tokenize(member)
			if !containsSubsequence(tokens, memberTokens) {
				continue
			}
			for _, other := range rule.Synonyms {
				if other == member {
					continue
				}
				groups = append(groups, substituteSubsequence(tokens, memberTokens, text.Tokenize(other)))
			}
		}
	}
	return groups
}

func containsSubsequence(hay, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(hay) {
		return false
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		if matchesAt(hay, needle, i) {
			return true
		}
	}
	return false
}

func matchesAt(hay, needle []string, at int) bool {
	for i, n := range needle {
		if hay[at+i] != n {
			return false
		}
	}
	return true
}

func substituteSubsequence(hay, needle, replacement []string) []string {
	for i := 0; i+len(needle) <= len(hay); i++ {
		if matchesAt(hay, needle, i) {
			out := make([]string, 0, len(hay)-len(needle)+len(replacement))
			out = append(out, hay[:i]...)
			out = append(out, replacement...)
			out = append(out, hay[i+len(needle):]...)
			return out
		}
	}
	return append([]string(nil), hay...)
}

// resolveFieldSources builds one collection-wide search.FieldSource per
// query_by field, merging each shard's trie and posting lists on the
// fly: the collection shards its indices for write parallelism,
// but the orchestrator expects one lookup surface per field, so the
// merge happens here rather than inside search.
func (c *Collection) resolveFieldSources(req *types.SearchRequest) ([]search.FieldSource, error) {
	out := make([]search.FieldSource, 0, len(req.QueryBy))
	for i, name := range req.QueryBy {
		if _, ok := c.schema.FieldByName(name); !ok {
			return nil, cerr.Validation("unknown query_by field %q", name)
		}

		trie := text.New()
		seen := make(map[string]bool)
		for _, sh := range c.shards {
			sh.mu.RLock()
			if sf, ok := sh.strings[name]; ok {
				for tok := range sf.lists {
					if !seen[tok] {
						seen[tok] = true
						trie.Add(tok)
					}
				}
			}
			sh.mu.RUnlock()
		}

		numTypos := req.NumTypos
		if i < len(req.NumTyposByField) {
			numTypos = req.NumTyposByField[i]
		}
		prefix := false
		if i < len(req.Prefix) {
			prefix = req.Prefix[i]
		}

		field := name
		out = append(out, search.FieldSource{
			Name:        field,
			Priority:    len(req.QueryBy) - i,
			Trie:        trie,
			PostingsFor: func(token string) *postings.List { return c.mergedPostings(field, token) },
			NumTypos:    numTypos,
			Prefix:      prefix,
		})
	}
	return out, nil
}

// mergedPostings unions one token's posting list across every shard.
// Since a document lives in exactly one shard (seq_id mod
// num_memory_shards), the per-shard lists are disjoint by id and the
// union never has to reconcile duplicate offsets for the same doc.
func (c *Collection) mergedPostings(field, token string) *postings.List {
	var lists []*postings.List
	for _, sh := range c.shards {
		sh.mu.RLock()
		if sf, ok := sh.strings[field]; ok {
			if l, ok := sf.lists[token]; ok {
				lists = append(lists, l)
			}
		}
		sh.mu.RUnlock()
	}
	switch len(lists) {
	case 0:
		return nil
	case 1:
		return lists[0]
	default:
		merged := postings.New(c.cfg.BlockMaxElements, c.cfg.CompactPostingThreshold)
		for _, e := range postings.Union(lists...) {
			merged.Upsert(e.ID, e.Offsets)
		}
		return merged
	}
}

// adaptedVectorIndex narrows *vectorindex.Index's richer Result type
// down to the search package's VectorBackend shape.
type adaptedVectorIndex struct{ ix *vectorindex.Index }

func (a *adaptedVectorIndex) QueryByVector(vec []float32, k int, distanceThreshold float64, hasThreshold bool, filterIDs *roaring.Bitmap, flatSearchCutoff int) ([]search.VectorResult, error) {
	rs, err := a.ix.QueryByVector(vec, k, distanceThreshold, hasThreshold, filterIDs, flatSearchCutoff)
	if err != nil {
		return nil, err
	}
	out := make([]search.VectorResult, len(rs))
	for i, r := range rs {
		out[i] = search.VectorResult{SeqID: r.SeqID, Distance: r.Distance}
	}
	return out, nil
}

// resolveVectorQuery resolves parsed.Vector's query vector — literal,
// derived from a stored document (ref_doc_id), or auto-embedded from
// the query text via c.Embedder — and wraps the field's vector index
// in a VectorBackend. Returns (nil, nil) when the request has no
// vector component.
func (c *Collection) resolveVectorQuery(parsed *types.SearchRequest) (search.VectorBackend, error) {
	vq := parsed.Vector
	if vq == nil {
		return nil, nil
	}

	c.vecMu.Lock()
	ix, ok := c.vectors[vq.Field]
	c.vecMu.Unlock()
	if !ok {
		return nil, cerr.Validation("field %q has no vector index", vq.Field)
	}

	if len(vq.Vector) == 0 {
		switch {
		case vq.RefDocID != "":
			refSeq, ok := c.userIDToSeq[vq.RefDocID]
			if !ok {
				return nil, cerr.NotFound("ref_doc_id %q not found", vq.RefDocID)
			}
			vec, ok := ix.VectorFor(int64(refSeq))
			if !ok {
				return nil, cerr.Validation("field %q: ref_doc_id %q has no stored vector", vq.Field, vq.RefDocID)
			}
			vq.Vector = vec
		case parsed.Q != "" && c.Embedder != nil:
			vec, err := c.embedQuery(vq.Field, parsed.Q)
			if err != nil {
				return nil, err
			}
			vq.Vector = vec
		default:
			return nil, cerr.Validation("field %q: vector_query has no vector, ref_doc_id, or embeddable query text", vq.Field)
		}
	}

	return &adaptedVectorIndex{ix: ix}, nil
}

// embedQuery collapses concurrent auto-embedding calls for the same
// (field, text) pair into one Embedder.Embed invocation, so hybrid
// search under load never queues duplicate embedding work.
func (c *Collection) embedQuery(field, q string) ([]float32, error) {
	key := field + "\x00" + q
	v, err, _ := c.embedGroup.Do(key, func() (any, error) {
		return c.Embedder.Embed(q)
	})
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeInternal, err, "auto-embed query text")
	}
	return v.([]float32), nil
}

// buildExtraSort resolves the sort_by expressions the orchestrator's
// own SortScores[0] (the text/hybrid match score) doesn't already
// cover. A leading "_text_match" entry is consumed by SortScores[0]
// directly and dropped here; any other leading field is itself a
// ranking criterion (sort_by without _text_match makes the named
// fields primary), so it's kept and placed in SortScores[1..2]
// instead — SortScores[0] stays tied at 0 for every hit under a
// wildcard query, so these fields decide the order outright.
func (c *Collection) buildExtraSort(sortBy []types.SortField) search.ExtraSortFunc {
	if len(sortBy) == 0 {
		return nil
	}
	exprs := sortBy
	if sortBy[0].Field == "_text_match" {
		exprs = sortBy[1:]
	}
	if len(exprs) == 0 {
		return nil
	}
	if len(exprs) > 2 {
		exprs = exprs[:2]
	}
	return func(seqID types.SeqID) [2]int64 {
		var out [2]int64
		for i, sf := range exprs {
			out[i] = c.scoreSortField(sf, seqID)
		}
		return out
	}
}

func (c *Collection) scoreSortField(sf types.SortField, seqID types.SeqID) int64 {
	var raw int64
	switch {
	case sf.IsGeo:
		doc := c.docForSeq(seqID)
		if doc == nil {
			return 0
		}
		if p := asGeoPoint(doc.Raw[sf.Field]); p != nil {
			d := geo.Haversin(sf.GeoLng, sf.GeoLat, p.Lng, p.Lat)
			if sf.ExcludeRadiusM > 0 && d*1000 <= sf.ExcludeRadiusM {
				d = 0
			}
			raw = -int64(d * 1000) // meters of distance, negated so closer sorts higher
		}
	case sf.EvalFilter != nil:
		resolver := &collectionResolver{c: c}
		cur, _, err := filter.Build(sf.EvalFilter, resolver)
		if err == nil && matchesCursor(cur, uint32(seqID)) {
			raw = 1
		}
	case sf.Field == "_rand":
		raw = int64(xxhash.Sum64(fmt.Appendf(nil, "%d:%d", sf.RandomSeed, seqID)) >> 1)
	default:
		doc := c.docForSeq(seqID)
		if doc != nil {
			if v, ok := doc.Raw[sf.Field]; ok {
				if f := asFloat(v); f != nil {
					raw = numindex.PackFloat(*f)
				}
			}
		}
	}
	if sf.Desc {
		return raw
	}
	return -raw
}

func matchesCursor(c filter.Cursor, id uint32) bool {
	if c == nil {
		return true
	}
	c.SkipTo(id)
	return c.Valid() && c.ID() == id
}

// mergedFacetBackend aggregates one facet field's counts across every
// shard's independent facet.Index, re-sorting the combined counts
// since each shard's own TopFiltered order only reflects its own
// subset of documents.
type mergedFacetBackend struct {
	shards []*shard
	field  string
}

func (m *mergedFacetBackend) TopFiltered(filterIDs *roaring.Bitmap, k, examineFactor int) []search.FacetValueCount {
	counts := make(map[string]int)
	perShardK := k * examineFactor
	if perShardK <= 0 {
		perShardK = k
	}
	for _, sh := range m.shards {
		sh.mu.RLock()
		if fx, ok := sh.facets[m.field]; ok {
			for _, vc := range fx.TopFiltered(filterIDs, perShardK, examineFactor) {
				counts[vc.Value] += vc.Count
			}
		}
		sh.mu.RUnlock()
	}
	out := make([]search.FacetValueCount, 0, len(counts))
	for v, cnt := range counts {
		out = append(out, search.FacetValueCount{Value: v, Count: cnt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
