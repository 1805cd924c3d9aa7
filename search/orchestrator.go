// Package search implements the query orchestrator: token
// enumeration, fuzzy candidate generation, per-field posting-list
// intersection, scoring, Top-K accumulation, and hybrid text/vector
// rank fusion. It operates over indices the collection layer resolves
// and hands in, so this package never touches storage directly.
package search

import (
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mizusearch/core/config"
	"github.com/mizusearch/core/filter"
	"github.com/mizusearch/core/postings"
	"github.com/mizusearch/core/text"
	"github.com/mizusearch/core/topk"
	"github.com/mizusearch/core/types"
)

// FieldSource is one searchable field's resolved lookup surface:
// enough for the orchestrator to enumerate fuzzy candidates and fetch
// their posting lists without knowing how the field is stored.
type FieldSource struct {
	Name        string
	Priority    int // higher searched first and weighted more in scoring
	Trie        *text.Trie
	PostingsFor func(token string) *postings.List
	NumTypos    int
	Prefix      bool
}

// VectorBackend is the subset of vectorindex.Index the orchestrator
// needs for the vector-fusion stage.
type VectorBackend interface {
	QueryByVector(vec []float32, k int, distanceThreshold float64, hasThreshold bool, filterIDs *roaring.Bitmap, flatSearchCutoff int) ([]VectorResult, error)
}

// VectorResult mirrors vectorindex.Result without importing that
// package (which itself depends on cgo-backed faiss bindings this
// package has no need to link against directly).
type VectorResult struct {
	SeqID    int64
	Distance float32
}

// ExtraSortFunc resolves the second and third sort-by expressions
// (geo-distance, _eval, random, or a plain scalar field) the caller
// configured; the orchestrator only owns the text-match/hybrid score
// that always occupies SortScores[0].
type ExtraSortFunc func(seqID types.SeqID) [2]int64

// Request bundles everything one search needs beyond the parsed
// types.SearchRequest: the resolved field sources, the compiled filter
// cursor (nil means "match everything"), the collection's current
// seq_id ceiling (exclusive) and an optional vector backend.
type Request struct {
	Parsed    *types.SearchRequest
	Fields    []FieldSource
	Filter    filter.Cursor
	MaxSeqID  uint32
	Vector    VectorBackend
	ExtraSort ExtraSortFunc
	Facets    map[string]FacetBackend
	Deadline  time.Time

	// StopWords is the per-locale set removed from the tokenized query
	// before candidate generation.
	StopWords map[string]bool

	// SynonymGroups holds zero or more alternate token sequences a
	// synonym rule produced for this query ("each group is
	// a separate candidate subquery"). The collection layer resolves
	// rules and locale; the orchestrator only has to run each group
	// through candidate generation and merge hits into the same
	// accumulator.
	SynonymGroups [][]string

	// ResolveDoc loads the stored document for a surviving seq_id, so
	// the orchestrator never has to know how documents are stored.
	ResolveDoc func(seqID types.SeqID) *types.Document

	// GroupKey resolves a document's group_by values and their 64-bit
	// hash-combine (the distinct key). Nil when the request has no
	// group_by clause.
	GroupKey func(seqID types.SeqID) ([]string, uint64)
}

// FacetBackend is the subset of facet.Index the facet-count stage
// needs.
type FacetBackend interface {
	TopFiltered(filterIDs *roaring.Bitmap, k, examineFactor int) []FacetValueCount
}

type FacetValueCount struct {
	Value string
	Count int
}

type candidate struct {
	token    string
	editCost int
	list     *postings.List
}

type combo struct {
	entries  []postings.Entry // one per query token, aligned
	typoCost int
	lists    []*postings.List
}

// Run executes the full search pipeline and returns a populated result.
func (o *Orchestrator) Run(req *Request) (*types.SearchResult, error) {
	start := req.Parsed
	filterBitmap := materializeFilter(req.Filter, req.MaxSeqID)

	wildcard := start.Q == "" || start.Q == "*"

	var hits *topk.TopK
	var grouped *topk.GroupedTopK
	var groupVals map[uint64][]string
	if len(start.GroupBy) > 0 {
		groupLimit := start.GroupLimit
		if groupLimit <= 0 {
			groupLimit = 3
		}
		grouped = topk.NewGroupedTopK(resultSize(start), groupLimit)
		groupVals = make(map[uint64][]string)
	} else {
		hits = topk.NewTopK(resultSize(start))
	}

	matched := roaring.New()
	timedOut := false
	push := func(seqID types.SeqID, textScore int64, typoCost int, hasText bool, vecDist float32, hasVec bool) {
		var extra [2]int64
		if req.ExtraSort != nil {
			extra = req.ExtraSort(seqID)
		}
		e := types.TopKEntry{
			SeqID:           seqID,
			SortScores:      [3]int64{textScore, extra[0], extra[1]},
			TextMatchScore:  textScore,
			TypoCost:        typoCost,
			HasTextResult:   hasText,
			VectorDistance:  vecDist,
			HasVectorResult: hasVec,
		}
		matched.Add(uint32(seqID))
		if grouped != nil {
			if req.GroupKey != nil {
				vals, key := req.GroupKey(seqID)
				e.DistinctKey = key
				e.HasDistinct = true
				if _, ok := groupVals[key]; !ok {
					groupVals[key] = vals
				}
			}
			grouped.Offer(e)
		} else {
			hits.Offer(e)
		}
	}

	var queryTokens []string
	if wildcard {
		for _, id := range filterBitmap.ToArray() {
			if !req.Deadline.IsZero() && time.Now().After(req.Deadline) {
				timedOut = true
				break
			}
			push(types.SeqID(id), 0, 0, false, 0, false)
		}
	} else {
		include, exclude, phrases := parseQueryMarkers(start.Q)
		working := filterBitmap
		if len(exclude) > 0 || len(phrases) > 0 {
			working = filterBitmap.Clone()
			subtractExcludedTokenDocs(working, exclude, req.Fields)
			constrainPhrases(working, phrases, req.Fields)
		}
		queryTokens = include

		groups := [][]string{removeStopWords(include, req.StopWords)}
		for _, g := range req.SynonymGroups {
			groups = append(groups, removeStopWords(g, req.StopWords))
		}
		dropThreshold := o.Config.DropTokensThreshold
		if start.DropTokensThreshold > 0 {
			dropThreshold = start.DropTokensThreshold
		}
		for _, tokens := range groups {
			found := o.searchTokens(tokens, req, working, push, &timedOut)
			for len(found) < dropThreshold && len(tokens) > 1 && !start.ExhaustiveSearch {
				tokens = dropRarestToken(tokens, req.Fields)
				found = o.searchTokens(tokens, req, working, push, &timedOut)
			}
		}
	}

	var textResults map[types.SeqID]types.TopKEntry
	if hits != nil {
		textResults = indexBySeqID(hits.Results())
	}

	if start.Vector != nil && req.Vector != nil {
		// Fusion re-scores every text hit, so the heap is rebuilt from
		// scratch: a doc in both result sets must appear once with its
		// fused score, not once per source.
		if hits != nil {
			hits = topk.NewTopK(resultSize(start))
		}
		o.fuseVector(req, push, textResults, filterBitmap)
	}

	result := &types.SearchResult{TimedOut: timedOut}
	if grouped != nil {
		for _, g := range grouped.Results() {
			gh := types.GroupedHits{GroupKey: groupVals[g.DistinctKey]}
			for _, e := range g.Entries {
				gh.Hits = append(gh.Hits, entryToHit(e, req.ResolveDoc))
			}
			result.GroupedHits = append(result.GroupedHits, gh)
		}
		result.Found = len(grouped.Results())
		result.GroupedHits = sliceGroupedPage(result.GroupedHits, start)
	} else {
		for _, e := range hits.Results() {
			h := entryToHit(e, req.ResolveDoc)
			if e.HasTextResult && h.Document != nil {
				h.Highlight = buildHighlights(start, queryTokens, h.Document)
			}
			result.Hits = append(result.Hits, h)
		}
		result.Found = int(matched.GetCardinality())
		result.Hits = slicePage(result.Hits, start)
	}

	// Facets count over the accepted id set, not the raw filter set: a
	// text query narrows what the counts describe.
	acceptedIDs := filterBitmap
	if !wildcard {
		acceptedIDs = matched
	}
	for name, fb := range req.Facets {
		k := 10
		counts := fb.TopFiltered(acceptedIDs, k, o.Config.FacetApproxExamineFactor)
		fc := types.FacetCount{FieldName: name}
		fqField, fqPattern := splitFacetQuery(start.FacetQuery)
		for _, c := range counts {
			if fqField == name && fqPattern != "" && !strings.Contains(strings.ToLower(c.Value), fqPattern) {
				continue
			}
			fc.Counts = append(fc.Counts, types.FacetValueCount{Value: c.Value, Count: c.Count})
		}
		if start.FacetSort == types.FacetSortByValue {
			sort.Slice(fc.Counts, func(i, j int) bool { return fc.Counts[i].Value < fc.Counts[j].Value })
		}
		result.FacetCounts = append(result.FacetCounts, fc)
	}

	return result, nil
}

// slicePage cuts the accumulated (page*per_page)-sized ranking down to
// the requested page's window.
func slicePage(hits []types.Hit, req *types.SearchRequest) []types.Hit {
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = 10
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	from := (page - 1) * perPage
	if from >= len(hits) {
		return nil
	}
	to := from + perPage
	if to > len(hits) {
		to = len(hits)
	}
	return hits[from:to]
}

func sliceGroupedPage(groups []types.GroupedHits, req *types.SearchRequest) []types.GroupedHits {
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = 10
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	from := (page - 1) * perPage
	if from >= len(groups) {
		return nil
	}
	to := from + perPage
	if to > len(groups) {
		to = len(groups)
	}
	return groups[from:to]
}

// splitFacetQuery parses the "field:pattern" shape of the facet_query
// option; the pattern is matched as a case-insensitive substring over
// the named facet's values.
func splitFacetQuery(fq string) (field, pattern string) {
	if fq == "" {
		return "", ""
	}
	i := strings.IndexByte(fq, ':')
	if i < 0 {
		return "", ""
	}
	return fq[:i], strings.ToLower(strings.TrimSpace(fq[i+1:]))
}

// parseQueryMarkers splits the raw query into plain include tokens,
// "-"-prefixed exclude tokens, and double-quoted phrase groups.
// Phrase tokens are also included in the main token
// stream; the adjacency requirement is enforced separately through the
// candidate bitmap.
func parseQueryMarkers(q string) (include, exclude []string, phrases [][]string) {
	fields := splitQuoted(q)
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "\"") && strings.HasSuffix(f, "\"") && len(f) >= 2:
			toks := text.Tokenize(f[1 : len(f)-1])
			if len(toks) > 0 {
				phrases = append(phrases, toks)
				include = append(include, toks...)
			}
		case strings.HasPrefix(f, "-") && len(f) > 1:
			exclude = append(exclude, text.Tokenize(f[1:])...)
		default:
			include = append(include, text.Tokenize(f)...)
		}
	}
	return include, exclude, phrases
}

// splitQuoted splits on whitespace but keeps double-quoted runs
// together, quotes included. An unterminated quote runs to the end of
// the string.
func splitQuoted(q string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	for _, r := range q {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// subtractExcludedTokenDocs removes from working every document that
// contains any excluded token in any queried field. Exclusion is
// exact-token (no typo expansion), matching the source engine's
// treatment of "-token".
func subtractExcludedTokenDocs(working *roaring.Bitmap, exclude []string, fields []FieldSource) {
	for _, tok := range exclude {
		for _, f := range fields {
			l := f.PostingsFor(tok)
			if l == nil {
				continue
			}
			it := l.NewIterator()
			for it.Valid() {
				working.Remove(it.ID())
				it.Next()
			}
		}
	}
}

// constrainPhrases ANDs working down to documents where every quoted
// phrase appears contiguously in at least one queried field. A phrase
// whose tokens are absent from every field empties the result.
func constrainPhrases(working *roaring.Bitmap, phrases [][]string, fields []FieldSource) {
	for _, phrase := range phrases {
		ok := roaring.New()
		for _, f := range fields {
			lists := make([]*postings.List, 0, len(phrase))
			complete := true
			for _, tok := range phrase {
				l := f.PostingsFor(tok)
				if l == nil {
					complete = false
					break
				}
				lists = append(lists, l)
			}
			if !complete {
				continue
			}
			for _, e := range postings.Intersect(lists...) {
				if postings.PhraseMatch(lists, e.ID) {
					ok.Add(e.ID)
				}
			}
		}
		working.And(ok)
	}
}

// Orchestrator holds the tunables candidate generation, token dropping, and faceting consult.
type Orchestrator struct {
	Config config.Config
}

func New(cfg config.Config) *Orchestrator { return &Orchestrator{Config: cfg} }

func resultSize(req *types.SearchRequest) int {
	n := req.PerPage * (req.Page)
	if n < req.PerPage {
		n = req.PerPage
	}
	if n <= 0 {
		n = 10
	}
	return n
}

type pushFunc func(seqID types.SeqID, textScore int64, typoCost int, hasText bool, vecDist float32, hasVec bool)

// searchTokens runs candidate generation, intersection, and scoring
// for one token stream and reports how many documents matched. A
// deadline hit mid-combination sets *timedOut and returns what was
// accumulated so far.
func (o *Orchestrator) searchTokens(tokens []string, req *Request, filterBitmap *roaring.Bitmap, push pushFunc, timedOut *bool) map[types.SeqID]bool {
	found := make(map[types.SeqID]bool)
	if len(tokens) == 0 {
		return found
	}
	for _, field := range req.Fields {
		perToken := make([][]candidate, len(tokens))
		for i, tok := range tokens {
			maxEdits := text.MaxEditsForToken(tok, field.NumTypos)
			cands, _ := field.Trie.Fuzzy(tok, maxEdits)
			if field.Prefix && i == len(tokens)-1 {
				// The trailing token is treated as a prefix when the field
				// has prefix search on, so "sand" also reaches "sandals".
				pcands, _ := field.Trie.Prefix(tok)
				cands = mergeCandidates(cands, pcands)
			}
			for _, c := range cands {
				list := field.PostingsFor(c.Token)
				if list == nil {
					continue
				}
				perToken[i] = append(perToken[i], candidate{token: c.Token, editCost: c.EditCost, list: list})
			}
		}
		typoThreshold := o.Config.TypoTokensThreshold
		if req.Parsed.TypoTokensThreshold > 0 {
			typoThreshold = req.Parsed.TypoTokensThreshold
		}
		combos := crossProduct(perToken, o.Config.CombinationLimit)
		for _, c := range combos {
			if !req.Deadline.IsZero() && time.Now().After(req.Deadline) {
				*timedOut = true
				return found
			}
			// Once enough hits have accumulated, combinations that cost
			// typos are no longer worth trying.
			if c.typoCost > 0 && len(found) >= typoThreshold && !req.Parsed.ExhaustiveSearch {
				continue
			}
			lists := c.lists
			entries := postings.Intersect(lists...)
			for _, e := range entries {
				if !filterBitmap.Contains(e.ID) {
					continue
				}
				seqID := types.SeqID(e.ID)
				score := scoreMatch(len(tokens), c.typoCost, field.Priority, lists, e.ID)
				if req.Parsed.PrioritizeExactMatch && postings.ExactMatch(lists, e.ID) {
					score += exactMatchBonus
				}
				push(seqID, score, c.typoCost, true, 0, false)
				found[seqID] = true
			}
		}
	}
	return found
}

// mergeCandidates unions fuzzy and prefix enumerations, keeping the
// cheaper edit cost when both found the same token.
func mergeCandidates(a, b []text.Candidate) []text.Candidate {
	seen := make(map[string]int, len(a))
	out := make([]text.Candidate, 0, len(a)+len(b))
	for _, c := range a {
		seen[c.Token] = len(out)
		out = append(out, c)
	}
	for _, c := range b {
		if i, ok := seen[c.Token]; ok {
			if c.EditCost < out[i].EditCost {
				out[i].EditCost = c.EditCost
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

const exactMatchBonus = 10_000

// scoreMatch combines token coverage, typo cost, and field priority
// into the single lexicographic text-match score. Minimum inter-token
// distance is approximated from the first surviving entry's offsets:
// closer tokens (smaller span) score higher.
func scoreMatch(tokenCount, typoCost, fieldPriority int, lists []*postings.List, docID uint32) int64 {
	span := minSpan(lists, docID)
	score := int64(tokenCount) * 1_000_000
	score -= int64(typoCost) * 10_000
	score += int64(fieldPriority) * 1_000
	score -= int64(span)
	return score
}

func minSpan(lists []*postings.List, docID uint32) int {
	if len(lists) < 2 {
		return 0
	}
	var offs [][]postings.Occurrence
	for _, l := range lists {
		it := l.NewIterator()
		it.SkipTo(docID)
		if !it.Valid() || it.ID() != docID {
			return 1 << 20
		}
		offs = append(offs, postings.DecodeOccurrences(it.Offsets()))
	}
	best := 1 << 20
	for _, first := range offs[0] {
		for _, last := range offs[len(offs)-1] {
			d := int(last.Offset) - int(first.Offset)
			if d < 0 {
				d = -d
			}
			if d < best {
				best = d
			}
		}
	}
	return best
}

func crossProduct(perToken [][]candidate, limit int) []combo {
	if len(perToken) == 0 {
		return nil
	}
	for _, c := range perToken {
		if len(c) == 0 {
			return nil
		}
	}
	var out []combo
	idx := make([]int, len(perToken))
	for len(out) < limit {
		lists := make([]*postings.List, len(perToken))
		cost := 0
		for i, c := range perToken {
			lists[i] = c[idx[i]].list
			cost += c[idx[i]].editCost
		}
		out = append(out, combo{lists: lists, typoCost: cost})

		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(perToken[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return out
}

// removeStopWords drops any token present in stopWords. A nil/empty
// set is the common case and returns tokens unchanged.
func removeStopWords(tokens []string, stopWords map[string]bool) []string {
	if len(stopWords) == 0 {
		return tokens
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !stopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

func dropRarestToken(tokens []string, fields []FieldSource) []string {
	if len(tokens) <= 1 {
		return tokens
	}
	rarestIdx, rarestCount := 0, -1
	for i, tok := range tokens {
		count := 0
		for _, f := range fields {
			if l := f.PostingsFor(tok); l != nil {
				count += l.Len()
			}
		}
		if rarestCount == -1 || count < rarestCount {
			rarestCount = count
			rarestIdx = i
		}
	}
	out := make([]string, 0, len(tokens)-1)
	out = append(out, tokens[:rarestIdx]...)
	out = append(out, tokens[rarestIdx+1:]...)
	return out
}

func materializeFilter(c filter.Cursor, maxSeqID uint32) *roaring.Bitmap {
	bm := roaring.New()
	if c == nil {
		for i := uint32(0); i < maxSeqID; i++ {
			bm.Add(i)
		}
		return bm
	}
	for c.Valid() {
		bm.Add(c.ID())
		c.Next()
	}
	return bm
}

// indexBySeqID keys the accumulated entries that carry a real text
// match; wildcard entries are excluded so a wildcard hybrid query
// fuses as fully-vector.
func indexBySeqID(entries []types.TopKEntry) map[types.SeqID]types.TopKEntry {
	out := make(map[types.SeqID]types.TopKEntry, len(entries))
	for _, e := range entries {
		if e.HasTextResult {
			out[e.SeqID] = e
		}
	}
	return out
}

// fuseVector runs the fusion stage: combine text results with a vector
// query via alpha-weighted rank fusion. Default alpha is 0.3 text /
// 0.7 vector when both are present.
func (o *Orchestrator) fuseVector(req *Request, push pushFunc, textResults map[types.SeqID]types.TopKEntry, filterBitmap *roaring.Bitmap) {
	vq := req.Parsed.Vector
	alpha := 0.3
	if vq.AlphaSet {
		alpha = vq.Alpha
	}
	if len(textResults) == 0 {
		alpha = 0
	}

	cutoff := vq.FlatSearchCutoff
	if cutoff == 0 {
		cutoff = o.Config.FlatSearchCutoff
	}
	results, err := req.Vector.QueryByVector(vq.Vector, vq.K, vq.DistanceThreshold, vq.HasThreshold, filterBitmap, cutoff)
	if err != nil {
		return
	}

	seen := make(map[types.SeqID]bool)
	for rank, r := range results {
		seqID := types.SeqID(r.SeqID)
		seen[seqID] = true
		vectorRank := rrfScore(rank)
		var textRank float64
		if te, ok := textResults[seqID]; ok {
			textRank = rrfScoreFromValue(te.TextMatchScore)
		}
		combined := alpha*textRank + (1-alpha)*vectorRank
		push(seqID, int64(combined*1e6), 0, textResults[seqID].HasTextResult, r.Distance, true)
	}
	// Documents in the text set only are ranked as if they landed in
	// the maximum distance bucket: their vector rank contribution is
	// zero and vector_distance is omitted from the hit.
	for seqID, te := range textResults {
		if seen[seqID] {
			continue
		}
		combined := alpha * rrfScoreFromValue(te.TextMatchScore)
		push(seqID, int64(combined*1e6), te.TypoCost, true, 0, false)
	}
}

func rrfScore(rank int) float64 {
	const k = 60.0
	return 1.0 / (k + float64(rank+1))
}

func rrfScoreFromValue(score int64) float64 {
	const k = 60.0
	// Higher raw score means a better (lower) implied rank; invert into
	// the same reciprocal-rank shape used for vector results.
	if score < 0 {
		score = 0
	}
	return 1.0 / (k + 1.0/float64(score+1))
}

func entryToHit(e types.TopKEntry, resolve func(types.SeqID) *types.Document) types.Hit {
	h := types.Hit{
		TextMatchScore:  e.TextMatchScore,
		HasTextMatch:    e.HasTextResult,
		VectorDistance:  e.VectorDistance,
		HasVectorResult: e.HasVectorResult,
	}
	if resolve != nil {
		h.Document = resolve(e.SeqID)
	}
	if e.HasTextResult && e.HasVectorResult {
		h.HybridInfo = &types.HybridInfo{}
	}
	return h
}
