// Package curation implements the curation/override engine:
// rule-matched pinning, hiding, and filter/query rewriting
// applied around the search orchestrator. Rules are plain data;
// Engine only matches and folds them into an Outcome the collection
// layer applies to a types.SearchResult.
package curation

import (
	"strings"
	"time"

	"github.com/mizusearch/core/types"
)

// MatchMode selects how Rule.Query is compared against the incoming
// search string.
type MatchMode int

const (
	MatchExact MatchMode = iota
	MatchContains
)

// Include pins a document id at a 1-based output position.
type Include struct {
	DocID    string
	Position int
}

// Rule is one stored curation/override rule: a query pattern (exact, contains, or templated with
// "{placeholder}" slots), an optional filter, an effective time
// window, tags, includes/excludes, and the toggles that affect how
// the rule composes with the ones stored after it.
type Rule struct {
	ID    string
	Query string
	Match MatchMode

	Filter *types.FilterNode

	EffectiveFrom, EffectiveTo time.Time // zero value means "unbounded" on that side
	Tags                       []string

	Includes []Include
	Excludes []string

	RemoveMatchedTokens bool
	FilterCuratedHits   bool
	StopProcessing      bool

	SortBy       []types.SortField
	ReplaceQuery string
}

// Engine holds a collection's curation rules in stored order.
type Engine struct {
	rules []Rule
}

func New() *Engine { return &Engine{} }

// Add appends r to the end of the stored rule order.
func (e *Engine) Add(r Rule) { e.rules = append(e.rules, r) }

// Remove drops the rule with the given id, if present.
func (e *Engine) Remove(id string) {
	out := e.rules[:0]
	for _, r := range e.rules {
		if r.ID != id {
			out = append(out, r)
		}
	}
	e.rules = out
}

// Rules returns the stored rules in order, for inspection/listing.
func (e *Engine) Rules() []Rule { return append([]Rule(nil), e.rules...) }

// Outcome is the folded effect of every matching rule, in stored
// order, up to and including the first one with StopProcessing set.
// Later rules win on conflicting positions/fields, resolving the
// duplicate-pinned-position ambiguity as "later-declared rule wins".
type Outcome struct {
	Includes map[int]string // output position -> doc id
	Excludes map[string]bool

	FilterOverride  *types.FilterNode
	HasFilter       bool
	ReplaceQuery    string
	HasReplaceQuery bool
	SortBy          []types.SortField

	RemoveMatchedTokens bool
	FilterCuratedHits   bool

	MatchedRuleIDs []string
}

// Matches reports whether rule applies to query at instant now, given
// the request's override tags (nil/empty Tags on the rule means "no
// tag restriction").
func (r *Rule) Matches(query string, now time.Time, requestTags []string) bool {
	if !r.EffectiveFrom.IsZero() && now.Before(r.EffectiveFrom) {
		return false
	}
	if !r.EffectiveTo.IsZero() && now.After(r.EffectiveTo) {
		return false
	}
	if len(r.Tags) > 0 && !anyTagMatches(r.Tags, requestTags) {
		return false
	}
	return matchQuery(r.Query, r.Match, query)
}

func anyTagMatches(ruleTags, requestTags []string) bool {
	for _, rt := range ruleTags {
		for _, qt := range requestTags {
			if rt == qt {
				return true
			}
		}
	}
	return false
}

// matchQuery implements the three supported pattern shapes: exact,
// contains, and a templated pattern whose "{placeholder}" slots each
// match exactly one whitespace-delimited query token.
func matchQuery(pattern string, mode MatchMode, query string) bool {
	if strings.Contains(pattern, "{") && strings.Contains(pattern, "}") {
		return matchTemplate(pattern, query)
	}
	switch mode {
	case MatchExact:
		return strings.EqualFold(pattern, query)
	case MatchContains:
		return strings.Contains(strings.ToLower(query), strings.ToLower(pattern))
	default:
		return false
	}
}

// matchTemplate walks pattern and query token by token; a "{name}"
// pattern token consumes exactly one query token (any value), every
// other pattern token must match the query token verbatim.
func matchTemplate(pattern, query string) bool {
	pTokens := strings.Fields(pattern)
	qTokens := strings.Fields(query)
	if len(pTokens) != len(qTokens) {
		return false
	}
	for i, pt := range pTokens {
		if strings.HasPrefix(pt, "{") && strings.HasSuffix(pt, "}") {
			continue
		}
		if !strings.EqualFold(pt, qTokens[i]) {
			return false
		}
	}
	return true
}

// bindTemplate extracts the placeholder -> matched-token map a
// template rule bound against query, used to expand "{placeholder}"
// references inside ReplaceQuery.
func bindTemplate(pattern, query string) map[string]string {
	pTokens := strings.Fields(pattern)
	qTokens := strings.Fields(query)
	if len(pTokens) != len(qTokens) {
		return nil
	}
	out := make(map[string]string)
	for i, pt := range pTokens {
		if strings.HasPrefix(pt, "{") && strings.HasSuffix(pt, "}") {
			out[pt] = qTokens[i]
		}
	}
	return out
}

// Evaluate folds every matching rule, in stored order, into a single
// Outcome, stopping after the first match whose StopProcessing is
// set.
func (e *Engine) Evaluate(query string, now time.Time, requestTags []string) Outcome {
	out := Outcome{Includes: make(map[int]string), Excludes: make(map[string]bool)}
	for _, r := range e.rules {
		if !r.Matches(query, now, requestTags) {
			continue
		}
		out.MatchedRuleIDs = append(out.MatchedRuleIDs, r.ID)

		for _, inc := range r.Includes {
			out.Includes[inc.Position] = inc.DocID // later rule wins: map overwrite
		}
		for _, exc := range r.Excludes {
			out.Excludes[exc] = true
		}
		if r.Filter != nil {
			out.FilterOverride = r.Filter
			out.HasFilter = true
		}
		if r.ReplaceQuery != "" {
			rq := r.ReplaceQuery
			if bindings := bindTemplate(r.Query, query); bindings != nil {
				rq = expandTemplate(rq, bindings)
			}
			out.ReplaceQuery = rq
			out.HasReplaceQuery = true
		}
		if len(r.SortBy) > 0 {
			out.SortBy = r.SortBy
		}
		out.RemoveMatchedTokens = out.RemoveMatchedTokens || r.RemoveMatchedTokens
		out.FilterCuratedHits = out.FilterCuratedHits || r.FilterCuratedHits

		if r.StopProcessing {
			break
		}
	}
	return out
}

func expandTemplate(s string, bindings map[string]string) string {
	for placeholder, value := range bindings {
		s = strings.ReplaceAll(s, placeholder, value)
	}
	return s
}

// Apply rewrites result in place: excluded ids are dropped, then
// pinned ids are inserted at their requested 1-based positions
// (bumping whatever would otherwise land there). resolveDoc loads a
// pinned document that may not already be part of result.Hits (a pure
// curation pin with no independent text/vector match).
func Apply(out Outcome, result *types.SearchResult, resolveDoc func(docID string) *types.Document) {
	if len(out.Excludes) > 0 {
		filtered := result.Hits[:0]
		for _, h := range result.Hits {
			if h.Document != nil && out.Excludes[h.Document.ID] {
				result.Found--
				continue
			}
			filtered = append(filtered, h)
		}
		result.Hits = filtered
	}

	if len(out.Includes) == 0 {
		if result.Found < len(result.Hits) {
			result.Found = len(result.Hits)
		}
		return
	}

	// Pull any hit that is also a pinned id out of its natural rank so
	// it isn't duplicated once reinserted at its pinned position.
	pinnedIDs := make(map[string]bool, len(out.Includes))
	for _, id := range out.Includes {
		pinnedIDs[id] = true
	}
	rest := result.Hits[:0]
	byID := make(map[string]types.Hit, len(out.Includes))
	for _, h := range result.Hits {
		if h.Document != nil && pinnedIDs[h.Document.ID] {
			byID[h.Document.ID] = h
			continue
		}
		rest = append(rest, h)
	}

	maxPos := len(rest) + len(out.Includes)
	for pos := range out.Includes {
		if pos > maxPos {
			maxPos = pos
		}
	}
	merged := make([]types.Hit, 0, maxPos)
	restIdx := 0
	pinnedIn := 0
	for pos := 1; pos <= maxPos; pos++ {
		if docID, ok := out.Includes[pos]; ok {
			if h, ok := byID[docID]; ok {
				merged = append(merged, h)
			} else if doc := resolveDoc(docID); doc != nil {
				merged = append(merged, types.Hit{Document: doc})
				pinnedIn++
			}
			continue
		}
		if restIdx < len(rest) {
			merged = append(merged, rest[restIdx])
			restIdx++
		}
	}
	for ; restIdx < len(rest); restIdx++ {
		merged = append(merged, rest[restIdx])
	}

	result.Hits = merged
	result.Found += pinnedIn
	if result.Found < len(merged) {
		result.Found = len(merged)
	}
}
