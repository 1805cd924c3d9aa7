package search

import (
	"strings"

	"github.com/mizusearch/core/text"
	"github.com/mizusearch/core/types"
)

const defaultSnippetThreshold = 30

// snippetContext is how many words are kept on each side of the first
// highlighted word when a field is snippeted.
const snippetContext = 4

// buildHighlights renders the per-field highlight map for one hit:
// every word whose normalized form equals a query token is wrapped in
// <mark> tags, and fields longer than snippet_threshold words are cut
// down to a window around the first match. Fields named in
// highlight_full_fields are never snippeted.
func buildHighlights(req *types.SearchRequest, queryTokens []string, doc *types.Document) map[string]string {
	if len(queryTokens) == 0 {
		return nil
	}
	fields := req.HighlightFields
	if len(fields) == 0 {
		fields = req.QueryBy
	}
	threshold := req.SnippetThreshold
	if threshold <= 0 {
		threshold = defaultSnippetThreshold
	}
	tokenSet := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		tokenSet[t] = true
	}
	full := make(map[string]bool, len(req.HighlightFullFields))
	for _, f := range req.HighlightFullFields {
		full[f] = true
	}

	var out map[string]string
	for _, name := range fields {
		raw, ok := doc.Raw[name]
		if !ok {
			continue
		}
		var value string
		switch v := raw.(type) {
		case string:
			value = v
		case []string:
			value = firstMatchingElement(v, tokenSet)
		case []any:
			var ss []string
			for _, e := range v {
				if s, ok := e.(string); ok {
					ss = append(ss, s)
				}
			}
			value = firstMatchingElement(ss, tokenSet)
		default:
			continue
		}
		h, matched := highlightValue(value, tokenSet, threshold, full[name])
		if !matched {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[name] = h
	}
	return out
}

// firstMatchingElement picks the array element containing a query
// token, falling back to the first element when none matches.
func firstMatchingElement(values []string, tokenSet map[string]bool) string {
	for _, v := range values {
		for _, tok := range text.Tokenize(v) {
			if tokenSet[tok] {
				return v
			}
		}
	}
	if len(values) > 0 {
		return values[0]
	}
	return ""
}

func highlightValue(value string, tokenSet map[string]bool, threshold int, noSnippet bool) (string, bool) {
	words := strings.Fields(value)
	firstHit := -1
	marked := make([]string, len(words))
	for i, w := range words {
		hit := false
		for _, tok := range text.Tokenize(w) {
			if tokenSet[tok] {
				hit = true
				break
			}
		}
		if hit {
			marked[i] = "<mark>" + w + "</mark>"
			if firstHit < 0 {
				firstHit = i
			}
		} else {
			marked[i] = w
		}
	}
	if firstHit < 0 {
		return "", false
	}
	if noSnippet || len(words) <= threshold {
		return strings.Join(marked, " "), true
	}
	from := firstHit - snippetContext
	if from < 0 {
		from = 0
	}
	to := firstHit + snippetContext + 1
	if to > len(marked) {
		to = len(marked)
	}
	snippet := strings.Join(marked[from:to], " ")
	if from > 0 {
		snippet = "…" + snippet
	}
	if to < len(marked) {
		snippet += "…"
	}
	return snippet, true
}
