// Package text implements the tokenizer and fuzzy token index used
// across the string indices: Unicode-normalized word tokenization
// and a typo-tolerant token index built on an FST + Levenshtein
// automaton.
package text

import (
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tokenize splits s into lowercased, NFC-normalized word tokens,
// discarding runs of non-letter/non-digit runes as separators.
func Tokenize(s string) []string {
	normalized := norm.NFC.String(s)
	var toks []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			toks = append(toks, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur = append(cur, unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return toks
}

// ArrayTokens tokenizes each element of an array-typed string field
// independently, returning one token slice per element in declaration
// order (matching the array-index that the posting occurrence's
// ArrayIndex field records).
func ArrayTokens(values []string) [][]string {
	out := make([][]string, len(values))
	for i, v := range values {
		out[i] = Tokenize(v)
	}
	return out
}

// MaxEditsForToken bounds the Levenshtein budget for fuzzy matching a
// token: short tokens (<=4 runes) get at most 1 typo regardless of the
// user's requested num_typos, longer tokens get up to 2.
func MaxEditsForToken(token string, numTypos int) int {
	cap := 2
	if len([]rune(token)) <= 4 {
		cap = 1
	}
	if numTypos < cap {
		cap = numTypos
	}
	if cap < 0 {
		cap = 0
	}
	return cap
}
