package text

import (
	"bytes"
	"sort"

	"github.com/blevesearch/vellum"
	"github.com/blevesearch/vellum/levenshtein"
)

// Trie is the per-field string index: an exact token set backed by an
// FST for fast exact/prefix/fuzzy lookups. The FST is immutable once
// built (vellum's design, same tradeoff Bleve itself makes), so Add/
// Remove only mark the index dirty; the FST is rebuilt lazily on the
// next query that needs it. Correctness of exact membership never
// depends on the FST being current — `tokens` is authoritative.
type Trie struct {
	tokens map[string]uint64 // token -> stable per-field token id
	nextID uint64
	fst    *vellum.FST
	dirty  bool
}

func New() *Trie {
	return &Trie{tokens: make(map[string]uint64)}
}

// Add registers token if new, returning its stable token id.
func (tr *Trie) Add(token string) uint64 {
	if id, ok := tr.tokens[token]; ok {
		return id
	}
	id := tr.nextID
	tr.nextID++
	tr.tokens[token] = id
	tr.dirty = true
	return id
}

// Remove drops token from the index (called once its posting list
// empties out).
func (tr *Trie) Remove(token string) {
	if _, ok := tr.tokens[token]; !ok {
		return
	}
	delete(tr.tokens, token)
	tr.dirty = true
}

// Contains reports exact membership, with no FST rebuild required.
func (tr *Trie) Contains(token string) bool {
	_, ok := tr.tokens[token]
	return ok
}

func (tr *Trie) rebuild() error {
	if !tr.dirty && tr.fst != nil {
		return nil
	}
	keys := make([]string, 0, len(tr.tokens))
	for k := range tr.tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := builder.Insert([]byte(k), tr.tokens[k]); err != nil {
			return err
		}
	}
	if err := builder.Close(); err != nil {
		return err
	}
	fst, err := vellum.Load(buf.Bytes())
	if err != nil {
		return err
	}
	tr.fst = fst
	tr.dirty = false
	return nil
}

// Candidate is one fuzzy/prefix match: the matched token, its stable
// id, and the edit distance it was found at (0 for exact/prefix).
type Candidate struct {
	Token    string
	ID       uint64
	EditCost int
}

// Fuzzy enumerates every token within maxEdits Levenshtein distance of
// term, via a Levenshtein automaton intersected with the field's FST.
func (tr *Trie) Fuzzy(term string, maxEdits int) ([]Candidate, error) {
	if err := tr.rebuild(); err != nil {
		return nil, err
	}
	if tr.fst == nil {
		return nil, nil
	}
	var out []Candidate
	for edits := 0; edits <= maxEdits; edits++ {
		lb, err := levenshtein.NewLevenshteinAutomatonBuilder(uint8(edits), true)
		if err != nil {
			return nil, err
		}
		dfa, err := lb.BuildDfa(term, uint8(edits))
		if err != nil {
			return nil, err
		}
		itr, err := tr.fst.Search(dfa, nil, nil)
		for err == nil {
			key, val := itr.Current()
			tok := string(key)
			if !containsToken(out, tok) {
				out = append(out, Candidate{Token: tok, ID: val, EditCost: edits})
			}
			err = itr.Next()
		}
		if err != nil && err != vellum.ErrIteratorDone {
			return nil, err
		}
	}
	return out, nil
}

func containsToken(cs []Candidate, token string) bool {
	for _, c := range cs {
		if c.Token == token {
			return true
		}
	}
	return false
}

// Prefix enumerates every token with the given prefix.
func (tr *Trie) Prefix(prefix string) ([]Candidate, error) {
	if err := tr.rebuild(); err != nil {
		return nil, err
	}
	if tr.fst == nil {
		return nil, nil
	}
	end := prefixUpperBound(prefix)
	itr, err := tr.fst.Search(nil, []byte(prefix), end)
	var out []Candidate
	for err == nil {
		key, val := itr.Current()
		out = append(out, Candidate{Token: string(key), ID: val})
		err = itr.Next()
	}
	if err != nil && err != vellum.ErrIteratorDone {
		return nil, err
	}
	return out, nil
}

// prefixUpperBound returns the smallest byte string that is strictly
// greater than every string prefixed by prefix, or nil if prefix is
// all 0xff bytes (unbounded above).
func prefixUpperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			out := append([]byte(nil), b[:i+1]...)
			out[i]++
			return out
		}
	}
	return nil
}
