package collection

import (
	"sync"

	"github.com/mizusearch/core/config"
	"github.com/mizusearch/core/facet"
	"github.com/mizusearch/core/geoindex"
	"github.com/mizusearch/core/numindex"
	"github.com/mizusearch/core/postings"
	"github.com/mizusearch/core/text"
	"github.com/mizusearch/core/types"
)

// stringField is one shard's string-typed field index: a fuzzy trie
// plus the per-token posting lists it resolves into.
type stringField struct {
	trie  *text.Trie
	lists map[string]*postings.List
}

func newStringField() *stringField {
	return &stringField{trie: text.New(), lists: make(map[string]*postings.List)}
}

func (f *stringField) listFor(token string, cfg config.Config) *postings.List {
	l, ok := f.lists[token]
	if !ok {
		l = postings.New(cfg.BlockMaxElements, cfg.CompactPostingThreshold)
		f.lists[token] = l
		f.trie.Add(token)
	}
	return l
}

// shard owns a disjoint subset of a collection's documents (selected
// by seq_id mod num_memory_shards) and a complete, self-contained
// set of field indices over just that subset. Search fans
// out across every shard and merges partial results; writes to
// disjoint shards proceed under independent locks so they can run in
// parallel.
type shard struct {
	mu sync.RWMutex

	id int

	docs map[types.SeqID]*types.Document

	strings map[string]*stringField
	numeric map[string]*numindex.Tree
	geo     map[string]*geoindex.Index
	facets  map[string]*facet.Index
}

func newShard(id int) *shard {
	return &shard{
		id:      id,
		docs:    make(map[types.SeqID]*types.Document),
		strings: make(map[string]*stringField),
		numeric: make(map[string]*numindex.Tree),
		geo:     make(map[string]*geoindex.Index),
		facets:  make(map[string]*facet.Index),
	}
}

func (sh *shard) stringField(name string) *stringField {
	f, ok := sh.strings[name]
	if !ok {
		f = newStringField()
		sh.strings[name] = f
	}
	return f
}

func (sh *shard) numericTree(name string) *numindex.Tree {
	t, ok := sh.numeric[name]
	if !ok {
		t = numindex.New()
		sh.numeric[name] = t
	}
	return t
}

func (sh *shard) geoIndex(name string) *geoindex.Index {
	g, ok := sh.geo[name]
	if !ok {
		g = geoindex.New()
		sh.geo[name] = g
	}
	return g
}

func (sh *shard) facetIndex(name string) *facet.Index {
	fx, ok := sh.facets[name]
	if !ok {
		fx = facet.New()
		sh.facets[name] = fx
	}
	return fx
}

// indexField applies (insert=true) or reverses (insert=false) one
// schema field's contribution to this shard's indices for seqID's
// value v. Reversal is used on delete and on update-before-reinsert,
// so every index stays consistent with the doc's current field set.
func (sh *shard) indexField(cfg config.Config, fs types.FieldSchema, seqID types.SeqID, v any, insert bool) {
	if fs.Facet {
		sh.applyFacet(fs, seqID, v, insert)
		if fx := sh.facets[fs.Name]; insert && cfg.FacetHighCardinalityRatio > 0 &&
			facet.ShouldFallback(fx.DistinctValues(), len(sh.docs), cfg.FacetHighCardinalityRatio, cfg.FacetHighCardinalityMinDocs) {
			fx.EnableFallback()
		}
	}
	if !fs.Index {
		return
	}
	switch fs.Type {
	case types.FieldString:
		s, _ := v.(string)
		sh.applyStringScalar(cfg, fs, seqID, s, insert)
	case types.FieldStringArray:
		sh.applyStringArray(cfg, fs, seqID, asStringArray(v), insert)
	case types.FieldInt32, types.FieldInt64:
		if n := asInt(v); n != nil {
			sh.applyNumeric(fs, seqID, *n, insert)
		}
		sh.removeNumericDoc(fs, seqID, insert)
	case types.FieldFloat:
		if f := asFloat(v); f != nil {
			sh.applyNumeric(fs, seqID, numindex.PackFloat(*f), insert)
		}
		sh.removeNumericDoc(fs, seqID, insert)
	case types.FieldBool:
		if b, ok := v.(bool); ok {
			sh.applyNumeric(fs, seqID, numindex.PackBool(b), insert)
		}
		sh.removeNumericDoc(fs, seqID, insert)
	case types.FieldInt32Array, types.FieldInt64Array:
		for _, f := range asFloatArray(v) {
			sh.applyNumeric(fs, seqID, int64(f), insert)
		}
		sh.removeNumericDoc(fs, seqID, insert)
	case types.FieldFloatArray:
		for _, f := range asFloatArray(v) {
			sh.applyNumeric(fs, seqID, numindex.PackFloat(f), insert)
		}
		sh.removeNumericDoc(fs, seqID, insert)
	case types.FieldBoolArray:
		for _, b := range asBoolArray(v) {
			sh.applyNumeric(fs, seqID, numindex.PackBool(b), insert)
		}
		sh.removeNumericDoc(fs, seqID, insert)
	case types.FieldGeopoint:
		if p := asGeoPoint(v); p != nil {
			if insert {
				sh.geoIndex(fs.Name).Insert(uint32(seqID), *p)
			} else {
				sh.geoIndex(fs.Name).Remove(uint32(seqID))
			}
		}
	}
}

func (sh *shard) applyFacet(fs types.FieldSchema, seqID types.SeqID, v any, insert bool) {
	values := facetValues(fs.Type, v)
	fx := sh.facetIndex(fs.Name)
	for _, val := range values {
		val = types.TruncateFacetValue(val)
		if insert {
			fx.Insert(val, uint32(seqID))
		} else {
			fx.Delete(val, uint32(seqID))
		}
	}
}

func (sh *shard) applyStringScalar(cfg config.Config, fs types.FieldSchema, seqID types.SeqID, s string, insert bool) {
	tokens := text.Tokenize(s)
	for i, tok := range tokens {
		occ := postings.Occurrence{Offset: uint32(i), ArrayIndex: 0, LastToken: i == len(tokens)-1}
		sh.applyToken(cfg, fs.Name, tok, seqID, occ, insert)
	}
}

func (sh *shard) applyStringArray(cfg config.Config, fs types.FieldSchema, seqID types.SeqID, values []string, insert bool) {
	perElement := text.ArrayTokens(values)
	for elemIdx, tokens := range perElement {
		for i, tok := range tokens {
			occ := postings.Occurrence{Offset: uint32(i), ArrayIndex: uint32(elemIdx), LastToken: i == len(tokens)-1}
			sh.applyToken(cfg, fs.Name, tok, seqID, occ, insert)
		}
	}
}

// applyToken upserts or erases a single occurrence into a token's
// posting list. Array-field occurrences at different offsets for the
// same (field, token, doc) accumulate into one entry's offsets stream
// via upsertOccurrence; erase always drops the whole entry (a
// document only ever has one posting-list entry per token).
func (sh *shard) applyToken(cfg config.Config, field, token string, seqID types.SeqID, occ postings.Occurrence, insert bool) {
	sf := sh.stringField(field)
	list := sf.listFor(token, cfg)
	if insert {
		upsertOccurrence(list, uint32(seqID), occ)
	} else {
		list.Erase(uint32(seqID))
		if list.Len() == 0 {
			delete(sf.lists, token)
			sf.trie.Remove(token)
		}
	}
}

// upsertOccurrence merges occ into whatever occurrences the doc
// already has for this token (array fields call Upsert once per
// element), since List.Upsert otherwise replaces the whole entry.
func upsertOccurrence(list *postings.List, id uint32, occ postings.Occurrence) {
	existing := existingOffsets(list, id)
	existing = append(existing, postings.EncodeOccurrences([]postings.Occurrence{occ})...)
	list.Upsert(id, existing)
}

func existingOffsets(list *postings.List, id uint32) []uint32 {
	it := list.NewIterator()
	it.SkipTo(id)
	if it.Valid() && it.ID() == id {
		return append([]uint32(nil), it.Offsets()...)
	}
	return nil
}

func (sh *shard) applyNumeric(fs types.FieldSchema, seqID types.SeqID, key int64, insert bool) {
	t := sh.numericTree(fs.Name)
	if insert {
		t.Insert(key, uint32(seqID))
	} else {
		t.Delete(key, uint32(seqID))
	}
}

// removeNumericDoc drops seqID from fs's not-equals universe once all
// of its values for this field have been unindexed; a no-op on insert.
func (sh *shard) removeNumericDoc(fs types.FieldSchema, seqID types.SeqID, insert bool) {
	if insert {
		return
	}
	sh.numericTree(fs.Name).RemoveDoc(uint32(seqID))
}

// facetValues renders a field's value(s) into the facet index's
// value-string space: scalars become one value, arrays become one
// value per element (each counted independently).
func facetValues(t types.FieldType, v any) []string {
	switch t {
	case types.FieldStringArray:
		return asStringArray(v)
	case types.FieldInt32Array, types.FieldInt64Array, types.FieldFloatArray:
		fs := asFloatArray(v)
		out := make([]string, len(fs))
		for i, f := range fs {
			out[i] = stringify(f)
		}
		return out
	case types.FieldBoolArray:
		bs := asBoolArray(v)
		out := make([]string, len(bs))
		for i, b := range bs {
			out[i] = stringify(b)
		}
		return out
	default:
		return []string{stringify(v)}
	}
}
