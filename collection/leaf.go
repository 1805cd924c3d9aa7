package collection

import (
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/filter"
	"github.com/mizusearch/core/numindex"
	"github.com/mizusearch/core/postings"
	"github.com/mizusearch/core/text"
	"github.com/mizusearch/core/types"
)

// collectionResolver implements filter.LeafResolver over every shard
// of one collection, materializing each leaf's match set into a
// roaring.Bitmap up front, since downstream use is dominated by
// intersection.
//
// String leaves are materialized the same way, rather than kept as
// lazy per-value posting-list-iterator groups: sharding already forces a string filter to union partial
// per-shard matches before the collection-wide AND/OR tree can operate
// on them, so there is no single iterator worth staying lazy over —
// see DESIGN.md.
type collectionResolver struct {
	c *Collection
}

func (r *collectionResolver) MaxSeqID() uint32 { return r.c.nextSeqID.Load() }

func (r *collectionResolver) ResolveLeaf(leaf *types.FilterNode) (filter.Cursor, int, error) {
	if leaf.Field == "id" {
		return r.resolveIDLeaf(leaf)
	}
	fs, ok := r.c.schema.FieldByName(leaf.Field)
	if !ok {
		return nil, 0, cerr.Validation("unknown filter field %q", leaf.Field)
	}

	bm, err := r.materialize(fs, leaf)
	if err != nil {
		return nil, 0, err
	}
	if leaf.Negate {
		bm = roaring.AndNot(r.allIDs(), bm)
	}
	return filter.NewBitmapCursor(bm), int(bm.GetCardinality()), nil
}

// resolveIDLeaf reads userIDToSeq without re-locking: every resolver
// call site already runs under the collection lock Search (or the
// write path) holds, and a recursive RLock can deadlock behind a
// queued writer.
func (r *collectionResolver) resolveIDLeaf(leaf *types.FilterNode) (filter.Cursor, int, error) {
	ids := make([]uint32, 0, len(leaf.Values))
	for _, v := range leaf.Values {
		if seqID, ok := r.c.userIDToSeq[v]; ok {
			ids = append(ids, uint32(seqID))
		}
	}
	bm := roaring.BitmapOf(ids...)
	if leaf.Negate {
		bm = roaring.AndNot(r.allIDs(), bm)
	}
	return filter.NewBitmapCursor(bm), int(bm.GetCardinality()), nil
}

func (r *collectionResolver) allIDs() *roaring.Bitmap {
	out := roaring.New()
	for _, sh := range r.c.shards {
		sh.mu.RLock()
		for id := range sh.docs {
			out.Add(uint32(id))
		}
		sh.mu.RUnlock()
	}
	return out
}

func (r *collectionResolver) materialize(fs types.FieldSchema, leaf *types.FilterNode) (*roaring.Bitmap, error) {
	switch fs.Type {
	case types.FieldGeopoint:
		return r.materializeGeo(fs, leaf)
	case types.FieldString, types.FieldStringArray:
		return r.materializeString(fs, leaf)
	default:
		return r.materializeNumeric(fs, leaf)
	}
}

func (r *collectionResolver) materializeGeo(fs types.FieldSchema, leaf *types.FilterNode) (*roaring.Bitmap, error) {
	out := roaring.New()
	for _, sh := range r.c.shards {
		sh.mu.RLock()
		g, ok := sh.geo[fs.Name]
		if ok {
			switch leaf.Comparator {
			case types.CmpGeoRadius:
				if leaf.GeoRadius != nil {
					out.Or(g.Radius(leaf.GeoRadius.Center.Lat, leaf.GeoRadius.Center.Lng, leaf.GeoRadius.RadiusKM))
				}
			case types.CmpGeoPolygon:
				if leaf.GeoPolygon != nil {
					out.Or(g.Polygon(leaf.GeoPolygon.Vertices))
				}
			}
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

func (r *collectionResolver) materializeString(fs types.FieldSchema, leaf *types.FilterNode) (*roaring.Bitmap, error) {
	out := roaring.New()
	for _, value := range leaf.Values {
		tokens := text.Tokenize(value)
		if len(tokens) == 0 {
			continue
		}
		for _, sh := range r.c.shards {
			sh.mu.RLock()
			sf, ok := sh.strings[fs.Name]
			if ok {
				lists := make([]*postings.List, 0, len(tokens))
				for _, tok := range tokens {
					l, ok := sf.lists[tok]
					if !ok {
						lists = nil
						break
					}
					lists = append(lists, l)
				}
				if lists != nil {
					for _, e := range postings.Intersect(lists...) {
						out.Add(e.ID)
					}
				}
			}
			sh.mu.RUnlock()
		}
	}
	return out, nil
}

func (r *collectionResolver) materializeNumeric(fs types.FieldSchema, leaf *types.FilterNode) (*roaring.Bitmap, error) {
	out := roaring.New()
	for _, sh := range r.c.shards {
		sh.mu.RLock()
		t, ok := sh.numeric[fs.Name]
		if ok {
			bm, err := applyNumericComparator(fs, t, leaf)
			if err != nil {
				sh.mu.RUnlock()
				return nil, err
			}
			out.Or(bm)
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

func applyNumericComparator(fs types.FieldSchema, t *numindex.Tree, leaf *types.FilterNode) (*roaring.Bitmap, error) {
	switch leaf.Comparator {
	case types.CmpEq:
		if len(leaf.Values) == 0 {
			return roaring.New(), nil
		}
		key, err := packNumeric(fs, leaf.Values[0])
		if err != nil {
			return nil, err
		}
		return t.Equals(key), nil
	case types.CmpIn:
		out := roaring.New()
		for _, v := range leaf.Values {
			key, err := packNumeric(fs, v)
			if err != nil {
				return nil, err
			}
			out.Or(t.Equals(key))
		}
		return out, nil
	case types.CmpNotEq:
		if len(leaf.Values) == 0 {
			return t.All(), nil
		}
		key, err := packNumeric(fs, leaf.Values[0])
		if err != nil {
			return nil, err
		}
		return t.NotEquals(key), nil
	case types.CmpGt:
		key, err := packNumeric(fs, leaf.Values[0])
		if err != nil {
			return nil, err
		}
		return t.GreaterThan(key, false), nil
	case types.CmpGte:
		key, err := packNumeric(fs, leaf.Values[0])
		if err != nil {
			return nil, err
		}
		return t.GreaterThan(key, true), nil
	case types.CmpLt:
		key, err := packNumeric(fs, leaf.Values[0])
		if err != nil {
			return nil, err
		}
		return t.LessThan(key, false), nil
	case types.CmpLte:
		key, err := packNumeric(fs, leaf.Values[0])
		if err != nil {
			return nil, err
		}
		return t.LessThan(key, true), nil
	case types.CmpRange:
		if len(leaf.Values) != 2 {
			return nil, cerr.Validation("field %q: range filter needs exactly 2 values", fs.Name)
		}
		lo, err := packNumeric(fs, leaf.Values[0])
		if err != nil {
			return nil, err
		}
		hi, err := packNumeric(fs, leaf.Values[1])
		if err != nil {
			return nil, err
		}
		return t.Range(lo, hi, true, true), nil
	default:
		return nil, cerr.Validation("field %q: unsupported comparator for numeric filter", fs.Name)
	}
}

func packNumeric(fs types.FieldSchema, s string) (int64, error) {
	switch fs.Type {
	case types.FieldFloat, types.FieldFloatArray:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, cerr.Validation("field %q: invalid float %q", fs.Name, s)
		}
		return numindex.PackFloat(f), nil
	case types.FieldBool, types.FieldBoolArray:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return 0, cerr.Validation("field %q: invalid bool %q", fs.Name, s)
		}
		return numindex.PackBool(b), nil
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, cerr.Validation("field %q: invalid integer %q", fs.Name, s)
		}
		return n, nil
	}
}
