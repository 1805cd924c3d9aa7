// Package collection implements the top-level service object the
// rest of the core is wired into: schema-validated document
// operations, the sharded write path, and the search entry
// point that compiles a filter tree, runs the query orchestrator, and
// applies the curation engine around it. It is the only layer that
// knows a field's declared type, which is why filter-leaf resolution,
// document coercion, and per-field index selection all live here
// rather than in the index packages themselves.
package collection

import (
	"math"
	"strconv"

	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/types"
)

// coerceDocument validates and coerces every schema field of raw
// against its declared type, applying dirtyMode per-field (the
// coercion matrix applies per field, not per document — one field may
// be coerced while a sibling field on the same document is dropped).
// Fields absent from the schema are kept verbatim when the schema
// declares a FallbackFieldType, rejected otherwise.
func coerceDocument(schema *types.CollectionSchema, raw map[string]any, dirtyMode types.DirtyValueMode) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	known := make(map[string]bool, len(schema.Fields))

	for _, fs := range schema.Fields {
		known[fs.Name] = true
		v, present := raw[fs.Name]
		if !present {
			if !fs.Optional {
				return nil, cerr.Validation("field %q is required", fs.Name)
			}
			continue
		}
		coerced, keep, err := coerceValue(fs, v, dirtyMode)
		if err != nil {
			return nil, err
		}
		if keep {
			out[fs.Name] = coerced
		}
	}

	for k, v := range raw {
		if k == "id" || known[k] {
			continue
		}
		if schema.FallbackFieldType == types.FieldUnknown {
			return nil, cerr.Validation("unknown field %q", k)
		}
		out[k] = v
	}
	return out, nil
}

func coerceValue(fs types.FieldSchema, v any, mode types.DirtyValueMode) (any, bool, error) {
	if v == nil {
		if fs.Optional {
			return nil, false, nil
		}
		return nil, false, cerr.Validation("field %q: null value for required field", fs.Name)
	}
	if typeMatches(fs, v) {
		return v, true, nil
	}

	coerced, canCoerce := tryCoerce(fs.Type, v)
	switch mode {
	case types.Reject:
		return nil, false, cerr.Validation("field %q: value does not match declared type", fs.Name)
	case types.Drop:
		return nil, false, nil
	case types.CoerceOrReject:
		if canCoerce {
			return coerced, true, nil
		}
		return nil, false, cerr.Validation("field %q: cannot coerce value to declared type", fs.Name)
	case types.CoerceOrDrop:
		if canCoerce {
			return coerced, true, nil
		}
		return nil, false, nil
	default:
		return nil, false, cerr.Internal("unknown dirty-value mode %d", mode)
	}
}

func typeMatches(fs types.FieldSchema, v any) bool {
	switch fs.Type {
	case types.FieldString:
		_, ok := v.(string)
		return ok
	case types.FieldInt32, types.FieldInt64:
		return asInt(v) != nil
	case types.FieldFloat:
		return asFloat(v) != nil
	case types.FieldBool:
		_, ok := v.(bool)
		return ok
	case types.FieldGeopoint:
		return asGeoPoint(v) != nil
	case types.FieldStringArray:
		return isHomogeneousArray(v, func(e any) bool { _, ok := e.(string); return ok })
	case types.FieldInt32Array, types.FieldInt64Array:
		return isHomogeneousArray(v, func(e any) bool { return asInt(e) != nil })
	case types.FieldFloatArray:
		return isHomogeneousArray(v, func(e any) bool { return asFloat(e) != nil })
	case types.FieldBoolArray:
		return isHomogeneousArray(v, func(e any) bool { _, ok := e.(bool); return ok })
	case types.FieldObject, types.FieldObjectArray:
		return true
	case types.FieldVector:
		return asVector(v, fs.VectorDim) != nil
	default:
		return true
	}
}

// tryCoerce attempts to convert v to t's Go representation, used only
// under COERCE_OR_* dirty-value modes.
func tryCoerce(t types.FieldType, v any) (any, bool) {
	switch t {
	case types.FieldString:
		return stringify(v), true
	case types.FieldInt32, types.FieldInt64:
		if n := asInt(v); n != nil {
			return *n, true
		}
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, true
			}
		}
		return nil, false
	case types.FieldFloat:
		if f := asFloat(v); f != nil {
			return *f, true
		}
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
		return nil, false
	case types.FieldBool:
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(s); err == nil {
				return b, true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func asInt(v any) *int64 {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) {
			n := int64(x)
			return &n
		}
	case float32:
		if float64(x) == math.Trunc(float64(x)) {
			n := int64(x)
			return &n
		}
	case int:
		n := int64(x)
		return &n
	case int32:
		n := int64(x)
		return &n
	case int64:
		return &x
	}
	return nil
}

func asFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case float32:
		f := float64(x)
		return &f
	case int:
		f := float64(x)
		return &f
	case int64:
		f := float64(x)
		return &f
	}
	return nil
}

func asGeoPoint(v any) *types.GeoPoint {
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 {
		return nil
	}
	lat := asFloat(arr[0])
	lng := asFloat(arr[1])
	if lat == nil || lng == nil {
		return nil
	}
	return &types.GeoPoint{Lat: *lat, Lng: *lng}
}

func asVector(v any, dim int) []float32 {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	if dim > 0 && len(arr) != dim {
		return nil
	}
	out := make([]float32, len(arr))
	for i, e := range arr {
		f := asFloat(e)
		if f == nil {
			return nil
		}
		out[i] = float32(*f)
	}
	return out
}

func isHomogeneousArray(v any, pred func(any) bool) bool {
	arr, ok := v.([]any)
	if !ok {
		return false
	}
	for _, e := range arr {
		if !pred(e) {
			return false
		}
	}
	return true
}

func asStringArray(v any) []string {
	arr, _ := v.([]any)
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asFloatArray(v any) []float64 {
	arr, _ := v.([]any)
	out := make([]float64, 0, len(arr))
	for _, e := range arr {
		if f := asFloat(e); f != nil {
			out = append(out, *f)
		}
	}
	return out
}

func asBoolArray(v any) []bool {
	arr, _ := v.([]any)
	out := make([]bool, 0, len(arr))
	for _, e := range arr {
		if b, ok := e.(bool); ok {
			out = append(out, b)
		}
	}
	return out
}
