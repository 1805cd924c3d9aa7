package search

import (
	"strconv"
	"strings"

	"github.com/mizusearch/core/cerr"
	"github.com/mizusearch/core/filter"
	"github.com/mizusearch/core/types"
)

// ParseSortBy parses a sort_by parameter: up to four comma-separated
// expressions of the form `field:asc|desc`, `_text_match:desc`,
// `_text_match(buckets:N):desc`, `loc(lat,lng):asc`,
// `_eval(filter):desc`, or `_rand(seed)`.
func ParseSortBy(s string) ([]types.SortField, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []types.SortField
	for _, part := range splitTopLevel(s, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sf, err := parseSortExpr(part)
		if err != nil {
			return nil, err
		}
		out = append(out, sf)
	}
	if len(out) > 4 {
		return nil, cerr.Validation("sort_by: at most 4 sort expressions allowed, got %d", len(out))
	}
	return out, nil
}

func parseSortExpr(expr string) (types.SortField, error) {
	body, dir := expr, ""
	if i := strings.LastIndexByte(expr, ':'); i >= 0 && !strings.ContainsAny(expr[i:], ")") {
		body, dir = expr[:i], strings.TrimSpace(expr[i+1:])
	}
	desc := false
	switch strings.ToLower(dir) {
	case "desc":
		desc = true
	case "asc", "":
	default:
		return types.SortField{}, cerr.Validation("sort_by: invalid direction %q", dir)
	}

	switch {
	case strings.HasPrefix(body, "loc(") && strings.HasSuffix(body, ")"):
		args := strings.Split(body[4:len(body)-1], ",")
		if len(args) != 2 {
			return types.SortField{}, cerr.Validation("sort_by: loc() needs exactly (lat, lng)")
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(args[1]), 64)
		if err1 != nil || err2 != nil {
			return types.SortField{}, cerr.Validation("sort_by: invalid loc() coordinates in %q", body)
		}
		return types.SortField{IsGeo: true, GeoLat: lat, GeoLng: lng, Desc: desc}, nil

	case strings.HasPrefix(body, "_eval(") && strings.HasSuffix(body, ")"):
		node, err := filter.Parse(body[len("_eval(") : len(body)-1])
		if err != nil {
			return types.SortField{}, err
		}
		return types.SortField{Field: "_eval", EvalFilter: node, Desc: desc}, nil

	case strings.HasPrefix(body, "_rand(") && strings.HasSuffix(body, ")"):
		seed, err := strconv.ParseInt(strings.TrimSpace(body[len("_rand("):len(body)-1]), 10, 64)
		if err != nil {
			return types.SortField{}, cerr.Validation("sort_by: invalid _rand seed in %q", body)
		}
		return types.SortField{Field: "_rand", RandomSeed: seed, Desc: desc}, nil

	case strings.HasPrefix(body, "_text_match(") && strings.HasSuffix(body, ")"):
		inner := body[len("_text_match(") : len(body)-1]
		sf := types.SortField{Field: "_text_match", Desc: desc}
		if after, found := strings.CutPrefix(strings.TrimSpace(inner), "buckets:"); found {
			n, err := strconv.Atoi(strings.TrimSpace(after))
			if err != nil {
				return types.SortField{}, cerr.Validation("sort_by: invalid buckets count in %q", body)
			}
			sf.Buckets = n
		}
		return sf, nil

	default:
		if body == "" {
			return types.SortField{}, cerr.Validation("sort_by: empty sort expression")
		}
		return types.SortField{Field: body, Desc: desc}, nil
	}
}

// ParseVectorQuery parses the vector_query parameter:
//
//	field:([v0, v1, ...], k:K, alpha:a, id:ID, distance_threshold:t,
//	       flat_search_cutoff:c, ef:e)
//
// The vector literal may be empty ("[]") when id or query-text
// auto-embedding supplies the vector instead.
func ParseVectorQuery(s string) (*types.VectorQuery, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return nil, cerr.Validation("vector_query: expected \"field:(...)\"")
	}
	vq := &types.VectorQuery{Field: s[:i]}
	rest := strings.TrimSpace(s[i+1:])
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return nil, cerr.Validation("vector_query: arguments must be parenthesized")
	}
	for _, arg := range splitTopLevel(rest[1:len(rest)-1], ',') {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		if strings.HasPrefix(arg, "[") {
			vec, err := parseVectorLiteral(arg)
			if err != nil {
				return nil, err
			}
			vq.Vector = vec
			continue
		}
		name, value, found := strings.Cut(arg, ":")
		if !found {
			return nil, cerr.Validation("vector_query: malformed argument %q", arg)
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		switch name {
		case "k":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, cerr.Validation("vector_query: invalid k %q", value)
			}
			vq.K = n
		case "alpha":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, cerr.Validation("vector_query: invalid alpha %q", value)
			}
			vq.Alpha = f
			vq.AlphaSet = true
		case "id":
			vq.RefDocID = value
		case "distance_threshold":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, cerr.Validation("vector_query: invalid distance_threshold %q", value)
			}
			vq.DistanceThreshold = f
			vq.HasThreshold = true
		case "flat_search_cutoff":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, cerr.Validation("vector_query: invalid flat_search_cutoff %q", value)
			}
			vq.FlatSearchCutoff = n
		case "ef":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, cerr.Validation("vector_query: invalid ef %q", value)
			}
			vq.Ef = n
		default:
			return nil, cerr.Validation("vector_query: unknown argument %q", name)
		}
	}
	return vq, nil
}

func parseVectorLiteral(s string) ([]float32, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, cerr.Validation("vector_query: malformed vector literal %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, cerr.Validation("vector_query: invalid vector component %q", part)
		}
		out = append(out, float32(f))
	}
	return out, nil
}

// splitTopLevel splits s on sep, ignoring separators nested inside
// (), [] pairs.
func splitTopLevel(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
