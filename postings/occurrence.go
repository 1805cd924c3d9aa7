package postings

// Occurrence is one decoded position of a token within a document
// field: its 0-based offset, the array element it belongs to (0 for
// scalar fields), and whether it was the last token of the whole
// field.
//
// The source encodes this with a variable-length sentinel trailer per
// array element to save bytes. This module re-expresses the same
// queryable facts (array-locality, last-token-ness) as a fixed-width
// 3-tuple per occurrence instead: simpler to decode correctly, still
// inline in the offsets stream (no side structure), at the cost of a
// few extra bytes per occurrence. See DESIGN.md.
type Occurrence struct {
	Offset     uint32
	ArrayIndex uint32
	LastToken  bool
}

// EncodeOccurrences packs occurrences into the flat uint32 stream a
// posting-list Entry stores as its Offsets.
func EncodeOccurrences(occs []Occurrence) []uint32 {
	out := make([]uint32, 0, len(occs)*3)
	for _, o := range occs {
		last := uint32(0)
		if o.LastToken {
			last = 1
		}
		out = append(out, o.Offset, o.ArrayIndex, last)
	}
	return out
}

// DecodeOccurrences reverses EncodeOccurrences.
func DecodeOccurrences(offsets []uint32) []Occurrence {
	n := len(offsets) / 3
	out := make([]Occurrence, n)
	for i := 0; i < n; i++ {
		out[i] = Occurrence{
			Offset:     offsets[i*3],
			ArrayIndex: offsets[i*3+1],
			LastToken:  offsets[i*3+2] != 0,
		}
	}
	return out
}
