package ints

import "sort"

// Sorted is a compressed container for a monotonically ordered
// sequence of uint32 values (posting-list id arrays, offset-index
// arrays). It stores values FOR+bit-packed from a block minimum and
// keeps length/min/max as hot metadata.
//
// Mutations decompress, mutate, and repack; at the BlockCap-sized
// scale these containers are used at, that is cheap and keeps the
// implementation obviously correct. The compressed representation
// (Uncompress/Load) is what callers persist and pass around.
type Sorted struct {
	length   int
	min, max uint32
	bitWidth uint8
	data     []byte
}

// NewSorted builds an empty container.
func NewSorted() *Sorted { return &Sorted{} }

// Len returns the number of stored values.
func (s *Sorted) Len() int { return s.length }

// Min and Max return the smallest/largest stored value; both are 0 for
// an empty container.
func (s *Sorted) Min() uint32 { return s.min }
func (s *Sorted) Max() uint32 { return s.max }

// At returns the value at logical index i.
func (s *Sorted) At(i int) uint32 {
	if i < 0 || i >= s.length {
		panic("ints.Sorted: index out of range")
	}
	return unpackDeltas(s.data, s.length, s.min, s.bitWidth)[i]
}

// Uncompress returns every stored value in order.
func (s *Sorted) Uncompress() []uint32 {
	if s.length == 0 {
		return nil
	}
	return unpackDeltas(s.data, s.length, s.min, s.bitWidth)
}

// Load replaces the container's contents with values, which must
// already be sorted ascending.
func (s *Sorted) Load(values []uint32) {
	s.length = len(values)
	if s.length == 0 {
		s.min, s.max, s.bitWidth, s.data = 0, 0, 0, nil
		return
	}
	s.min, s.max = values[0], values[len(values)-1]
	s.bitWidth = bitWidthFor(s.max - s.min)
	s.data = packDeltas(values, s.min, s.bitWidth)
}

// Append inserts v keeping sort order (v is expected to be >= current
// Max in the hot-path case of ascending ids, but any position is
// handled correctly).
func (s *Sorted) Append(v uint32) {
	vals := s.Uncompress()
	i := sort.Search(len(vals), func(i int) bool { return vals[i] >= v })
	vals = append(vals, 0)
	copy(vals[i+1:], vals[i:])
	vals[i] = v
	s.Load(vals)
}

// InsertAt inserts v at logical index i, shifting subsequent values
// right. Callers are responsible for keeping sort order if that
// invariant matters to them.
func (s *Sorted) InsertAt(i int, v uint32) {
	vals := s.Uncompress()
	if i < 0 || i > len(vals) {
		panic("ints.Sorted: index out of range")
	}
	vals = append(vals, 0)
	copy(vals[i+1:], vals[i:])
	vals[i] = v
	s.Load(vals)
}

// RemoveValue removes the first occurrence of v, reporting whether it
// was present.
func (s *Sorted) RemoveValue(v uint32) bool {
	vals := s.Uncompress()
	i := sort.Search(len(vals), func(i int) bool { return vals[i] >= v })
	if i >= len(vals) || vals[i] != v {
		return false
	}
	vals = append(vals[:i], vals[i+1:]...)
	s.Load(vals)
	return true
}

// RemoveRange removes logical indices [start, end).
func (s *Sorted) RemoveRange(start, end int) {
	vals := s.Uncompress()
	if start < 0 || end > len(vals) || start > end {
		panic("ints.Sorted: invalid range")
	}
	vals = append(vals[:start], vals[end:]...)
	s.Load(vals)
}

// IndexOf returns the index of v and true, or (insertion point, false)
// if v is absent. Runs a binary search over the capped-size block.
func (s *Sorted) IndexOf(v uint32) (int, bool) {
	vals := s.Uncompress()
	i := sort.Search(len(vals), func(i int) bool { return vals[i] >= v })
	if i < len(vals) && vals[i] == v {
		return i, true
	}
	return i, false
}

// Clone returns an independent copy.
func (s *Sorted) Clone() *Sorted {
	cp := &Sorted{length: s.length, min: s.min, max: s.max, bitWidth: s.bitWidth}
	if s.data != nil {
		cp.data = append([]byte(nil), s.data...)
	}
	return cp
}
