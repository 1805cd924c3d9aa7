package ints

// Unsorted is a compressed container for an unordered stream of
// uint32 values (a posting block's raw offsets stream). Same FOR +
// bit-packed-delta encoding as Sorted, but min/max/bitWidth are
// recomputed from the full value set (there's no "last inserted is
// largest" shortcut to exploit).
type Unsorted struct {
	length   int
	min, max uint32
	bitWidth uint8
	data     []byte
}

func NewUnsorted() *Unsorted { return &Unsorted{} }

func (u *Unsorted) Len() int { return u.length }

func (u *Unsorted) At(i int) uint32 {
	if i < 0 || i >= u.length {
		panic("ints.Unsorted: index out of range")
	}
	return unpackDeltas(u.data, u.length, u.min, u.bitWidth)[i]
}

func (u *Unsorted) Uncompress() []uint32 {
	if u.length == 0 {
		return nil
	}
	return unpackDeltas(u.data, u.length, u.min, u.bitWidth)
}

func (u *Unsorted) Load(values []uint32) {
	u.length = len(values)
	if u.length == 0 {
		u.min, u.max, u.bitWidth, u.data = 0, 0, 0, nil
		return
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	u.min, u.max = min, max
	u.bitWidth = bitWidthFor(max - min)
	u.data = packDeltas(values, u.min, u.bitWidth)
}

// Append adds v to the end of the stream.
func (u *Unsorted) Append(v uint32) {
	vals := append(u.Uncompress(), v)
	u.Load(vals)
}

// AppendAll adds vs to the end of the stream, in order.
func (u *Unsorted) AppendAll(vs []uint32) {
	vals := append(u.Uncompress(), vs...)
	u.Load(vals)
}

// RemoveRange removes logical indices [start, end).
func (u *Unsorted) RemoveRange(start, end int) {
	vals := u.Uncompress()
	if start < 0 || end > len(vals) || start > end {
		panic("ints.Unsorted: invalid range")
	}
	vals = append(vals[:start], vals[end:]...)
	u.Load(vals)
}

// Clone returns an independent copy.
func (u *Unsorted) Clone() *Unsorted {
	cp := &Unsorted{length: u.length, min: u.min, max: u.max, bitWidth: u.bitWidth}
	if u.data != nil {
		cp.data = append([]byte(nil), u.data...)
	}
	return cp
}
