// Package postings implements the block-chained, offset-carrying
// inverted index for a single token: a compact flat form for short
// lists and a linked chain of capped blocks for long ones.
package postings

import "github.com/mizusearch/core/ints"

// Entry is one (id, offsets) pair of a posting list.
type Entry struct {
	ID      uint32
	Offsets []uint32
}

// block is one segment of a chained posting list: a sorted id array,
// a parallel sorted offset-index array giving each id's start position
// in the offsets stream, and the (unsorted) offsets stream itself.
// Mutation is done by decoding to []Entry, editing, and re-encoding —
// simple and obviously correct at the BlockMaxElements scale these are
// capped to.
type block struct {
	ids         *ints.Sorted
	offsetIndex *ints.Sorted
	offsets     *ints.Unsorted
	next        *block
}

func newBlock() *block {
	return &block{ids: ints.NewSorted(), offsetIndex: ints.NewSorted(), offsets: ints.NewUnsorted()}
}

func (b *block) size() int { return b.ids.Len() }

func (b *block) lastID() uint32 {
	n := b.ids.Len()
	if n == 0 {
		return 0
	}
	return b.ids.At(n - 1)
}

func (b *block) entries() []Entry {
	ids := b.ids.Uncompress()
	oi := b.offsetIndex.Uncompress()
	offs := b.offsets.Uncompress()
	out := make([]Entry, len(ids))
	for i, id := range ids {
		start := int(oi[i])
		end := len(offs)
		if i+1 < len(oi) {
			end = int(oi[i+1])
		}
		out[i] = Entry{ID: id, Offsets: append([]uint32(nil), offs[start:end]...)}
	}
	return out
}

func (b *block) load(entries []Entry) {
	ids := make([]uint32, len(entries))
	oi := make([]uint32, len(entries))
	var offs []uint32
	for i, e := range entries {
		ids[i] = e.ID
		oi[i] = uint32(len(offs))
		offs = append(offs, e.Offsets...)
	}
	b.ids.Load(ids)
	b.offsetIndex.Load(oi)
	b.offsets.Load(offs)
}

func searchEntries(es []Entry, id uint32) (idx int, found bool) {
	lo, hi := 0, len(es)
	for lo < hi {
		mid := (lo + hi) / 2
		if es[mid].ID < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(es) && es[lo].ID == id {
		return lo, true
	}
	return lo, false
}

// upsert inserts id with offsets, or replaces its offsets if id is
// already present.
func (b *block) upsert(id uint32, offsets []uint32) {
	es := b.entries()
	idx, found := searchEntries(es, id)
	e := Entry{ID: id, Offsets: append([]uint32(nil), offsets...)}
	if found {
		es[idx] = e
	} else {
		es = append(es, Entry{})
		copy(es[idx+1:], es[idx:])
		es[idx] = e
	}
	b.load(es)
}

// erase removes id, reporting whether it was present.
func (b *block) erase(id uint32) bool {
	es := b.entries()
	idx, found := searchEntries(es, id)
	if !found {
		return false
	}
	es = append(es[:idx], es[idx+1:]...)
	b.load(es)
	return true
}
