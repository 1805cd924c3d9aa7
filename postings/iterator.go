package postings

import "sort"

// Iterator walks a List's entries in ascending id order. Callers must
// check Valid after Next/SkipTo before reading ID/Offsets.
type Iterator struct {
	list *List

	compact []Entry
	idx     int

	blk        *block
	blkEntries []Entry
	blkIdx     int
}

// NewIterator returns an iterator positioned at the list's first
// entry.
func (l *List) NewIterator() *Iterator {
	it := &Iterator{list: l}
	if l.kind == KindCompact {
		it.compact = l.compact
		return it
	}
	it.blk = l.root
	if it.blk != nil {
		it.blkEntries = it.blk.entries()
	}
	return it
}

func lowerBound(es []Entry, id uint32) int {
	return sort.Search(len(es), func(i int) bool { return es[i].ID >= id })
}

// Valid reports whether the iterator is positioned at an entry,
// rolling forward across exhausted blocks as a side effect.
func (it *Iterator) Valid() bool {
	if it.list.kind == KindCompact {
		return it.idx < len(it.compact)
	}
	for it.blk != nil && it.blkIdx >= len(it.blkEntries) {
		it.blk = it.blk.next
		it.blkIdx = 0
		if it.blk != nil {
			it.blkEntries = it.blk.entries()
		}
	}
	return it.blk != nil
}

// ID returns the current entry's id. Call only when Valid.
func (it *Iterator) ID() uint32 {
	if it.list.kind == KindCompact {
		return it.compact[it.idx].ID
	}
	return it.blkEntries[it.blkIdx].ID
}

// Offsets returns the current entry's offsets. Call only when Valid.
func (it *Iterator) Offsets() []uint32 {
	if it.list.kind == KindCompact {
		return it.compact[it.idx].Offsets
	}
	return it.blkEntries[it.blkIdx].Offsets
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	if it.list.kind == KindCompact {
		it.idx++
		return
	}
	it.blkIdx++
}

// SkipTo advances the iterator to the first entry with id >= target.
func (it *Iterator) SkipTo(target uint32) {
	if it.list.kind == KindCompact {
		for it.idx < len(it.compact) && it.compact[it.idx].ID < target {
			it.idx++
		}
		return
	}
	if it.blk == nil {
		return
	}
	if len(it.blkEntries) > 0 && target <= it.blkEntries[len(it.blkEntries)-1].ID {
		it.blkIdx = lowerBound(it.blkEntries, target)
		return
	}
	blk := it.list.blockFor(target)
	if blk == nil {
		it.blk = nil
		return
	}
	it.blk = blk
	it.blkEntries = blk.entries()
	it.blkIdx = lowerBound(it.blkEntries, target)
}

// SkipToRev positions the iterator at the entry with the greatest id
// <= target, or makes it invalid if no such entry exists. It is a
// floor lookup over the materialized list, not genuine reverse
// iteration over the singly linked chain.
func (it *Iterator) SkipToRev(target uint32) {
	all := it.list.allEntries()
	i := sort.Search(len(all), func(i int) bool { return all[i].ID > target })
	if i == 0 {
		it.markInvalid()
		return
	}
	it.resetTo(all[i-1].ID)
}

func (it *Iterator) markInvalid() {
	it.idx = len(it.compact)
	it.blk = nil
}

func (it *Iterator) resetTo(id uint32) {
	*it = *it.list.NewIterator()
	it.SkipTo(id)
}

// allEntries materializes the whole list — used only by the rarely
// called SkipToRev floor lookup.
func (l *List) allEntries() []Entry {
	if l.kind == KindCompact {
		return l.compact
	}
	var out []Entry
	for b := l.root; b != nil; b = b.next {
		out = append(out, b.entries()...)
	}
	return out
}
