package postings

import "sort"

// Kind tags which representation backs a List, a tagged sum in place
// of a low-bit pointer tag.
type Kind uint8

const (
	KindCompact Kind = iota
	KindChained
)

const (
	defaultCompactThreshold = 64
	defaultBlockMax         = 256
	demoteThreshold         = 10
)

type lastIDEntry struct {
	lastID uint32
	blk    *block
}

// List is one token's posting list: a tagged sum of a compact flat
// form and a block-chained form, transitioning between the two by
// total length.
type List struct {
	kind Kind

	compact []Entry // KindCompact

	root      *block // KindChained
	lastIDMap []lastIDEntry

	compactThreshold int
	blockMax         int
}

// New builds an empty, compact-form posting list. blockMax and
// compactThreshold default to the stock values (256, 64) when <= 0.
func New(blockMax, compactThreshold int) *List {
	if blockMax <= 0 {
		blockMax = defaultBlockMax
	}
	if compactThreshold <= 0 {
		compactThreshold = defaultCompactThreshold
	}
	return &List{kind: KindCompact, compactThreshold: compactThreshold, blockMax: blockMax}
}

// Len returns the total number of ids across the whole list.
func (l *List) Len() int {
	if l.kind == KindCompact {
		return len(l.compact)
	}
	n := 0
	for b := l.root; b != nil; b = b.next {
		n += b.size()
	}
	return n
}

// Contains reports whether id is present.
func (l *List) Contains(id uint32) bool {
	if l.kind == KindCompact {
		_, found := searchEntries(l.compact, id)
		return found
	}
	blk := l.blockFor(id)
	if blk == nil {
		return false
	}
	_, found := searchEntries(blk.entries(), id)
	return found
}

// Upsert inserts id with offsets, or replaces offsets if id exists,
// materializing into chained form if the compact-length threshold is
// crossed.
func (l *List) Upsert(id uint32, offsets []uint32) {
	if l.kind == KindCompact {
		idx, found := searchEntries(l.compact, id)
		e := Entry{ID: id, Offsets: append([]uint32(nil), offsets...)}
		if found {
			l.compact[idx] = e
		} else {
			l.compact = append(l.compact, Entry{})
			copy(l.compact[idx+1:], l.compact[idx:])
			l.compact[idx] = e
		}
		if len(l.compact) > l.compactThreshold {
			l.materialize()
		}
		return
	}

	blk := l.blockFor(id)
	if blk.size() < l.blockMax {
		blk.upsert(id, offsets)
		l.rebuildLastIDMap()
		return
	}
	if id > blk.lastID() && blk.next == nil {
		nb := newBlock()
		nb.upsert(id, offsets)
		blk.next = nb
		l.rebuildLastIDMap()
		return
	}
	blk.upsert(id, offsets)
	l.splitBlock(blk)
	l.rebuildLastIDMap()
}

// Erase removes id, applying the block merge/shrink discipline and
// demoting back to compact form when the list collapses to a single
// small block.
func (l *List) Erase(id uint32) {
	if l.kind == KindCompact {
		idx, found := searchEntries(l.compact, id)
		if found {
			l.compact = append(l.compact[:idx], l.compact[idx+1:]...)
		}
		return
	}

	blk := l.blockFor(id)
	if blk == nil || !blk.erase(id) {
		return
	}

	if blk.size()*2 < l.blockMax && blk.next != nil {
		nxt := blk.next
		if blk.size()+nxt.size() <= l.blockMax {
			merged := append(blk.entries(), nxt.entries()...)
			blk.load(merged)
			blk.next = nxt.next
		} else {
			move := l.blockMax / 2
			nxtEntries := nxt.entries()
			if move > len(nxtEntries) {
				move = len(nxtEntries)
			}
			merged := append(blk.entries(), nxtEntries[:move]...)
			blk.load(merged)
			nxt.load(nxtEntries[move:])
		}
	}

	l.rebuildLastIDMap()

	if l.root != nil && l.root.next == nil && l.root.size() <= demoteThreshold {
		l.compact = l.root.entries()
		l.kind = KindCompact
		l.root = nil
		l.lastIDMap = nil
	}
}

// materialize converts a compact list into a single-block chained
// list (which may itself be split immediately on the next insert).
func (l *List) materialize() {
	b := newBlock()
	b.load(l.compact)
	l.root = b
	l.kind = KindChained
	l.compact = nil
	l.rebuildLastIDMap()
}

// splitBlock halves blk's contents into blk and a freshly threaded
// successor block.
func (l *List) splitBlock(blk *block) {
	es := blk.entries()
	mid := len(es) / 2
	left, right := es[:mid], es[mid:]
	nb := newBlock()
	nb.load(right)
	nb.next = blk.next
	blk.load(left)
	blk.next = nb
}

// rebuildLastIDMap walks the chain and recomputes the last-id index.
// A full walk is cheap at the block counts this list is expected to
// hold and keeps split/merge bookkeeping simple to get right.
func (l *List) rebuildLastIDMap() {
	l.lastIDMap = l.lastIDMap[:0]
	for b := l.root; b != nil; b = b.next {
		l.lastIDMap = append(l.lastIDMap, lastIDEntry{lastID: b.lastID(), blk: b})
	}
}

// blockFor returns the block that owns (or would own) id: the first
// block whose last id is >= id, or the tail block if id exceeds every
// block's last id.
func (l *List) blockFor(id uint32) *block {
	if l.root == nil {
		return nil
	}
	i := sort.Search(len(l.lastIDMap), func(i int) bool { return l.lastIDMap[i].lastID >= id })
	if i == len(l.lastIDMap) {
		return l.lastIDMap[len(l.lastIDMap)-1].blk
	}
	return l.lastIDMap[i].blk
}
