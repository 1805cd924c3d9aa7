package postings

// Intersect returns the documents present in every list, with each
// result entry's offsets equal to the concatenation of that id's
// offsets across the input lists, in list order. A specialized
// two-list merge path is used when len(lists) == 2.
func Intersect(lists ...*List) []Entry {
	switch len(lists) {
	case 0:
		return nil
	case 1:
		return lists[0].allEntries()
	case 2:
		return intersectTwo(lists[0], lists[1])
	}
	iters := make([]*Iterator, len(lists))
	for i, l := range lists {
		iters[i] = l.NewIterator()
	}
	return intersectN(iters)
}

func intersectTwo(a, b *List) []Entry {
	ia, ib := a.NewIterator(), b.NewIterator()
	var out []Entry
	for ia.Valid() && ib.Valid() {
		switch {
		case ia.ID() == ib.ID():
			offs := append(append([]uint32{}, ia.Offsets()...), ib.Offsets()...)
			out = append(out, Entry{ID: ia.ID(), Offsets: offs})
			ia.Next()
			ib.Next()
		case ia.ID() < ib.ID():
			ia.SkipTo(ib.ID())
		default:
			ib.SkipTo(ia.ID())
		}
	}
	return out
}

func intersectN(iters []*Iterator) []Entry {
	var out []Entry
	for {
		allValid := true
		for _, it := range iters {
			if !it.Valid() {
				allValid = false
				break
			}
		}
		if !allValid {
			return out
		}

		max := iters[0].ID()
		for _, it := range iters[1:] {
			if id := it.ID(); id > max {
				max = id
			}
		}

		agree := true
		for _, it := range iters {
			if it.ID() != max {
				it.SkipTo(max)
				agree = false
			}
		}
		if !agree {
			continue
		}

		var offs []uint32
		for _, it := range iters {
			offs = append(offs, it.Offsets()...)
		}
		out = append(out, Entry{ID: max, Offsets: offs})
		for _, it := range iters {
			it.Next()
		}
	}
}

// Union returns the documents present in any list, with each result
// entry's offsets equal to the concatenation of that id's offsets
// across whichever lists contained it.
func Union(lists ...*List) []Entry {
	iters := make([]*Iterator, 0, len(lists))
	for _, l := range lists {
		it := l.NewIterator()
		if it.Valid() {
			iters = append(iters, it)
		}
	}
	var out []Entry
	for len(iters) > 0 {
		min := iters[0].ID()
		for _, it := range iters[1:] {
			if id := it.ID(); id < min {
				min = id
			}
		}
		var offs []uint32
		for _, it := range iters {
			if it.ID() == min {
				offs = append(offs, it.Offsets()...)
				it.Next()
			}
		}
		out = append(out, Entry{ID: min, Offsets: offs})

		next := iters[:0]
		for _, it := range iters {
			if it.Valid() {
				next = append(next, it)
			}
		}
		iters = next
	}
	return out
}

// matchStartingAt reports whether, for some occurrence of the first
// token, the remaining k-1 tokens occur at consecutive offsets within
// the same array element (rejecting wrap-around across elements). When
// requireLastToken is set, the k-th token's occurrence must also be
// flagged as the field's last token — that's the difference between
// an exact field match and a bare phrase match.
func matchStartingAt(occsPerToken [][]Occurrence, requireLastToken bool) bool {
	k := len(occsPerToken)
	if k == 0 {
		return false
	}
	for _, first := range occsPerToken[0] {
		ok := true
		for i := 1; i < k; i++ {
			found := false
			for _, o := range occsPerToken[i] {
				if o.ArrayIndex != first.ArrayIndex || o.Offset != first.Offset+uint32(i) {
					continue
				}
				if i == k-1 && requireLastToken && !o.LastToken {
					continue
				}
				found = true
				break
			}
			if !found {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func occurrencesFor(tokenLists []*List, docID uint32) ([][]Occurrence, bool) {
	occs := make([][]Occurrence, len(tokenLists))
	for i, l := range tokenLists {
		it := l.NewIterator()
		it.SkipTo(docID)
		if !it.Valid() || it.ID() != docID {
			return nil, false
		}
		occs[i] = DecodeOccurrences(it.Offsets())
	}
	return occs, true
}

// ExactMatch reports whether docID's token sequence for these lists
// (one per query token, in query order) matches the query exactly: the
// tokens occur at consecutive offsets within one array element and the
// last query token lands on the field's last-token occurrence.
func ExactMatch(tokenLists []*List, docID uint32) bool {
	occs, ok := occurrencesFor(tokenLists, docID)
	if !ok {
		return false
	}
	return matchStartingAt(occs, true)
}

// PhraseMatch reports whether docID's token sequence contains the
// query tokens at consecutive offsets within one array element,
// without requiring the match to reach the field's end.
func PhraseMatch(tokenLists []*List, docID uint32) bool {
	occs, ok := occurrencesFor(tokenLists, docID)
	if !ok {
		return false
	}
	return matchStartingAt(occs, false)
}
