package mining

// entry is one strand of a pseudo-projection. src is the suffix-item node
// whose transaction list and residual the strand carries; pos is the
// deepest node matched so far. Narrowing moves pos toward the root and
// never touches src or residual, so the residual stays the sound upper
// bound inherited from the suffix node.
type entry struct {
	src      handle
	pos      handle
	residual float64
}

// baseEntries builds the projection for a single-item suffix straight
// from the header list: one strand per suffix node, positioned at itself.
func baseEntries(t *tree, item int) []entry {
	idxs := t.headers[item]
	out := make([]entry, 0, len(idxs))
	for _, idx := range idxs {
		h := t.handleFor(idx)
		out = append(out, entry{src: h, pos: h, residual: t.nodes[idx].utility})
	}
	return out
}

// totalResidual is the branch bound: no itemset reachable from this
// projection can exceed it.
func totalResidual(entries []entry) float64 {
	var sum float64
	for _, e := range entries {
		sum += e.residual
	}
	return sum
}

// candidateBounds walks the strict ancestors of every strand position and
// accumulates, per candidate item, the residuals of the strands that
// could support it. A candidate whose accumulated bound is below the
// threshold cannot head a high-utility extension.
func candidateBounds(t *tree, entries []entry) map[int]float64 {
	cand := make(map[int]float64)
	for _, e := range entries {
		pos, ok := t.resolve(e.pos)
		if !ok {
			continue
		}
		for a := pos.parent; a > 0; a = t.nodes[a].parent {
			cand[t.nodes[a].item] += e.residual
		}
	}
	return cand
}

// narrowTo keeps the strands whose path above pos contains item and moves
// their positions onto that item's node.
func narrowTo(t *tree, entries []entry, item int) []entry {
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		pos, ok := t.resolve(e.pos)
		if !ok {
			continue
		}
		for a := pos.parent; a > 0; a = t.nodes[a].parent {
			if t.nodes[a].item == item {
				out = append(out, entry{src: e.src, pos: t.handleFor(a), residual: e.residual})
				break
			}
		}
	}
	return out
}

// exactUtility sums the true utility and support of the itemset over the
// disjoint transaction lists carried by the strand sources.
func exactUtility(t *tree, ds *Dataset, items []int, entries []entry) (float64, int) {
	var util float64
	var support int
	for _, e := range entries {
		src, ok := t.resolve(e.src)
		if !ok {
			continue
		}
		support += len(src.txns)
		for _, ti := range src.txns {
			for _, item := range items {
				util += ds.ItemUtility(int(ti), item)
			}
		}
	}
	return util, support
}
