package mining

import "sort"

// handle is a weak reference into the tree arena. A handle minted under
// one generation resolves to nothing after Reset bumps the generation,
// which is what invalidates cached projections without tracking them.
type handle struct {
	idx int32
	gen uint32
}

// node is one arena slot. parent is a raw arena index (0 is the root,
// -1 means none). utility accumulates the running prefix utility of every
// transaction inserted through this node, count the number of such
// transactions, and txns their dataset indexes.
type node struct {
	item     int
	parent   int32
	count    int
	utility  float64
	children map[int]int32
	txns     []int32
}

// tree is the shared prefix tree over reorganized transactions. All
// mining works against this single arena through projections; no
// per-suffix conditional trees are ever materialized.
type tree struct {
	gen     uint32
	nodes   []node
	headers map[int][]int32
	order   []int
	rank    map[int]int
	twu     map[int]float64
	dropped int
}

func newTree() *tree {
	t := &tree{gen: 1}
	t.reset()
	return t
}

// reset clears the arena for a rebuild and bumps the generation so every
// outstanding handle and cached projection goes stale.
func (t *tree) reset() {
	t.gen++
	t.nodes = t.nodes[:0]
	t.nodes = append(t.nodes, node{item: -1, parent: -1})
	t.headers = make(map[int][]int32)
	t.order = nil
	t.rank = make(map[int]int)
	t.twu = make(map[int]float64)
	t.dropped = 0
}

// build runs the two construction passes. Pass one accumulates each
// item's transaction-weighted utility and discards items whose TWU falls
// below minTWU. Pass two inserts every transaction, reorganized to the
// retained-item order, incrementing each path node by the running prefix
// utility of the transaction.
func (t *tree) build(ds *Dataset, minTWU float64) {
	t.reset()

	for i := range ds.txns {
		tu := ds.tu[i]
		for _, item := range ds.txns[i].Items {
			t.twu[item] += tu
		}
	}

	for item, w := range t.twu {
		if w >= minTWU {
			t.order = append(t.order, item)
		} else {
			t.dropped++
		}
	}
	sort.Slice(t.order, func(a, b int) bool {
		ia, ib := t.order[a], t.order[b]
		if t.twu[ia] != t.twu[ib] {
			return t.twu[ia] > t.twu[ib]
		}
		return ia < ib
	})
	for r, item := range t.order {
		t.rank[item] = r
	}

	reorg := make([]int, 0, 16)
	for ti := range ds.txns {
		reorg = reorg[:0]
		for _, item := range ds.txns[ti].Items {
			if _, ok := t.rank[item]; ok {
				reorg = append(reorg, item)
			}
		}
		if len(reorg) == 0 {
			continue
		}
		sort.Slice(reorg, func(a, b int) bool { return t.rank[reorg[a]] < t.rank[reorg[b]] })
		t.insert(ds, ti, reorg)
	}
}

func (t *tree) insert(ds *Dataset, ti int, items []int) {
	cur := int32(0)
	running := 0.0
	for _, item := range items {
		child, ok := t.nodes[cur].children[item]
		if !ok {
			child = int32(len(t.nodes))
			t.nodes = append(t.nodes, node{item: item, parent: cur})
			if t.nodes[cur].children == nil {
				t.nodes[cur].children = make(map[int]int32)
			}
			t.nodes[cur].children[item] = child
			t.headers[item] = append(t.headers[item], child)
		}
		running += ds.ItemUtility(ti, item)
		n := &t.nodes[child]
		n.count++
		n.utility += running
		n.txns = append(n.txns, int32(ti))
		cur = child
	}
}

// handleFor mints a weak handle for the arena index under the current
// generation.
func (t *tree) handleFor(idx int32) handle {
	return handle{idx: idx, gen: t.gen}
}

// resolve returns the node a handle points at, or nil and false when the
// handle was minted under an earlier generation or is out of range.
func (t *tree) resolve(h handle) (*node, bool) {
	if h.gen != t.gen || h.idx < 1 || int(h.idx) >= len(t.nodes) {
		return nil, false
	}
	return &t.nodes[h.idx], true
}

// nodeCount excludes the root.
func (t *tree) nodeCount() int { return len(t.nodes) - 1 }
