package mining

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidOptions is wrapped by option validation failures in Mine.
var ErrInvalidOptions = errors.New("invalid mining options")

// Options control one Mine call. MinUtility is the inclusive emission
// threshold. MinSupport of 0 disables the support filter and
// MaxPatternLength of 0 means unlimited. UsePruning toggles every
// TWU-derived prune; with it off the miner enumerates exhaustively and
// must produce the same patterns.
type Options struct {
	MinUtility       float64
	MinSupport       int
	MaxPatternLength int
	UsePruning       bool
}

// Pattern is one emitted high-utility itemset. Items are sorted
// ascending.
type Pattern struct {
	Items   []int
	Utility float64
	Support int
}

// Stats reports one Mine call. Cache counters are deltas for the call,
// not lifetime totals.
type Stats struct {
	Transactions    int
	RetainedItems   int
	ItemsDropped    int
	NodesAllocated  int
	Candidates      int
	PatternsEmitted int
	BranchesPruned  int
	LocalPruned     int
	CacheHits       int
	CacheMisses     int
}

// Miner mines high-utility itemsets with a shared prefix tree and
// pseudo-projections over it. A miner is not safe for concurrent use,
// but it is reusable: repeat calls against the same dataset keep the
// tree and caches warm, and a changed dataset or threshold rebuilds the
// tree under a fresh generation, orphaning every cached projection.
type Miner struct {
	caches *cacheSet
	tree   *tree

	ds       *Dataset
	builtTWU float64
	built    bool

	opts  Options
	stats Stats
	out   []Pattern
}

// NewMiner allocates a miner with the given cache capacities; a
// non-positive capacity selects the built-in default.
func NewMiner(cachePatterns, cacheBounds, cacheProjections int) (*Miner, error) {
	cs, err := newCacheSet(cachePatterns, cacheBounds, cacheProjections)
	if err != nil {
		return nil, err
	}
	return &Miner{caches: cs, tree: newTree()}, nil
}

// Mine returns every itemset whose exact utility meets opts.MinUtility,
// sorted by utility descending. The same inputs always produce the same
// output and the same stats apart from cache counters.
func (m *Miner) Mine(ds *Dataset, opts Options) ([]Pattern, Stats, error) {
	if ds == nil {
		return nil, Stats{}, fmt.Errorf("%w: nil dataset", ErrInvalidOptions)
	}
	if opts.MinUtility < 0 {
		return nil, Stats{}, fmt.Errorf("%w: min utility %g is negative", ErrInvalidOptions, opts.MinUtility)
	}
	if opts.MinSupport < 0 {
		return nil, Stats{}, fmt.Errorf("%w: min support %d is negative", ErrInvalidOptions, opts.MinSupport)
	}
	if opts.MaxPatternLength < 0 {
		return nil, Stats{}, fmt.Errorf("%w: max pattern length %d is negative", ErrInvalidOptions, opts.MaxPatternLength)
	}

	minTWU := 0.0
	if opts.UsePruning {
		minTWU = opts.MinUtility
	}
	if !m.built || m.ds != ds || m.builtTWU != minTWU {
		m.tree.build(ds, minTWU)
		m.ds = ds
		m.builtTWU = minTWU
		m.built = true
	}

	m.opts = opts
	m.out = nil
	hits0, misses0 := m.caches.hits, m.caches.misses
	m.stats = Stats{
		Transactions:   ds.Len(),
		RetainedItems:  len(m.tree.order),
		ItemsDropped:   m.tree.dropped,
		NodesAllocated: m.tree.nodeCount(),
	}

	for ri := len(m.tree.order) - 1; ri >= 0; ri-- {
		alpha := m.tree.order[ri]
		suffix := []int{alpha}
		key := genKey(m.tree.gen, suffix)
		entries, ok := m.caches.getProjection(key)
		if !ok {
			entries = baseEntries(m.tree, alpha)
			m.caches.putProjection(key, entries)
		}
		m.mineSuffix(suffix, entries)
	}

	m.stats.CacheHits = m.caches.hits - hits0
	m.stats.CacheMisses = m.caches.misses - misses0

	out := m.out
	m.out = nil
	sortPatterns(out)
	return out, m.stats, nil
}

// mineSuffix evaluates the candidate held in items and recurses into its
// extensions. Extension items always come from strict ancestors of the
// strand positions, so candidates grow in decreasing TWU-rank order and
// every itemset is visited at most once.
func (m *Miner) mineSuffix(items []int, entries []entry) {
	m.stats.Candidates++
	canon := sortedCopy(items)

	bk := genKey(m.tree.gen, canon)
	bound, ok := m.caches.getBound(bk)
	if !ok {
		bound = totalResidual(entries)
		m.caches.putBound(bk, bound)
	}
	if m.opts.UsePruning && bound < m.opts.MinUtility {
		m.stats.BranchesPruned++
		return
	}

	pk := dsKey(m.ds.id, canon)
	pv, ok := m.caches.getPattern(pk)
	if !ok {
		u, s := exactUtility(m.tree, m.ds, canon, entries)
		pv = patval{utility: u, support: s}
		m.caches.putPattern(pk, pv)
	}
	if pv.utility >= m.opts.MinUtility && (m.opts.MinSupport <= 0 || pv.support >= m.opts.MinSupport) {
		m.out = append(m.out, Pattern{Items: canon, Utility: pv.utility, Support: pv.support})
		m.stats.PatternsEmitted++
	}

	if m.opts.MaxPatternLength > 0 && len(items) >= m.opts.MaxPatternLength {
		return
	}

	cand := candidateBounds(m.tree, entries)
	if len(cand) == 0 {
		return
	}
	betas := make([]int, 0, len(cand))
	for b := range cand {
		betas = append(betas, b)
	}
	sort.Slice(betas, func(i, j int) bool { return m.tree.rank[betas[i]] > m.tree.rank[betas[j]] })

	for _, beta := range betas {
		if m.opts.UsePruning && cand[beta] < m.opts.MinUtility {
			m.stats.LocalPruned++
			continue
		}
		child := make([]int, len(items)+1)
		copy(child, items)
		child[len(items)] = beta

		ck := genKey(m.tree.gen, sortedCopy(child))
		narrowed, ok := m.caches.getProjection(ck)
		if !ok {
			narrowed = narrowTo(m.tree, entries, beta)
			m.caches.putProjection(ck, narrowed)
		}
		m.mineSuffix(child, narrowed)
	}
}

func sortedCopy(items []int) []int {
	out := make([]int, len(items))
	copy(out, items)
	sort.Ints(out)
	return out
}

func sortPatterns(ps []Pattern) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Utility != ps[j].Utility {
			return ps[i].Utility > ps[j].Utility
		}
		if len(ps[i].Items) != len(ps[j].Items) {
			return len(ps[i].Items) < len(ps[j].Items)
		}
		for k := range ps[i].Items {
			if ps[i].Items[k] != ps[j].Items[k] {
				return ps[i].Items[k] < ps[j].Items[k]
			}
		}
		return false
	})
}
