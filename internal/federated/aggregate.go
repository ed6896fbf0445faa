package federated

import (
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/retailmesh/fedmine-engine/pkg/models"
)

// Contribution is one store's input to a round: the patterns of its
// newest completed mining job and the size of the dataset they were
// mined from. Itemsets within a single contribution are distinct, a
// property the miner guarantees for any one job's output.
type Contribution struct {
	StoreID  string
	DataSize int
	Patterns []models.LocalPattern
}

type groupAcc struct {
	items   []int
	utility float64
	support int
	weight  int
	stores  mapset.Set[string]
}

// Accumulator folds contributions into per-itemset groups. Folding is
// commutative and associative, so any arrival order or partitioning of
// stores yields identical groups; the replay audit depends on that.
type Accumulator struct {
	groups map[string]*groupAcc
}

func NewAccumulator() *Accumulator {
	return &Accumulator{groups: make(map[string]*groupAcc)}
}

// Fold merges one store's contribution into the running groups. Utility
// adds across stores; supports and data sizes accumulate so a finalized
// group reports total occurrences over total contributor data.
func (a *Accumulator) Fold(c Contribution) {
	for _, p := range c.Patterns {
		key := groupKey(p.Items)
		g, ok := a.groups[key]
		if !ok {
			items := append([]int(nil), p.Items...)
			sort.Ints(items)
			g = &groupAcc{items: items, stores: mapset.NewSet[string]()}
			a.groups[key] = g
		}
		g.utility += p.Utility
		g.support += p.Support
		g.weight += c.DataSize
		g.stores.Add(c.StoreID)
	}
}

// Merge folds every group of b into a. b must not be used afterwards.
func (a *Accumulator) Merge(b *Accumulator) {
	for key, gb := range b.groups {
		g, ok := a.groups[key]
		if !ok {
			a.groups[key] = gb
			continue
		}
		g.utility += gb.utility
		g.support += gb.support
		g.weight += gb.weight
		g.stores = g.stores.Union(gb.stores)
	}
}

// Group is a finalized aggregate for one canonical itemset.
// GlobalSupport is the weighted support fraction: occurrences across
// all contributors over their combined data size.
type Group struct {
	Items         []int
	Utility       float64
	GlobalSupport float64
	Stores        int
}

// Groups finalizes in canonical itemset order. Noise is drawn in this
// order, one value per group, so it must be stable across runs and
// replays of the same input set.
func (a *Accumulator) Groups() []Group {
	out := make([]Group, 0, len(a.groups))
	for _, g := range a.groups {
		support := 0.0
		if g.weight > 0 {
			support = float64(g.support) / float64(g.weight)
		}
		out = append(out, Group{
			Items:         g.items,
			Utility:       g.utility,
			GlobalSupport: support,
			Stores:        g.stores.Cardinality(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return itemsLess(out[i].Items, out[j].Items) })
	return out
}

func groupKey(items []int) string {
	sorted := append([]int(nil), items...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, it := range sorted {
		parts[i] = strconv.Itoa(it)
	}
	return strings.Join(parts, ",")
}

// itemsLess orders sorted itemsets lexicographically by item id, with a
// shorter set before any longer set it prefixes.
func itemsLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
