package metrics

import (
	"math"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// CoefficientOfVariation measures how uneven a set of values is: the
// population standard deviation divided by the mean. Rounds report it
// over participant data sizes as the data heterogeneity score. 0 means
// perfectly balanced; it grows without bound as sizes diverge.
//
// Empty input and zero mean both return 0.
func CoefficientOfVariation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(values))) / mean
}

// Spread returns max minus min, the contribution gap between the
// heaviest and lightest participant. Empty input returns 0.
func Spread(values []float64) float64 {
	if len(values) == 0 {
		return 0
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
	return max - min
}

// PatternOverlap returns the Jaccard similarity of two itemset
// collections: the share of distinct itemsets the two sides agree on.
// Two empty collections count as fully overlapping.
func PatternOverlap(a, b [][]int) float64 {
	sa, sb := keySet(a), keySet(b)
	union := sa.Union(sb).Cardinality()
	if union == 0 {
		return 1
	}
	return float64(sa.Intersect(sb).Cardinality()) / float64(union)
}

func keySet(itemsets [][]int) mapset.Set[string] {
	s := mapset.NewSet[string]()
	for _, items := range itemsets {
		sorted := append([]int(nil), items...)
		sort.Ints(sorted)
		parts := make([]string, len(sorted))
		for i, it := range sorted {
			parts[i] = strconv.Itoa(it)
		}
		s.Add(strings.Join(parts, ","))
	}
	return s
}
