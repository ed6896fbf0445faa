package mining

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

const (
	defaultCachePatterns    = 4096
	defaultCacheBounds      = 8192
	defaultCacheProjections = 1024
)

// patval is a memoized exact evaluation. Utility and support do not
// depend on thresholds, so entries stay valid for the dataset's lifetime.
type patval struct {
	utility float64
	support int
}

// cacheSet bundles the three bounded LRU caches the miner consults:
// exact pattern evaluations keyed by dataset, residual upper bounds and
// projections keyed by tree generation. Hit counters are plain ints; a
// miner is single-goroutine by contract.
type cacheSet struct {
	patterns    *lru.Cache
	bounds      *lru.Cache
	projections *lru.Cache
	hits        int
	misses      int
}

func newCacheSet(patterns, bounds, projections int) (*cacheSet, error) {
	if patterns <= 0 {
		patterns = defaultCachePatterns
	}
	if bounds <= 0 {
		bounds = defaultCacheBounds
	}
	if projections <= 0 {
		projections = defaultCacheProjections
	}
	pc, err := lru.New(patterns)
	if err != nil {
		return nil, err
	}
	bc, err := lru.New(bounds)
	if err != nil {
		return nil, err
	}
	jc, err := lru.New(projections)
	if err != nil {
		return nil, err
	}
	return &cacheSet{patterns: pc, bounds: bc, projections: jc}, nil
}

func (c *cacheSet) getPattern(key string) (patval, bool) {
	v, ok := c.patterns.Get(key)
	if !ok {
		c.misses++
		return patval{}, false
	}
	c.hits++
	return v.(patval), true
}

func (c *cacheSet) putPattern(key string, v patval) { c.patterns.Add(key, v) }

func (c *cacheSet) getBound(key string) (float64, bool) {
	v, ok := c.bounds.Get(key)
	if !ok {
		c.misses++
		return 0, false
	}
	c.hits++
	return v.(float64), true
}

func (c *cacheSet) putBound(key string, v float64) { c.bounds.Add(key, v) }

func (c *cacheSet) getProjection(key string) ([]entry, bool) {
	v, ok := c.projections.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return v.([]entry), true
}

func (c *cacheSet) putProjection(key string, v []entry) { c.projections.Add(key, v) }

// itemsKey renders a canonical cache key for an itemset. Callers pass
// items already sorted ascending.
func itemsKey(items []int) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(it))
	}
	return b.String()
}

// genKey scopes a key to a tree generation; values derived from the tree
// die with it.
func genKey(gen uint32, items []int) string {
	return "g" + strconv.FormatUint(uint64(gen), 10) + "|" + itemsKey(items)
}

// dsKey scopes a key to a dataset; exact evaluations outlive rebuilds.
func dsKey(id uint64, items []int) string {
	return "d" + strconv.FormatUint(id, 10) + "|" + itemsKey(items)
}
