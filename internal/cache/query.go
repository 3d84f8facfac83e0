// Package cache provides the bounded, TTL-expiring caches used at query
// time: one for query embeddings, one for API-endpoint search results.
// Both are safe for concurrent use and report hit-rate statistics.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults applied when the configuration leaves cache settings zero.
const (
	DefaultQueryCacheSize = 1000
	DefaultQueryCacheTTL  = 30 * time.Minute
)

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`
}

// QueryCache maps normalized query text to its embedding vector. Entries
// expire after the configured TTL (dropped on read) and the least recently
// used entry is evicted once the cache is at capacity.
type QueryCache struct {
	cache *expirable.LRU[string, []float32]
	model string

	hits   atomic.Int64
	misses atomic.Int64
}

// NewQueryCache creates a query-embedding cache. The model name participates
// in the key so a model switch never serves stale vectors.
func NewQueryCache(size int, ttl time.Duration, model string) *QueryCache {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultQueryCacheTTL
	}
	return &QueryCache{
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
		model: model,
	}
}

// Get returns the cached vector for the normalized query, if present and
// unexpired.
func (c *QueryCache) Get(normalized string) ([]float32, bool) {
	vec, ok := c.cache.Get(c.key(normalized))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return vec, ok
}

// Add stores the vector for the normalized query.
func (c *QueryCache) Add(normalized string, vec []float32) {
	c.cache.Add(c.key(normalized), vec)
}

// Purge drops all entries. Statistics are preserved.
func (c *QueryCache) Purge() {
	c.cache.Purge()
}

// Stats returns hit/miss counters and the current entry count.
func (c *QueryCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
		Entries: c.cache.Len(),
	}
}

func (c *QueryCache) key(normalized string) string {
	sum := sha256.Sum256([]byte(normalized + "\x00" + c.model))
	return hex.EncodeToString(sum[:])
}
