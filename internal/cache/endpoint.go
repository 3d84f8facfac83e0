package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cindex-dev/cindex/internal/model"
)

// keyDims is how many leading vector components participate in the endpoint
// cache key. Eight components distinguish real queries while keeping the key
// cheap to compute.
const keyDims = 8

// EndpointCache holds API-endpoint search results keyed by the service set,
// a prefix of the query vector, and the filter flags. Same shape and policy
// as QueryCache.
type EndpointCache struct {
	cache *expirable.LRU[string, []model.APIEndpoint]

	hits   atomic.Int64
	misses atomic.Int64
}

// EndpointFilter is the filter portion of an endpoint cache key.
type EndpointFilter struct {
	APIType           string
	IncludeDeprecated bool
	RequireImpl       bool
}

// NewEndpointCache creates an endpoint-result cache.
func NewEndpointCache(size int, ttl time.Duration) *EndpointCache {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultQueryCacheTTL
	}
	return &EndpointCache{
		cache: expirable.NewLRU[string, []model.APIEndpoint](size, nil, ttl),
	}
}

// Key builds the cache key from the service set, query vector, and filters.
// Service IDs are sorted so key equality is set equality.
func (c *EndpointCache) Key(serviceIDs []string, queryVec []float32, filter EndpointFilter) string {
	ids := make([]string, len(serviceIDs))
	copy(ids, serviceIDs)
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}

	var buf [4]byte
	for i := 0; i < keyDims && i < len(queryVec); i++ {
		binary.LittleEndian.PutUint32(buf[:], uint32(int32(queryVec[i]*1e6)))
		h.Write(buf[:])
	}

	h.Write([]byte(filter.APIType))
	flags := byte(0)
	if filter.IncludeDeprecated {
		flags |= 1
	}
	if filter.RequireImpl {
		flags |= 2
	}
	h.Write([]byte{flags})

	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached endpoint set for the key, if present and unexpired.
func (c *EndpointCache) Get(key string) ([]model.APIEndpoint, bool) {
	eps, ok := c.cache.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return eps, ok
}

// Add stores the endpoint set under the key.
func (c *EndpointCache) Add(key string, endpoints []model.APIEndpoint) {
	c.cache.Add(key, endpoints)
}

// Purge drops all entries. Statistics are preserved.
func (c *EndpointCache) Purge() {
	c.cache.Purge()
}

// Stats returns hit/miss counters and the current entry count.
func (c *EndpointCache) Stats() Stats {
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
