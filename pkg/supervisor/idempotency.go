package supervisor

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// IdempotencyCache dedupes dispatch requests carrying an Idempotency-Key.
// A repeated (tenant, owner, key) within the TTL returns the original run
// instead of creating a new one. Size-bounded; oldest entries evict first.
type IdempotencyCache struct {
	lru *expirable.LRU[string, *DispatchResult]
}

// NewIdempotencyCache creates a cache with the given bounds.
func NewIdempotencyCache(size int, ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		lru: expirable.NewLRU[string, *DispatchResult](size, nil, ttl),
	}
}

// Get returns the cached dispatch result for a key, if still fresh.
func (c *IdempotencyCache) Get(tenantID, ownerID, key string) (*DispatchResult, bool) {
	if key == "" {
		return nil, false
	}
	return c.lru.Get(cacheKey(tenantID, ownerID, key))
}

// Put records a dispatch result under a key.
func (c *IdempotencyCache) Put(tenantID, ownerID, key string, result *DispatchResult) {
	if key == "" {
		return
	}
	c.lru.Add(cacheKey(tenantID, ownerID, key), result)
}

// Len returns the number of live entries.
func (c *IdempotencyCache) Len() int {
	return c.lru.Len()
}

func cacheKey(tenantID, ownerID, key string) string {
	return strings.Join([]string{tenantID, ownerID, key}, "|")
}
