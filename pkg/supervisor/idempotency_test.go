package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCacheHitAndMiss(t *testing.T) {
	cache := NewIdempotencyCache(10, time.Minute)

	result := &DispatchResult{RunID: "run-1", Status: "running"}
	cache.Put("tenant_a", "user-1", "key-1", result)

	got, ok := cache.Get("tenant_a", "user-1", "key-1")
	require.True(t, ok)
	assert.Equal(t, "run-1", got.RunID)

	_, ok = cache.Get("tenant_a", "user-1", "key-2")
	assert.False(t, ok)
}

func TestIdempotencyCacheScopedByTenantAndOwner(t *testing.T) {
	cache := NewIdempotencyCache(10, time.Minute)
	cache.Put("tenant_a", "user-1", "key", &DispatchResult{RunID: "run-a"})

	_, ok := cache.Get("tenant_b", "user-1", "key")
	assert.False(t, ok, "same key in another tenant must miss")

	_, ok = cache.Get("tenant_a", "user-2", "key")
	assert.False(t, ok, "same key for another owner must miss")
}

func TestIdempotencyCacheEmptyKeyBypasses(t *testing.T) {
	cache := NewIdempotencyCache(10, time.Minute)
	cache.Put("tenant_a", "user-1", "", &DispatchResult{RunID: "run-a"})

	_, ok := cache.Get("tenant_a", "user-1", "")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestIdempotencyCacheTTLExpiry(t *testing.T) {
	cache := NewIdempotencyCache(10, 20*time.Millisecond)
	cache.Put("tenant_a", "user-1", "key", &DispatchResult{RunID: "run-a"})

	time.Sleep(50 * time.Millisecond)
	_, ok := cache.Get("tenant_a", "user-1", "key")
	assert.False(t, ok)
}

func TestIdempotencyCacheSizeBound(t *testing.T) {
	cache := NewIdempotencyCache(2, time.Minute)
	cache.Put("t", "u", "k1", &DispatchResult{RunID: "r1"})
	cache.Put("t", "u", "k2", &DispatchResult{RunID: "r2"})
	cache.Put("t", "u", "k3", &DispatchResult{RunID: "r3"})

	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("t", "u", "k1")
	assert.False(t, ok, "oldest entry evicts first")
}
