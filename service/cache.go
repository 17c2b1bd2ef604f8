package service

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/activebook/gturn/data"
)

// =============================================================================
// TokenCache - Thread-safe cache for message token counts
// =============================================================================

// TokenCache provides a thread-safe cache for storing token counts of history
// messages. It uses JSON-marshaled message content as keys to ensure correct
// uniqueness.
type TokenCache struct {
	mu      sync.RWMutex
	cache   map[string]int
	maxSize int
	hits    int64 // Cache hit counter for metrics
	misses  int64 // Cache miss counter for metrics
}

// DefaultMaxCacheSize is the default maximum number of entries in the cache
const DefaultMaxCacheSize = 10000

// NewTokenCache creates a new TokenCache with the specified maximum size
func NewTokenCache(maxSize int) *TokenCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxCacheSize
	}
	return &TokenCache{
		cache:   make(map[string]int),
		maxSize: maxSize,
	}
}

// Get retrieves a cached token count for the given key.
// Returns the count and true if found, or 0 and false if not found.
func (tc *TokenCache) Get(key string) (int, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if count, ok := tc.cache[key]; ok {
		tc.hits++
		return count, true
	}
	tc.misses++
	return 0, false
}

// Set stores a token count for the given key.
// If the cache is full, it evicts approximately half of the entries.
func (tc *TokenCache) Set(key string, count int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	// Evict if cache is full
	if len(tc.cache) >= tc.maxSize {
		tc.evictLocked()
	}

	tc.cache[key] = count
}

// evictLocked removes approximately half of the cache entries.
// Must be called with write lock held.
func (tc *TokenCache) evictLocked() {
	toRemove := tc.maxSize / 2
	removed := 0
	for key := range tc.cache {
		delete(tc.cache, key)
		removed++
		if removed >= toRemove {
			break
		}
	}
}

// Size returns the current number of entries in the cache
func (tc *TokenCache) Size() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.cache)
}

// Clear removes all entries from the cache
func (tc *TokenCache) Clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.cache = make(map[string]int)
	tc.hits = 0
	tc.misses = 0
}

// Stats returns cache statistics (hits, misses, size)
func (tc *TokenCache) Stats() (hits, misses int64, size int) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.hits, tc.misses, len(tc.cache)
}

// GetMessageKey generates a cache key for a history message by JSON marshaling.
// This captures ALL fields (Content, Reasoning, Parts, recorded tokens, etc.)
// ensuring different messages never produce the same key.
func GetMessageKey(msg *data.Message) string {
	if msg == nil {
		return ""
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		// Fallback: id + role + content (unlikely to fail)
		return fmt.Sprintf("%s|%s|%s", msg.ID, msg.Role, msg.Content)
	}
	return string(raw)
}

// GetOrComputeMessageTokens retrieves cached tokens or computes and caches them.
func (tc *TokenCache) GetOrComputeMessageTokens(msg *data.Message) int {
	key := GetMessageKey(msg)
	if count, found := tc.Get(key); found {
		return count
	}
	count := EstimateMessageTokens(msg)
	tc.Set(key, count)
	return count
}

// =============================================================================
// Global Token Cache Instance
// =============================================================================

// globalTokenCache is the singleton instance used by the compression planner
var globalTokenCache = NewTokenCache(DefaultMaxCacheSize)

// GetGlobalTokenCache returns the global token cache instance
func GetGlobalTokenCache() *TokenCache {
	return globalTokenCache
}

// ClearTokenCache clears the global token cache (useful for testing)
func ClearTokenCache() {
	globalTokenCache.Clear()
}
