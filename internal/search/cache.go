package search

import (
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/storefront/model"
)

// SuggestionCache memoizes suggestion lists per (type, query). Entries
// expire after a TTL and the whole cache is dropped when the catalog is
// reloaded.
type SuggestionCache struct {
	ttl        time.Duration
	maxEntries int

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	suggestions []model.Suggestion
	expiresAt   time.Time
}

// NewSuggestionCache creates a new SuggestionCache.
func NewSuggestionCache(ttl time.Duration, maxEntries int) *SuggestionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &SuggestionCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		cache:      make(map[string]cacheEntry),
	}
}

func cacheKey(typ, query string) string {
	return fmt.Sprintf("suggest:%s:%s", typ, query)
}

// Get returns cached suggestions if the entry exists and hasn't expired.
func (c *SuggestionCache) Get(typ, query string) ([]model.Suggestion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.cache[cacheKey(typ, query)]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.suggestions, true
}

// Put stores suggestions with the cache TTL.
func (c *SuggestionCache) Put(typ, query string, suggestions []model.Suggestion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict expired entries if at capacity.
	if len(c.cache) >= c.maxEntries {
		c.evictExpired()
	}
	// Still full: drop everything rather than grow without bound.
	if len(c.cache) >= c.maxEntries {
		clear(c.cache)
	}

	c.cache[cacheKey(typ, query)] = cacheEntry{
		suggestions: suggestions,
		expiresAt:   time.Now().Add(c.ttl),
	}
}

// evictExpired removes expired entries. Must be called with mu held.
func (c *SuggestionCache) evictExpired() {
	now := time.Now()
	for k, v := range c.cache {
		if now.After(v.expiresAt) {
			delete(c.cache, k)
		}
	}
}

// Invalidate removes every entry.
func (c *SuggestionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.cache)
}

// Len returns the number of entries in the cache. For testing.
func (c *SuggestionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
