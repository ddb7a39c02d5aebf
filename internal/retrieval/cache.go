package retrieval

import (
	"sync"
	"time"
)

// =============================================================================
// RESULT CACHE - Bounded TTL cache keyed by raw query text
// =============================================================================

// resultCache memoizes full ranked result sets. Determinism makes this safe:
// for an unchanged snapshot the cached ordering is exactly what a fresh
// search would produce. Reload clears it.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	results   []Result
	timestamp time.Time
}

func newResultCache(maxSize int, ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *resultCache) Get(query string) ([]Result, bool) {
	if c.maxSize <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[query]
	if !ok {
		return nil, false
	}
	if time.Since(entry.timestamp) > c.ttl {
		return nil, false
	}
	return entry.results, true
}

func (c *resultCache) Set(query string, results []Result) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[query] = &cacheEntry{
		results:   results,
		timestamp: time.Now(),
	}
}

func (c *resultCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.timestamp.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.timestamp
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *resultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}
