package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// InMemoryRulesCache is a process-local implementation of RulesCache.
// Thread-safe for concurrent access. Entries are unbounded by count.
type InMemoryRulesCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &InMemoryRulesCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

// Get returns the slice stored under key. Callers get the stored slice
// itself, so they must not modify it.
func (c *InMemoryRulesCache) Get(key string) ([]*Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.expired(entry) {
		return nil, false
	}
	return entry.rules, true
}

// Set stores rules under key
func (c *InMemoryRulesCache) Set(key string, rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{rules: rules, cachedAt: c.config.Now()}
}

// Invalidate clears the cache
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}

// Sweep drops expired entries
func (c *InMemoryRulesCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries
func (c *InMemoryRulesCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *InMemoryRulesCache) expired(entry cacheEntry) bool {
	if c.config.TTL <= 0 {
		return false
	}
	return c.config.Now().Sub(entry.cachedAt) > c.config.TTL
}
