package rules

import (
	"slices"
	"strings"
	"time"
)

// RulesCache memoizes applicable-rule lookups under a string key.
// This allows swapping the in-memory cache for a shared one.
type RulesCache interface {
	// Get returns the cached rules for key, or false on a miss or expiry
	Get(key string) ([]*Rule, bool)

	// Set stores rules under key
	Set(key string, rules []*Rule)

	// Invalidate clears every entry
	Invalidate()

	// Sweep removes expired entries and reports how many were dropped
	Sweep() int

	// Len returns the number of entries held, expired or not
	Len() int
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration

	// Now is the clock used for expiry; time.Now when nil
	Now func() time.Time
}

// DefaultCacheConfig returns the five minute applicability window
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 5 * time.Minute,
	}
}

// cacheKey derives the memoization key from a region and the requested
// rule types, sorted and de-duplicated so that argument order is irrelevant.
func cacheKey(region string, types []RuleType) string {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	slices.Sort(names)
	names = slices.Compact(names)
	return region + "|" + strings.Join(names, ",")
}
