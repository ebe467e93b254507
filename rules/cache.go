package rules

import "time"

// RulesCache caches a user's active rule list between runs, so that the
// per-message hot path does not hit the database for every synced email.
// Implementations can be in-memory, Redis, or anything else.
type RulesCache interface {
	// Get retrieves the cached rules for a user, nil on miss or expiry.
	Get(userID string) []*Rule

	// Set stores a user's active rules.
	Set(userID string, rules []*Rule)

	// Invalidate drops the cached entry for a user, forcing a refresh on
	// the next Get.
	Invalidate(userID string)
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 5 * time.Minute,
	}
}
