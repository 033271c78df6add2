package rules

import (
	"sync"
	"time"

	"github.com/hjscm/alertengine/alert"
)

// RulesCache caches the enabled-rules list so the evaluation path does not
// hit the store on every snapshot update. Implementations must be safe for
// concurrent use.
type RulesCache interface {
	// Get retrieves cached rules, returns nil on miss or expiry
	Get() []*alert.Rule

	// Set stores rules in cache
	Set(rules []*alert.Rule)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for rule caching.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0} // only invalidate on mutations
}

// InMemoryRulesCache is a simple in-memory implementation of RulesCache.
type InMemoryRulesCache struct {
	rules    []*alert.Rule
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	isValid  bool
}

// NewInMemoryRulesCache creates a new in-memory rules cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{config: config}
}

// Get retrieves cached rules, nil if the cache is invalid or expired.
func (c *InMemoryRulesCache) Get() []*alert.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	// Return copy to prevent external modifications
	out := make([]*alert.Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Set stores rules in cache.
func (c *InMemoryRulesCache) Set(rules []*alert.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*alert.Rule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = time.Now()
	c.isValid = true
}

// Invalidate clears the cache.
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.rules = nil
}
