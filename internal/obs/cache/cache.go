// Package cache provides a small TTL-expiring map used to hold validated
// JWT claims, so internal/auth doesn't re-verify a signature and re-run
// bcrypt-adjacent lookups on every request carrying the same token.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value      interface{}
	expiration time.Time
}

// CacheConfig bounds a TokenCache's entry lifetime and background sweep
// frequency.
type CacheConfig struct {
	DefaultTTL      time.Duration
	MaxSize         int
	CleanupInterval time.Duration
}

func (cfg CacheConfig) withDefaults() CacheConfig {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	return cfg
}

// TokenCache holds verified token claims keyed by the raw token string, so
// repeated requests bearing the same bearer token skip re-verification
// until the entry expires or is explicitly invalidated (logout, token
// replacement).
type TokenCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	cfg     CacheConfig
}

// NewTokenCache starts a TokenCache with a background goroutine that sweeps
// expired entries every cfg.CleanupInterval.
func NewTokenCache(cfg CacheConfig) *TokenCache {
	cfg = cfg.withDefaults()
	c := &TokenCache{
		entries: make(map[string]entry),
		cfg:     cfg,
	}
	go c.sweepLoop()
	return c
}

func (c *TokenCache) sweepLoop() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.sweep()
	}
}

func (c *TokenCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiration) {
			delete(c.entries, key)
		}
	}
}

// GetToken returns the cached claims for tokenString, if present and not
// expired.
func (c *TokenCache) GetToken(tokenString string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[tokenString]
	if !ok || time.Now().After(e.expiration) {
		return nil, false
	}
	return e.value, true
}

// SetToken caches value for tokenString until ttl elapses (cfg.DefaultTTL
// when ttl is zero).
func (c *TokenCache) SetToken(tokenString string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.cfg.MaxSize {
		for key := range c.entries {
			delete(c.entries, key)
			break
		}
	}

	c.entries[tokenString] = entry{value: value, expiration: time.Now().Add(ttl)}
}

// InvalidateToken evicts tokenString, used on logout and when a cached
// token's claims are found to be past their expiry.
func (c *TokenCache) InvalidateToken(tokenString string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tokenString)
}
