package adapter

import (
	"context"
	"sync"
)

// MemoryCache is an in-memory idempotency cache: a concurrent map from
// composed key to {fingerprint, result}, per the Design Notes'
// "Idempotency cache" guidance. Grounded on
// runtime/registry/cache.go's MemoryCache (mutex-protected map), without
// the TTL/refresh machinery that cache targets at toolset schemas —
// idempotency entries here live for the process lifetime, matching
// spec.md §4.4's "returns the stored result verbatim" with no
// expiration specified.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedResult
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cachedResult)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*cachedResult, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, entry cachedResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

// Len returns the number of cached entries (test/diagnostic helper).
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
