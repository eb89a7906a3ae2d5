package platform

import (
	"sync"
	"time"
)

// IdentityCache caches handle resolution results. Successful resolutions are
// kept for a long TTL because handles rarely change; failed resolutions are
// kept briefly so a dead lookup is not hammered on every cycle.
type IdentityCache struct {
	successTTL time.Duration
	failureTTL time.Duration

	mu      sync.RWMutex
	entries map[string]identityEntry
}

type identityEntry struct {
	identity  *Identity
	err       error
	expiresAt time.Time
}

// NewIdentityCache creates an IdentityCache.
// Parameters:
//   - successTTL: lifetime of successful resolutions (e.g. 24h).
//   - failureTTL: lifetime of cached failures (e.g. 30m).
//
// Returns:
//   - *IdentityCache: initialized cache.
func NewIdentityCache(successTTL, failureTTL time.Duration) *IdentityCache {
	return &IdentityCache{
		successTTL: successTTL,
		failureTTL: failureTTL,
		entries:    make(map[string]identityEntry),
	}
}

// Get returns the cached resolution for a handle, if still fresh.
// Parameters:
//   - handle: cache key.
//
// Returns:
//   - *Identity: cached identity, nil for cached failures.
//   - error: cached resolution error, nil for cached successes.
//   - bool: true when a fresh entry was found.
func (c *IdentityCache) Get(handle string) (*Identity, error, bool) {
	c.mu.RLock()
	entry, ok := c.entries[handle]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil, false
	}
	return entry.identity, entry.err, true
}

// PutSuccess caches a successful resolution.
func (c *IdentityCache) PutSuccess(handle string, identity *Identity) {
	c.mu.Lock()
	c.entries[handle] = identityEntry{
		identity:  identity,
		expiresAt: time.Now().Add(c.successTTL),
	}
	c.mu.Unlock()
}

// PutFailure caches a resolution failure with the shorter TTL.
func (c *IdentityCache) PutFailure(handle string, err error) {
	c.mu.Lock()
	c.entries[handle] = identityEntry{
		err:       err,
		expiresAt: time.Now().Add(c.failureTTL),
	}
	c.mu.Unlock()
}
