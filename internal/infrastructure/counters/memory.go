// Package counters provides the in-process usage-counter and
// response-cache stores. Both follow a get/put-with-expiry contract so
// a networked key/value store can replace them without touching the
// gateway core.
package counters

import (
	"context"
	"sync"
	"time"

	"github.com/promptforge/promptforge/internal/domain"
	"github.com/promptforge/promptforge/internal/ports"
)

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter is a mutex-guarded TTL counter store. Expired keys are
// reaped lazily on access; the TTL is fixed when a key is created, so
// counters behave as fixed windows that reset implicitly on expiry.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]counterEntry
	now     func() time.Time
}

// NewMemoryCounter creates an empty counter store.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]counterEntry),
		now:     time.Now,
	}
}

// Get returns the current count for key, or zero when the key is absent
// or expired.
func (s *MemoryCounter) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	if s.expired(entry.expiresAt) {
		delete(s.entries, key)
		return 0, nil
	}
	return entry.count, nil
}

// Incr atomically increments key and returns the post-increment count.
// The ttl applies only when the key is created; a ttl <= 0 means the
// key never expires.
func (s *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && s.expired(entry.expiresAt) {
		ok = false
	}
	if !ok {
		entry = counterEntry{}
		if ttl > 0 {
			entry.expiresAt = s.now().Add(ttl)
		}
	}
	entry.count++
	s.entries[key] = entry
	return entry.count, nil
}

func (s *MemoryCounter) expired(at time.Time) bool {
	return !at.IsZero() && s.now().After(at)
}

type cacheEntry struct {
	res       domain.RefineResponse
	expiresAt time.Time
}

// MemoryCache stores refine responses addressed by prompt fingerprint.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty response cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached response for fingerprint when present and fresh.
func (c *MemoryCache) Get(_ context.Context, fingerprint string) (domain.RefineResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		return domain.RefineResponse{}, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.entries, fingerprint)
		return domain.RefineResponse{}, false, nil
	}
	return entry.res, true, nil
}

// Set stores a response under fingerprint with the given ttl.
func (c *MemoryCache) Set(_ context.Context, fingerprint string, res domain.RefineResponse, ttl time.Duration) error {
	if fingerprint == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := cacheEntry{res: res}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[fingerprint] = entry
	return nil
}

var _ ports.UsageStore = (*MemoryCounter)(nil)
var _ ports.ResultCache = (*MemoryCache)(nil)
