package permcache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/scribe/pkg/authz"
)

// LRUConfig configures an LRUCache
type LRUConfig struct {
	// MaxEntries bounds the cache; the least recently used entry is evicted
	// when it is full.
	MaxEntries int
	// MaxTTL caps the per-call TTL, and is the lifetime of entries set
	// without one.
	MaxTTL time.Duration
}

// DefaultLRUConfig returns default configuration
func DefaultLRUConfig() LRUConfig {
	return LRUConfig{
		MaxEntries: 100_000,
		MaxTTL:     time.Hour,
	}
}

// LRUCache is a bounded permission cache. It trades the unbounded growth of
// MemoryCache for evictions under pressure.
//
// Expiry is per entry: expired entries are dropped when read or by Sweep.
// The underlying LRU is built without a TTL so it starts no background
// goroutine that Close would have to stop.
type LRUCache struct {
	cache    *lru.LRU[string, *entry]
	maxTTL   time.Duration
	now      func() time.Time
	counters counters
	closed   atomic.Bool
}

// NewLRUCache creates a bounded cache
func NewLRUCache(config LRUConfig) *LRUCache {
	def := DefaultLRUConfig()
	if config.MaxEntries <= 0 {
		config.MaxEntries = def.MaxEntries
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = def.MaxTTL
	}
	return &LRUCache{
		cache:  lru.NewLRU[string, *entry](config.MaxEntries, nil, 0),
		maxTTL: config.MaxTTL,
		now:    time.Now,
	}
}

// Name identifies the backend in metrics
func (c *LRUCache) Name() string { return "lru" }

func (c *LRUCache) get(key string) (*entry, bool) {
	e, ok := c.cache.Get(key)
	if ok && e.expired(c.now()) {
		c.cache.Remove(key)
		ok = false
	}
	c.counters.record(ok)
	return e, ok
}

// expiring starts an entry that expires after ttl, capped at MaxTTL
func (c *LRUCache) expiring(now time.Time, ttl time.Duration) *entry {
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	return newEntry(now, ttl)
}

func (c *LRUCache) put(key string, e *entry) {
	c.cache.Add(key, e)
}

// GetRole returns the cached level of userID
func (c *LRUCache) GetRole(ctx context.Context, userID string) (authz.PermissionLevel, bool, error) {
	if c.closed.Load() {
		return 0, false, ErrClosed
	}
	e, ok := c.get(roleKey(userID))
	if !ok {
		return 0, false, nil
	}
	return e.level, true, nil
}

// SetRole caches level for ttl
func (c *LRUCache) SetRole(ctx context.Context, userID string, level authz.PermissionLevel, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := c.expiring(c.now(), ttl)
	e.level = level
	c.put(roleKey(userID), e)
	return nil
}

// GetCapabilities returns the cached capability set of userID
func (c *LRUCache) GetCapabilities(ctx context.Context, userID string) (authz.CapabilitySet, bool, error) {
	if c.closed.Load() {
		return 0, false, ErrClosed
	}
	e, ok := c.get(capsKey(userID))
	if !ok {
		return 0, false, nil
	}
	return e.caps, true, nil
}

// SetCapabilities caches caps for ttl
func (c *LRUCache) SetCapabilities(ctx context.Context, userID string, caps authz.CapabilitySet, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := c.expiring(c.now(), ttl)
	e.caps = caps
	c.put(capsKey(userID), e)
	return nil
}

// Invalidate drops every entry keyed to userID
func (c *LRUCache) Invalidate(ctx context.Context, userID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	for _, key := range userKeys(userID) {
		c.cache.Remove(key)
	}
	return nil
}

// BulkGet returns the cached levels among userIDs
func (c *LRUCache) BulkGet(ctx context.Context, userIDs []string) (map[string]authz.PermissionLevel, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	out := make(map[string]authz.PermissionLevel, len(userIDs))
	for _, id := range userIDs {
		if e, ok := c.get(roleKey(id)); ok {
			out[id] = e.level
		}
	}
	return out, nil
}

// BulkSet caches every level in levels
func (c *LRUCache) BulkSet(ctx context.Context, levels map[string]authz.PermissionLevel, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	now := c.now()
	for id, level := range levels {
		e := c.expiring(now, ttl)
		e.level = level
		c.put(roleKey(id), e)
	}
	return nil
}

// GetQuery returns a cached aggregate result
func (c *LRUCache) GetQuery(ctx context.Context, shape string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	e, ok := c.get(queryKey(shape))
	if !ok {
		return nil, false, nil
	}
	return e.data, true, nil
}

// SetQuery caches an aggregate result
func (c *LRUCache) SetQuery(ctx context.Context, shape string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := c.expiring(c.now(), ttl)
	e.data = append([]byte(nil), value...)
	c.put(queryKey(shape), e)
	return nil
}

// InvalidateQuery drops a cached aggregate result
func (c *LRUCache) InvalidateQuery(ctx context.Context, shape string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.cache.Remove(queryKey(shape))
	return nil
}

// Sweep drops every entry expired at now and returns how many were dropped.
func (c *LRUCache) Sweep(now time.Time) int {
	removed := 0
	for _, key := range c.cache.Keys() {
		if e, ok := c.cache.Peek(key); ok && e.expired(now) {
			if c.cache.Remove(key) {
				removed++
			}
		}
	}
	return removed
}

// Stats counts entries and estimates their footprint
func (c *LRUCache) Stats(ctx context.Context) (authz.CacheStats, error) {
	stats := authz.CacheStats{Backend: c.Name()}
	for _, key := range c.cache.Keys() {
		if e, ok := c.cache.Peek(key); ok {
			stats.Entries++
			stats.EstimatedBytes += e.size(key)
		}
	}
	c.counters.fill(&stats)
	return stats, nil
}

// Close purges the cache. Later calls fail with ErrClosed.
func (c *LRUCache) Close() error {
	c.closed.Store(true)
	c.cache.Purge()
	return nil
}

var _ authz.PermissionCache = (*LRUCache)(nil)
