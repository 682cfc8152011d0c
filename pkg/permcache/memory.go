package permcache

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
)

const shardCount = 32

// ErrClosed is returned by every operation on a closed cache.
var ErrClosed = errors.New("permission cache is closed")

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// MemoryCache is an in-process permission cache split into independently
// locked shards. Expired entries are dropped lazily when read, and in bulk
// by Sweep.
type MemoryCache struct {
	shards   [shardCount]*shard
	now      func() time.Time
	counters counters
	closed   atomic.Bool
}

// MemoryOption configures a MemoryCache
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// NewMemoryCache creates an empty cache
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the backend in metrics
func (c *MemoryCache) Name() string { return "memory" }

func (c *MemoryCache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

func (c *MemoryCache) get(key string) (*entry, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		c.counters.record(false)
		return nil, false
	}
	if e.expired(c.now()) {
		s.mu.Lock()
		// only drop the entry we saw; a concurrent write may have replaced it
		if cur, ok := s.entries[key]; ok && cur == e {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		c.counters.record(false)
		return nil, false
	}
	c.counters.record(true)
	return e, true
}

func (c *MemoryCache) put(key string, e *entry) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

func (c *MemoryCache) remove(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// GetRole returns the cached level of userID
func (c *MemoryCache) GetRole(ctx context.Context, userID string) (authz.PermissionLevel, bool, error) {
	if c.closed.Load() {
		return 0, false, ErrClosed
	}
	e, ok := c.get(roleKey(userID))
	if !ok {
		return 0, false, nil
	}
	return e.level, true, nil
}

// SetRole caches level for ttl. A zero ttl never expires.
func (c *MemoryCache) SetRole(ctx context.Context, userID string, level authz.PermissionLevel, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := newEntry(c.now(), ttl)
	e.level = level
	c.put(roleKey(userID), e)
	return nil
}

// GetCapabilities returns the cached capability set of userID
func (c *MemoryCache) GetCapabilities(ctx context.Context, userID string) (authz.CapabilitySet, bool, error) {
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
func (c *MemoryCache) SetCapabilities(ctx context.Context, userID string, caps authz.CapabilitySet, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := newEntry(c.now(), ttl)
	e.caps = caps
	c.put(capsKey(userID), e)
	return nil
}

// Invalidate drops every entry keyed to userID
func (c *MemoryCache) Invalidate(ctx context.Context, userID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	for _, key := range userKeys(userID) {
		c.remove(key)
	}
	return nil
}

// BulkGet returns the cached levels among userIDs
func (c *MemoryCache) BulkGet(ctx context.Context, userIDs []string) (map[string]authz.PermissionLevel, error) {
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
func (c *MemoryCache) BulkSet(ctx context.Context, levels map[string]authz.PermissionLevel, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	now := c.now()
	for id, level := range levels {
		e := newEntry(now, ttl)
		e.level = level
		c.put(roleKey(id), e)
	}
	return nil
}

// GetQuery returns a cached aggregate result
func (c *MemoryCache) GetQuery(ctx context.Context, shape string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	e, ok := c.get(queryKey(shape))
	if !ok {
		return nil, false, nil
	}
	return e.data, true, nil
}

// SetQuery caches an aggregate result. value is copied.
func (c *MemoryCache) SetQuery(ctx context.Context, shape string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := newEntry(c.now(), ttl)
	e.data = append([]byte(nil), value...)
	c.put(queryKey(shape), e)
	return nil
}

// InvalidateQuery drops a cached aggregate result
func (c *MemoryCache) InvalidateQuery(ctx context.Context, shape string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.remove(queryKey(shape))
	return nil
}

// Sweep removes every entry expired at now and returns how many were dropped.
func (c *MemoryCache) Sweep(now time.Time) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Stats counts live entries and estimates their footprint. Expired entries
// that have not been swept yet are included.
func (c *MemoryCache) Stats(ctx context.Context) (authz.CacheStats, error) {
	stats := authz.CacheStats{Backend: c.Name()}
	for _, s := range c.shards {
		s.mu.RLock()
		for key, e := range s.entries {
			stats.Entries++
			stats.EstimatedBytes += e.size(key)
		}
		s.mu.RUnlock()
	}
	c.counters.fill(&stats)
	return stats, nil
}

// Close drops every entry. Later calls fail with ErrClosed.
func (c *MemoryCache) Close() error {
	c.closed.Store(true)
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[string]*entry)
		s.mu.Unlock()
	}
	return nil
}

var _ authz.PermissionCache = (*MemoryCache)(nil)
