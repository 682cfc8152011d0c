package permcache

import (
	"sync/atomic"
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
)

// Key prefixes. Every entry keyed to a user starts with one of the user
// prefixes so Invalidate can drop them together.
const (
	rolePrefix  = "role:"
	capsPrefix  = "caps:"
	queryPrefix = "query:"
)

func roleKey(userID string) string { return rolePrefix + userID }

func capsKey(userID string) string { return capsPrefix + userID }

func queryKey(shape string) string { return queryPrefix + shape }

func userKeys(userID string) []string {
	return []string{roleKey(userID), capsKey(userID)}
}

// entryOverhead approximates the per-entry bookkeeping cost in bytes.
const entryOverhead = 48

// entry is immutable once stored; a write replaces the whole entry.
type entry struct {
	level     authz.PermissionLevel
	caps      authz.CapabilitySet
	data      []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (e *entry) size(key string) int64 {
	return int64(len(key)+len(e.data)) + entryOverhead
}

func newEntry(now time.Time, ttl time.Duration) *entry {
	e := &entry{}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return e
}

// counters tracks hits and misses
type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
}

func (c *counters) fill(stats *authz.CacheStats) {
	stats.Hits = c.hits.Load()
	stats.Misses = c.misses.Load()
}
