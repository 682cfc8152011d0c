package permcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/scribe/pkg/authz"
)

// RedisConfig configures a RedisCache
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int

	// KeyPrefix namespaces every key, so several deployments can share one
	// Redis database.
	KeyPrefix string
}

// RedisCache is a permission cache shared by every replica. Expiry is left
// to Redis TTLs.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	ownClient bool
	counters  counters
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, config RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	opts.PoolTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := NewRedisCacheFromClient(client, config.KeyPrefix)
	c.ownClient = true
	return c, nil
}

// NewRedisCacheFromClient wraps an existing client. The client is not
// closed by Close.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "scribe:authz:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Client exposes the underlying client for health checks
func (c *RedisCache) Client() *redis.Client { return c.client }

// Name identifies the backend in metrics
func (c *RedisCache) Name() string { return "redis" }

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) getString(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		c.counters.record(false)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	c.counters.record(true)
	return val, true, nil
}

// dropCorrupt deletes an unreadable value and reports a miss
func (c *RedisCache) dropCorrupt(ctx context.Context, key string) {
	c.client.Del(ctx, c.key(key))
}

func parseLevel(s string) (authz.PermissionLevel, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	level := authz.PermissionLevel(n)
	return level, level.Valid()
}

// GetRole returns the cached level of userID. Corrupt values are deleted and
// reported as misses.
func (c *RedisCache) GetRole(ctx context.Context, userID string) (authz.PermissionLevel, bool, error) {
	val, ok, err := c.getString(ctx, roleKey(userID))
	if err != nil || !ok {
		return 0, false, err
	}
	level, valid := parseLevel(val)
	if !valid {
		c.dropCorrupt(ctx, roleKey(userID))
		return 0, false, nil
	}
	return level, true, nil
}

// SetRole caches level for ttl
func (c *RedisCache) SetRole(ctx context.Context, userID string, level authz.PermissionLevel, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(roleKey(userID)), strconv.Itoa(int(level)), ttl).Err()
}

// GetCapabilities returns the cached capability set of userID
func (c *RedisCache) GetCapabilities(ctx context.Context, userID string) (authz.CapabilitySet, bool, error) {
	val, ok, err := c.getString(ctx, capsKey(userID))
	if err != nil || !ok {
		return 0, false, err
	}
	n, perr := strconv.ParseUint(val, 10, 32)
	if perr != nil {
		c.dropCorrupt(ctx, capsKey(userID))
		return 0, false, nil
	}
	return authz.CapabilitySet(n), true, nil
}

// SetCapabilities caches caps for ttl
func (c *RedisCache) SetCapabilities(ctx context.Context, userID string, caps authz.CapabilitySet, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(capsKey(userID)), strconv.FormatUint(uint64(caps), 10), ttl).Err()
}

// Invalidate drops every entry keyed to userID in one round trip
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	keys := userKeys(userID)
	for i := range keys {
		keys[i] = c.key(keys[i])
	}
	return c.client.Del(ctx, keys...).Err()
}

// BulkGet fetches every role with a single MGET
func (c *RedisCache) BulkGet(ctx context.Context, userIDs []string) (map[string]authz.PermissionLevel, error) {
	out := make(map[string]authz.PermissionLevel, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = c.key(roleKey(id))
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			c.counters.record(false)
			continue
		}
		level, valid := parseLevel(s)
		if !valid {
			c.dropCorrupt(ctx, roleKey(userIDs[i]))
			c.counters.record(false)
			continue
		}
		c.counters.record(true)
		out[userIDs[i]] = level
	}
	return out, nil
}

// BulkSet writes every level in one pipeline
func (c *RedisCache) BulkSet(ctx context.Context, levels map[string]authz.PermissionLevel, ttl time.Duration) error {
	if len(levels) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, level := range levels {
			pipe.Set(ctx, c.key(roleKey(id)), strconv.Itoa(int(level)), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// GetQuery returns a cached aggregate result
func (c *RedisCache) GetQuery(ctx context.Context, shape string) ([]byte, bool, error) {
	val, ok, err := c.getString(ctx, queryKey(shape))
	if err != nil || !ok {
		return nil, false, err
	}
	return []byte(val), true, nil
}

// SetQuery caches an aggregate result
func (c *RedisCache) SetQuery(ctx context.Context, shape string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(queryKey(shape)), value, ttl).Err()
}

// InvalidateQuery drops a cached aggregate result
func (c *RedisCache) InvalidateQuery(ctx context.Context, shape string) error {
	return c.client.Del(ctx, c.key(queryKey(shape))).Err()
}

// Stats walks the key space under the prefix with SCAN. It is meant for
// admin tooling, not the hot path.
func (c *RedisCache) Stats(ctx context.Context) (authz.CacheStats, error) {
	stats := authz.CacheStats{Backend: c.Name()}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 500).Result()
		if err != nil {
			return stats, fmt.Errorf("redis scan failed: %w", err)
		}
		if len(keys) > 0 {
			lens := make([]*redis.IntCmd, len(keys))
			_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, k := range keys {
					lens[i] = pipe.StrLen(ctx, k)
				}
				return nil
			})
			if err != nil {
				return stats, fmt.Errorf("redis strlen failed: %w", err)
			}
			for i, k := range keys {
				stats.Entries++
				stats.EstimatedBytes += int64(len(k)) + lens[i].Val() + entryOverhead
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	c.counters.fill(&stats)
	return stats, nil
}

// Close closes the client when the cache created it
func (c *RedisCache) Close() error {
	if c.ownClient {
		return c.client.Close()
	}
	return nil
}

var _ authz.PermissionCache = (*RedisCache)(nil)
