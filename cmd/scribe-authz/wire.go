package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/scribe/pkg/audit"
	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/config"
	"github.com/platinummonkey/scribe/pkg/middleware"
	"github.com/platinummonkey/scribe/pkg/observability"
	"github.com/platinummonkey/scribe/pkg/permcache"
	"github.com/platinummonkey/scribe/pkg/storage"
	"github.com/platinummonkey/scribe/pkg/storage/memory"
	"github.com/platinummonkey/scribe/pkg/storage/mongostore"
	"github.com/platinummonkey/scribe/pkg/storage/sqlstore"
)

const replicaHealthInterval = 30 * time.Second

// backend is an opened user and resource store
type backend struct {
	users     authz.UserStore
	resources authz.ResourceStore
	writer    userWriter

	// primary is set for SQL backends and hosts the audit table
	primary *sql.DB
	ping    observability.CheckFunc
	close   func(ctx context.Context) error
}

func openBackend(ctx context.Context, cfg storage.Config, logger *observability.Logger) (*backend, error) {
	switch cfg.Type {
	case storage.BackendMemory:
		store := memory.New()
		return &backend{
			users:     store,
			resources: store,
			writer:    store,
			close:     func(context.Context) error { return nil },
		}, nil

	case storage.BackendPostgres, storage.BackendSQLite:
		connCfg := sqlstore.ConnectionConfig{
			Driver:      sqlstore.DriverPostgres,
			PrimaryURL:  cfg.PostgresURL,
			ReplicaURLs: cfg.ReplicaURLs,
			MaxConns:    cfg.MaxConns,
			MinConns:    cfg.MinConns,
			Timeout:     cfg.Timeout,
			MaxLifetime: cfg.MaxLifetime,
			MaxIdleTime: cfg.MaxIdleTime,
		}
		if cfg.Type == storage.BackendSQLite {
			connCfg.Driver = sqlstore.DriverSQLite
			connCfg.PrimaryURL = cfg.SQLitePath
		}
		cm, err := sqlstore.NewConnectionManager(connCfg, logger)
		if err != nil {
			return nil, err
		}
		store := sqlstore.New(cm)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate %s store: %w", cfg.Type, err)
		}
		cm.StartHealthCheckRoutine(ctx, replicaHealthInterval)
		return &backend{
			users:     store,
			resources: store,
			writer:    store,
			primary:   cm.Primary(),
			ping:      store.Ping,
			close:     func(context.Context) error { return store.Close() },
		}, nil

	case storage.BackendMongo:
		store, err := mongostore.Connect(ctx, mongostore.Config{
			URI:            cfg.MongoURI,
			Database:       cfg.MongoDatabase,
			ConnectTimeout: cfg.Timeout,
			MaxPoolSize:    uint64(cfg.MaxConns),
			MinPoolSize:    uint64(cfg.MinConns),
		})
		if err != nil {
			return nil, err
		}
		return &backend{
			users:     store,
			resources: store,
			writer:    store,
			ping:      store.Ping,
			close:     store.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Type)
}

// bounded wraps the stores with the configured worker limit
func (b *backend) bounded(limit int64, metrics *observability.Metrics) (authz.UserStore, authz.ResourceStore) {
	if limit <= 0 {
		return b.users, b.resources
	}
	return storage.NewBoundedUserStore(b.users, limit, metrics),
		storage.NewBoundedResourceStore(b.resources, limit, metrics)
}

// cacheSetup is the permission cache and what keeps it tidy
type cacheSetup struct {
	cache   authz.PermissionCache
	redis   *redis.Client
	sweeper *permcache.Sweeper
}

func openCache(ctx context.Context, cfg config.CacheConfig, logger *observability.Logger) (*cacheSetup, error) {
	var (
		setup     = &cacheSetup{}
		sweepable permcache.Sweepable
	)
	switch cfg.Backend {
	case config.CacheNone:
		return setup, nil
	case config.CacheMemory:
		c := permcache.NewMemoryCache()
		setup.cache, sweepable = c, c
	case config.CacheLRU:
		c := permcache.NewLRUCache(permcache.LRUConfig{MaxEntries: cfg.MaxEntries, MaxTTL: cfg.DefaultTTL})
		setup.cache, sweepable = c, c
	case config.CacheRedis:
		c, err := permcache.NewRedisCache(ctx, permcache.RedisConfig{
			URL:        cfg.RedisURL,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			PoolSize:   cfg.RedisPoolSize,
			MaxRetries: cfg.RedisMaxRetries,
			KeyPrefix:  cfg.RedisKeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		setup.cache = c
		setup.redis = c.Client()
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	if sweepable != nil && cfg.SweepSchedule != "" {
		sweeper, err := permcache.NewSweeper(cfg.SweepSchedule, sweepable, logger)
		if err != nil {
			setup.cache.Close()
			return nil, err
		}
		setup.sweeper = sweeper
	}
	return setup, nil
}

// openAudit builds the audit sink chain. The first sink is the one whose
// errors are reported; it is the database when enabled, otherwise an
// in-process log that also serves permission change queries.
func openAudit(cfg config.AuditConfig, primary *sql.DB, logger *observability.Logger) (audit.Logger, audit.Searcher, error) {
	var (
		sinks    []audit.Logger
		searcher audit.Searcher
	)
	closeAll := func() {
		for _, s := range sinks {
			s.Close()
		}
	}

	if cfg.Database {
		if primary == nil {
			return nil, nil, errors.New("database audit sink requires a SQL store")
		}
		db, err := audit.NewDBLogger(primary)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, db)
		searcher = db
	} else {
		mem := audit.NewMemoryLogger()
		sinks = append(sinks, mem)
		searcher = mem
		logger.Warn("audit events are kept in memory only; enable SCRIBE_AUDIT_DATABASE to persist them")
	}

	if cfg.FilePath != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.FilePath
		fileCfg.Rotate = cfg.FileRotate
		fileCfg.Sync = cfg.FileSync
		if cfg.FileMaxSize > 0 {
			fileCfg.MaxSize = cfg.FileMaxSize
		}
		if cfg.FileMaxFiles > 0 {
			fileCfg.MaxFiles = cfg.FileMaxFiles
		}
		file, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, file)
	}

	if cfg.AMQPURL != "" {
		amqpCfg := audit.DefaultAMQPLoggerConfig()
		amqpCfg.URI = cfg.AMQPURL
		amqpCfg.Exchange = cfg.AMQPExchange
		if cfg.Timeout > 0 {
			amqpCfg.PublishTimeout = cfg.Timeout
		}
		publisher, err := audit.NewAMQPLogger(amqpCfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, publisher)
	}

	multi := audit.NewMultiLogger(sinks...)
	multi.SetAsync(cfg.Async)
	return multi, searcher, nil
}

// adminLimiter returns the admin route limiter. With a Redis cache the
// window is shared by every replica.
func adminLimiter(ctx context.Context, cfg config.ServerConfig, redisClient *redis.Client, logger *observability.Logger) middleware.Limiter {
	if cfg.AdminRateLimit <= 0 {
		return nil
	}
	rl := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.AdminRateLimit,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.AdminRateBurst,
	}
	if redisClient != nil {
		return middleware.NewDistributedRateLimiter(redisClient, rl, "")
	}
	limiter := middleware.NewRateLimiter(rl)
	limiter.StartCleanup(ctx)
	logger.Debug("admin rate limit is per process")
	return limiter
}
