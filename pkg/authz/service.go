package authz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/platinummonkey/scribe/pkg/audit"
	"github.com/platinummonkey/scribe/pkg/contextkeys"
	"github.com/platinummonkey/scribe/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("scribe/authz")

// Query cache shapes.
const countsByLevelShape = "counts_by_level"

// Config tunes the service.
type Config struct {
	// DefaultTTL is the lifetime of cached roles and capability sets.
	DefaultTTL time.Duration

	// ShareRetryAttempts bounds attempts of a resource read-modify-write
	// that keeps hitting version conflicts.
	ShareRetryAttempts   int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// PageSize is the page size for store and audit scans.
	PageSize int
	// MaxScanResults caps how many rows a single bulk query returns.
	MaxScanResults int
	// MaxRecentDays caps the window of RecentPermissionChanges.
	MaxRecentDays int

	MaxShareMessageLength int

	// AuditTimeout bounds an audit write, which runs detached from the
	// caller's cancellation.
	AuditTimeout time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		DefaultTTL:            5 * time.Minute,
		ShareRetryAttempts:    3,
		RetryInitialInterval:  25 * time.Millisecond,
		RetryMaxInterval:      250 * time.Millisecond,
		PageSize:              100,
		MaxScanResults:        1000,
		MaxRecentDays:         90,
		MaxShareMessageLength: 500,
		AuditTimeout:          5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = d.DefaultTTL
	}
	if c.ShareRetryAttempts <= 0 {
		c.ShareRetryAttempts = d.ShareRetryAttempts
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = d.RetryInitialInterval
	}
	if c.RetryMaxInterval < c.RetryInitialInterval {
		c.RetryMaxInterval = c.RetryInitialInterval
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.MaxScanResults <= 0 {
		c.MaxScanResults = d.MaxScanResults
	}
	if c.MaxRecentDays <= 0 {
		c.MaxRecentDays = d.MaxRecentDays
	}
	if c.MaxShareMessageLength <= 0 {
		c.MaxShareMessageLength = d.MaxShareMessageLength
	}
	if c.AuditTimeout <= 0 {
		c.AuditTimeout = d.AuditTimeout
	}
	return c
}

// Options wires a Service to its collaborators.
type Options struct {
	Users     UserStore
	Resources ResourceStore

	// Cache is optional. Without it every lookup goes to the store.
	Cache PermissionCache

	// Audit is optional and defaults to a sink that discards events.
	Audit audit.Logger
	// AuditSearch backs RecentPermissionChanges.
	AuditSearch audit.Searcher

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Now defaults to time.Now.
	Now func() time.Time

	Config Config
}

// Service is the authorization core. It is safe for concurrent use.
type Service struct {
	users       UserStore
	resources   ResourceStore
	cache       PermissionCache
	cacheName   string
	audit       audit.Logger
	auditSearch audit.Searcher
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	cfg         Config
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Users == nil {
		return nil, errors.New("authz: user store is required")
	}
	if opts.Resources == nil {
		return nil, errors.New("authz: resource store is required")
	}

	s := &Service{
		users:       opts.Users,
		resources:   opts.Resources,
		cache:       opts.Cache,
		cacheName:   "none",
		audit:       opts.Audit,
		auditSearch: opts.AuditSearch,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
		cfg:         opts.Config.withDefaults(),
	}
	if s.audit == nil {
		s.audit = audit.NewNoOpLogger()
	}
	if s.logger == nil {
		s.logger = observability.NewLogger(observability.ErrorLevel, io.Discard)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cache != nil {
		s.cacheName = "permcache"
		if named, ok := s.cache.(interface{ Name() string }); ok {
			s.cacheName = named.Name()
		}
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Close releases the cache. Stores and audit sinks belong to the caller.
func (s *Service) Close() error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Close(); err != nil {
		return fmt.Errorf("close permission cache: %w", err)
	}
	return nil
}

// CacheStats reports the cache contents. Without a cache it reports an
// empty "none" backend.
func (s *Service) CacheStats(ctx context.Context) (CacheStats, error) {
	if s.cache == nil {
		return CacheStats{Backend: "none"}, nil
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		s.cacheFailure(ctx, "stats", err)
		return CacheStats{}, newError("cache_stats", ErrStoreUnavailable, err, "cache stats unavailable")
	}
	s.metrics.SetCacheEntries(s.cacheName, stats.Entries)
	return stats, nil
}

// log prefers the request-scoped logger set by middleware.
func (s *Service) log(ctx context.Context) *observability.Logger {
	logger := s.logger
	if l, ok := ctx.Value(contextkeys.LoggerKey).(*observability.Logger); ok {
		logger = l
	}
	return observability.UpdateLoggerWithTraceContext(ctx, logger)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "authz."+name, trace.WithAttributes(attrs...))
}

// finish records err on span. Denials and validation failures are normal
// outcomes and leave the span status unset.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if k := Kind(err); k == ErrStoreUnavailable || k == nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func (s *Service) storeFailure(ctx context.Context, op string, err error) error {
	wrapped := storeError(op, err)
	kind := Kind(wrapped)
	if kind == ErrStoreUnavailable {
		s.metrics.RecordStoreError(op, "store_unavailable")
		s.log(ctx).WithError(err).WithField("op", op).Error("store unavailable")
	} else if kind == ErrConflict {
		s.metrics.RecordShareConflict()
	}
	return wrapped
}

func (s *Service) cacheFailure(ctx context.Context, op string, err error) {
	s.metrics.RecordCacheError(s.cacheName, op)
	s.log(ctx).WithError(err).WithFields(map[string]interface{}{
		"cache": s.cacheName,
		"op":    op,
	}).Warn("permission cache failure, falling back to store")
}

// invalidateUser runs strictly after the store write it follows has
// committed. A failure leaves the entry stale for at most DefaultTTL.
func (s *Service) invalidateUser(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.cacheFailure(ctx, "invalidate", err)
	}
	if err := s.cache.InvalidateQuery(ctx, countsByLevelShape); err != nil {
		s.cacheFailure(ctx, "invalidate_query", err)
	}
}

// emit writes event to the audit sink. Failures are logged and counted and
// never returned: the mutation the event describes has already committed.
func (s *Service) emit(ctx context.Context, event *audit.AuditEvent) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AuditTimeout)
	defer cancel()

	if err := s.audit.Log(actx, event); err != nil {
		s.metrics.RecordAuditFailure(string(event.EventType))
		s.log(ctx).WithError(err).WithFields(map[string]interface{}{
			"event_type":    event.EventType,
			"actor_id":      event.ActorID,
			"resource_type": event.ResourceType,
			"resource_id":   event.ResourceID,
		}).Error("failed to write audit event")
	}
}
