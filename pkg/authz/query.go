package authz

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/platinummonkey/scribe/pkg/audit"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// bulkFetchConcurrency bounds concurrent store fetches in BulkCheck.
const bulkFetchConcurrency = 4

// CountsByLevel counts users per permission level. Every defined level is
// present in the result, zero when empty. The result is cached by query
// shape and dropped whenever a level changes.
func (s *Service) CountsByLevel(ctx context.Context) (_ map[PermissionLevel]int, err error) {
	const op = "counts_by_level"
	ctx, span := startSpan(ctx, "CountsByLevel")
	defer func() { finish(span, err) }()

	if s.cache != nil {
		raw, ok, err := s.cache.GetQuery(ctx, countsByLevelShape)
		if err != nil {
			s.cacheFailure(ctx, "get_query", err)
		} else if ok {
			var cached map[PermissionLevel]int
			jsonErr := json.Unmarshal(raw, &cached)
			if jsonErr == nil {
				s.metrics.RecordCacheLookup(s.cacheName, true)
				return withAllLevels(cached), nil
			}
			s.cacheFailure(ctx, "decode_query", jsonErr)
		} else {
			s.metrics.RecordCacheLookup(s.cacheName, false)
		}
	}

	counts, err := s.users.CountByLevel(ctx)
	if err != nil {
		return nil, s.storeFailure(ctx, op, err)
	}
	counts = withAllLevels(counts)

	if s.cache != nil {
		if raw, err := json.Marshal(counts); err == nil {
			if err := s.cache.SetQuery(ctx, countsByLevelShape, raw, s.cfg.DefaultTTL); err != nil {
				s.cacheFailure(ctx, "set_query", err)
			}
		}
	}
	return counts, nil
}

func withAllLevels(in map[PermissionLevel]int) map[PermissionLevel]int {
	out := make(map[PermissionLevel]int, len(PermissionLevels))
	for _, level := range PermissionLevels {
		out[level] = in[level]
	}
	return out
}

// BulkCheck resolves the level of many users at once. Cached levels are
// used as-is; misses are fetched from the store in page-sized chunks and
// written back to the cache. Unknown user IDs are absent from the result.
func (s *Service) BulkCheck(ctx context.Context, userIDs []string) (_ map[string]PermissionLevel, err error) {
	const op = "bulk_check"
	ctx, span := startSpan(ctx, "BulkCheck", attribute.Int("users.requested", len(userIDs)))
	defer func() { finish(span, err) }()

	ids := dedupe(userIDs)
	if len(ids) > s.cfg.MaxScanResults {
		return nil, validationf(op, "bulk check of %d users exceeds limit of %d", len(ids), s.cfg.MaxScanResults)
	}
	result := make(map[string]PermissionLevel, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	missing := ids
	if s.cache != nil {
		hits, err := s.cache.BulkGet(ctx, ids)
		if err != nil {
			s.cacheFailure(ctx, "bulk_get", err)
		} else {
			missing = make([]string, 0, len(ids))
			for _, id := range ids {
				if level, ok := hits[id]; ok && level.Valid() {
					result[id] = level
				} else {
					missing = append(missing, id)
				}
			}
			for range result {
				s.metrics.RecordCacheLookup(s.cacheName, true)
			}
			for range missing {
				s.metrics.RecordCacheLookup(s.cacheName, false)
			}
		}
	}
	span.SetAttributes(attribute.Int("users.cache_misses", len(missing)))
	if len(missing) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	fetched := make(map[string]PermissionLevel, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkFetchConcurrency)
	for start := 0; start < len(missing); start += s.cfg.PageSize {
		end := start + s.cfg.PageSize
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]
		g.Go(func() error {
			users, err := s.users.GetUsers(gctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for id, u := range users {
				if u.Level.Valid() {
					fetched[id] = u.Level
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.storeFailure(ctx, op, err)
	}

	for id, level := range fetched {
		result[id] = level
	}
	if s.cache != nil && len(fetched) > 0 {
		if err := s.cache.BulkSet(ctx, fetched, s.cfg.DefaultTTL); err != nil {
			s.cacheFailure(ctx, "bulk_set", err)
		}
	}
	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// UsersAboveLevelPage returns one page of users whose level strictly
// exceeds base.
func (s *Service) UsersAboveLevelPage(ctx context.Context, base PermissionLevel, cursor string, limit int) (_ *UserPage, err error) {
	const op = "users_above_level"
	ctx, span := startSpan(ctx, "UsersAboveLevelPage", attribute.String("level.base", base.String()))
	defer func() { finish(span, err) }()

	if !base.Valid() {
		return nil, validationf(op, "undefined permission level %d", int(base))
	}
	if base == LevelAdmin {
		return &UserPage{}, nil
	}
	page, err := s.users.ListUsers(ctx, UserQuery{
		MinLevel: base + 1,
		Cursor:   cursor,
		Limit:    s.clampLimit(limit),
	})
	if err != nil {
		return nil, s.storeFailure(ctx, op, err)
	}
	return page, nil
}

// UsersAboveLevel collects every user whose level strictly exceeds base,
// page by page, stopping at MaxScanResults. The second return value is
// true when the result was truncated.
func (s *Service) UsersAboveLevel(ctx context.Context, base PermissionLevel) ([]*User, bool, error) {
	var (
		out    []*User
		cursor string
	)
	for {
		page, err := s.UsersAboveLevelPage(ctx, base, cursor, s.cfg.PageSize)
		if err != nil {
			return nil, false, err
		}
		out = append(out, page.Users...)
		if len(out) >= s.cfg.MaxScanResults {
			truncated := len(out) > s.cfg.MaxScanResults || page.NextCursor != ""
			if len(out) > s.cfg.MaxScanResults {
				out = out[:s.cfg.MaxScanResults]
			}
			return out, truncated, nil
		}
		if page.NextCursor == "" {
			return out, false, nil
		}
		cursor = page.NextCursor
	}
}

// RecentPermissionChangesPage returns one page of role and capability
// change events from the last daysBack days, newest first.
func (s *Service) RecentPermissionChangesPage(ctx context.Context, daysBack, offset, limit int) (_ []*audit.AuditEvent, err error) {
	const op = "recent_permission_changes"
	ctx, span := startSpan(ctx, "RecentPermissionChanges", attribute.Int("days_back", daysBack))
	defer func() { finish(span, err) }()

	if daysBack < 1 || daysBack > s.cfg.MaxRecentDays {
		return nil, validationf(op, "days back must be between 1 and %d", s.cfg.MaxRecentDays)
	}
	if offset < 0 {
		return nil, validationf(op, "offset must not be negative")
	}
	if s.auditSearch == nil {
		return nil, newError(op, ErrStoreUnavailable, nil, "audit search is not configured")
	}

	since := s.now().Add(-time.Duration(daysBack) * 24 * time.Hour)
	events, err := s.auditSearch.Search(ctx, audit.SearchFilter{
		StartTime:  &since,
		EventTypes: audit.PermissionChangeTypes,
		Limit:      s.clampLimit(limit),
		Offset:     offset,
	})
	if err != nil {
		return nil, s.storeFailure(ctx, op, err)
	}
	return events, nil
}

// RecentPermissionChanges scans permission change events from the last
// daysBack days page by page. The scan stops at MaxScanResults so a busy
// audit log can never turn it into a full table scan.
func (s *Service) RecentPermissionChanges(ctx context.Context, daysBack int) ([]*audit.AuditEvent, error) {
	var out []*audit.AuditEvent
	for offset := 0; len(out) < s.cfg.MaxScanResults; {
		page, err := s.RecentPermissionChangesPage(ctx, daysBack, offset, s.cfg.PageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < s.cfg.PageSize {
			break
		}
		offset += len(page)
	}
	if len(out) > s.cfg.MaxScanResults {
		out = out[:s.cfg.MaxScanResults]
	}
	return out, nil
}
