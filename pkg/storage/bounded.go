package storage

import (
	"context"
	"fmt"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/observability"
	"golang.org/x/sync/semaphore"
)

// limiter caps in-flight calls into one store
type limiter struct {
	name    string
	sem     *semaphore.Weighted
	metrics *observability.Metrics
}

func newLimiter(name string, n int64, metrics *observability.Metrics) *limiter {
	return &limiter{name: name, sem: semaphore.NewWeighted(n), metrics: metrics}
}

// acquire waits for a slot. The returned release must be called exactly once.
func (l *limiter) acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%s store: waiting for worker: %w: %v", l.name, authz.ErrStoreUnavailable, err)
	}
	l.metrics.StoreCallStarted(l.name)
	return func() {
		l.metrics.StoreCallFinished(l.name)
		l.sem.Release(1)
	}, nil
}

// BoundedUserStore wraps a UserStore with a worker limit
type BoundedUserStore struct {
	inner authz.UserStore
	lim   *limiter
}

// NewBoundedUserStore limits inner to n concurrent calls. A non-positive n
// returns inner unchanged.
func NewBoundedUserStore(inner authz.UserStore, n int64, metrics *observability.Metrics) authz.UserStore {
	if n <= 0 {
		return inner
	}
	return &BoundedUserStore{inner: inner, lim: newLimiter("users", n, metrics)}
}

func (s *BoundedUserStore) GetUser(ctx context.Context, id string) (*authz.User, error) {
	release, err := s.lim.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.inner.GetUser(ctx, id)
}

func (s *BoundedUserStore) GetUserByEmail(ctx context.Context, email string) (*authz.User, error) {
	release, err := s.lim.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.inner.GetUserByEmail(ctx, email)
}

func (s *BoundedUserStore) GetUsers(ctx context.Context, ids []string) (map[string]*authz.User, error) {
	release, err := s.lim.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.inner.GetUsers(ctx, ids)
}

func (s *BoundedUserStore) UpdateUser(ctx context.Context, id string, patch authz.UserPatch) error {
	release, err := s.lim.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.inner.UpdateUser(ctx, id, patch)
}

func (s *BoundedUserStore) CountByLevel(ctx context.Context) (map[authz.PermissionLevel]int, error) {
	release, err := s.lim.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.inner.CountByLevel(ctx)
}

func (s *BoundedUserStore) ListUsers(ctx context.Context, q authz.UserQuery) (*authz.UserPage, error) {
	release, err := s.lim.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.inner.ListUsers(ctx, q)
}

// BoundedResourceStore wraps a ResourceStore with a worker limit
type BoundedResourceStore struct {
	inner authz.ResourceStore
	lim   *limiter
}

// NewBoundedResourceStore limits inner to n concurrent calls. A non-positive
// n returns inner unchanged.
func NewBoundedResourceStore(inner authz.ResourceStore, n int64, metrics *observability.Metrics) authz.ResourceStore {
	if n <= 0 {
		return inner
	}
	return &BoundedResourceStore{inner: inner, lim: newLimiter("resources", n, metrics)}
}

func (s *BoundedResourceStore) GetResource(ctx context.Context, id string) (*authz.Resource, error) {
	release, err := s.lim.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.inner.GetResource(ctx, id)
}

func (s *BoundedResourceStore) UpsertResource(ctx context.Context, resource *authz.Resource, expectedVersion int64) (int64, error) {
	release, err := s.lim.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.inner.UpsertResource(ctx, resource, expectedVersion)
}

func (s *BoundedResourceStore) QueryResources(ctx context.Context, q authz.ResourceQuery) (*authz.ResourcePage, error) {
	release, err := s.lim.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.inner.QueryResources(ctx, q)
}
