// Package memory is an in-process implementation of the user and resource
// stores. Documents are copied on the way in and out so callers never share
// state with the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/storage"
)

// Store holds users and resources in maps guarded by one lock
type Store struct {
	mu        sync.RWMutex
	users     map[string]*authz.User
	byEmail   map[string]string
	resources map[string]*authz.Resource
}

// New creates an empty store
func New() *Store {
	return &Store{
		users:     make(map[string]*authz.User),
		byEmail:   make(map[string]string),
		resources: make(map[string]*authz.Resource),
	}
}

func cloneUser(u *authz.User) *authz.User {
	out := *u
	out.CustomPermissions = u.CustomPermissions.Clone()
	if u.PermissionHistory != nil {
		out.PermissionHistory = make([]authz.PermissionChange, len(u.PermissionHistory))
		copy(out.PermissionHistory, u.PermissionHistory)
	}
	return &out
}

// PutUser inserts or replaces a user. Emails are indexed case-insensitively.
func (s *Store) PutUser(ctx context.Context, u *authz.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.users[u.ID]; ok {
		delete(s.byEmail, strings.ToLower(old.Email))
	}
	s.users[u.ID] = cloneUser(u)
	if u.Email != "" {
		s.byEmail[strings.ToLower(u.Email)] = u.ID
	}
	return nil
}

// GetUser returns the user with id
func (s *Store) GetUser(ctx context.Context, id string) (*authz.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, authz.ErrNotFound)
	}
	return cloneUser(u), nil
}

// GetUserByEmail looks a user up by lowercased email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authz.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("user with email %s: %w", email, authz.ErrNotFound)
	}
	return cloneUser(s.users[id]), nil
}

// GetUsers returns every known user among ids
func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]*authz.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*authz.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = cloneUser(u)
		}
	}
	return out, nil
}

// UpdateUser applies patch under the write lock
func (s *Store) UpdateUser(ctx context.Context, id string, patch authz.UserPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, authz.ErrNotFound)
	}
	if patch.ExpectedLevel != nil && u.Level != *patch.ExpectedLevel {
		return fmt.Errorf("user %s: level is %s, expected %s: %w", id, u.Level, *patch.ExpectedLevel, authz.ErrConflict)
	}
	if patch.Level != nil {
		u.Level = *patch.Level
	}
	if patch.CustomPermissions != nil {
		u.CustomPermissions = patch.CustomPermissions.Clone()
	}
	if patch.AppendHistory != nil {
		u.PermissionHistory = append(u.PermissionHistory, *patch.AppendHistory)
	}
	return nil
}

// CountByLevel tallies users per level
func (s *Store) CountByLevel(ctx context.Context) (map[authz.PermissionLevel]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[authz.PermissionLevel]int)
	for _, u := range s.users {
		counts[u.Level]++
	}
	return counts, nil
}

// ListUsers pages through users ordered by ID
func (s *Store) ListUsers(ctx context.Context, q authz.UserQuery) (*authz.UserPage, error) {
	after, err := storage.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := storage.ClampLimit(q.Limit)

	s.mu.RLock()
	matched := make([]*authz.User, 0)
	for _, u := range s.users {
		if after != "" && u.ID <= after {
			continue
		}
		if q.MinLevel != 0 && u.Level < q.MinLevel {
			continue
		}
		matched = append(matched, cloneUser(u))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page := &authz.UserPage{Users: matched}
	if len(matched) > limit {
		page.Users = matched[:limit]
		page.NextCursor = storage.EncodeCursor(page.Users[limit-1].ID)
	}
	return page, nil
}

// GetResource returns the resource with id, including soft-deleted ones
func (s *Store) GetResource(ctx context.Context, id string) (*authz.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, authz.ErrNotFound)
	}
	return r.Clone(), nil
}

// UpsertResource stores resource if the current version equals
// expectedVersion and returns the new version
func (s *Store) UpsertResource(ctx context.Context, resource *authz.Resource, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.resources[resource.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return 0, &authz.ConflictError{ResourceID: resource.ID, Expected: expectedVersion}
	}

	stored := resource.Clone()
	stored.Version = expectedVersion + 1
	s.resources[resource.ID] = stored
	return stored.Version, nil
}

// QueryResources pages through resources ordered by ID
func (s *Store) QueryResources(ctx context.Context, q authz.ResourceQuery) (*authz.ResourcePage, error) {
	after, err := storage.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := storage.ClampLimit(q.Limit)

	s.mu.RLock()
	matched := make([]*authz.Resource, 0)
	for _, r := range s.resources {
		if after != "" && r.ID <= after {
			continue
		}
		if r.Deleted && !q.IncludeDeleted {
			continue
		}
		if q.OwnerID != "" && r.OwnerID != q.OwnerID {
			continue
		}
		if q.SharedWithUser != "" && r.FindShare(q.SharedWithUser) < 0 {
			continue
		}
		matched = append(matched, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page := &authz.ResourcePage{Resources: matched}
	if len(matched) > limit {
		page.Resources = matched[:limit]
		page.NextCursor = storage.EncodeCursor(page.Resources[limit-1].ID)
	}
	return page, nil
}

var (
	_ authz.UserStore     = (*Store)(nil)
	_ authz.ResourceStore = (*Store)(nil)
)
