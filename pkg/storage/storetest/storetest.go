// Package storetest is a behavioural suite shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is what a backend must provide to run the suite
type Store interface {
	authz.UserStore
	authz.ResourceStore
	PutUser(ctx context.Context, u *authz.User) error
}

// Factory returns an empty store for one subtest
type Factory func(t *testing.T) Store

// Run exercises users, resources and paging against fresh stores
func Run(t *testing.T, newStore Factory) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("user history", func(t *testing.T) { testUserHistory(t, newStore(t)) })
	t.Run("conditional level", func(t *testing.T) { testConditionalLevel(t, newStore(t)) })
	t.Run("user paging", func(t *testing.T) { testUserPaging(t, newStore(t)) })
	t.Run("resource versions", func(t *testing.T) { testResourceVersions(t, newStore(t)) })
	t.Run("resource queries", func(t *testing.T) { testResourceQueries(t, newStore(t)) })
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, &authz.User{ID: "u1", Email: "Alice@Example.com", Level: authz.LevelEditor}))
	require.NoError(t, s.PutUser(ctx, &authz.User{ID: "u2", Email: "bob@example.com", Level: authz.LevelUser}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, authz.LevelEditor, u.Level)

	u, err = s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = s.GetUser(ctx, "missing")
	assert.True(t, errors.Is(err, authz.ErrNotFound), "got %v", err)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.True(t, errors.Is(err, authz.ErrNotFound), "got %v", err)

	many, err := s.GetUsers(ctx, []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, many, 2)
	assert.Equal(t, authz.LevelUser, many["u2"].Level)

	overrides := authz.Overrides{authz.CapExportJobs: true, authz.CapCreateJobs: false}
	level := authz.LevelAdmin
	require.NoError(t, s.UpdateUser(ctx, "u2", authz.UserPatch{Level: &level, CustomPermissions: &overrides}))

	u, err = s.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, authz.LevelAdmin, u.Level)
	assert.Equal(t, overrides, u.CustomPermissions)

	err = s.UpdateUser(ctx, "ghost", authz.UserPatch{Level: &level})
	assert.True(t, errors.Is(err, authz.ErrNotFound), "got %v", err)

	counts, err := s.CountByLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[authz.LevelEditor])
	assert.Equal(t, 1, counts[authz.LevelAdmin])
	assert.Equal(t, 0, counts[authz.LevelUser])
}

func testUserHistory(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.PutUser(ctx, &authz.User{ID: "u1", Email: "u1@example.com", Level: authz.LevelUser}))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, next := range []authz.PermissionLevel{authz.LevelEditor, authz.LevelAdmin} {
		prev := authz.PermissionLevels[i]
		change := authz.PermissionChange{
			UserID:    "u1",
			OldLevel:  prev,
			NewLevel:  next,
			ChangedBy: "root",
			ChangedAt: at.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.UpdateUser(ctx, "u1", authz.UserPatch{Level: &next, AppendHistory: &change}))
	}

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, u.PermissionHistory, 2)
	assert.Equal(t, authz.LevelUser, u.PermissionHistory[0].OldLevel)
	assert.Equal(t, authz.LevelAdmin, u.PermissionHistory[1].NewLevel)
	assert.True(t, u.PermissionHistory[1].ChangedAt.Equal(at.Add(time.Minute)))
}

func testConditionalLevel(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.PutUser(ctx, &authz.User{ID: "u1", Email: "u1@example.com", Level: authz.LevelUser}))

	next, stale := authz.LevelAdmin, authz.LevelEditor
	change := authz.PermissionChange{UserID: "u1", OldLevel: stale, NewLevel: next, ChangedBy: "root", ChangedAt: time.Now().UTC()}
	err := s.UpdateUser(ctx, "u1", authz.UserPatch{Level: &next, ExpectedLevel: &stale, AppendHistory: &change})
	assert.True(t, errors.Is(err, authz.ErrConflict), "got %v", err)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, authz.LevelUser, u.Level)
	assert.Empty(t, u.PermissionHistory, "a rejected patch writes nothing")

	current := authz.LevelUser
	change.OldLevel = current
	require.NoError(t, s.UpdateUser(ctx, "u1", authz.UserPatch{Level: &next, ExpectedLevel: &current, AppendHistory: &change}))

	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, authz.LevelAdmin, u.Level)
	require.Len(t, u.PermissionHistory, 1)
	assert.Equal(t, authz.LevelUser, u.PermissionHistory[0].OldLevel)

	err = s.UpdateUser(ctx, "ghost", authz.UserPatch{Level: &next, ExpectedLevel: &current})
	assert.True(t, errors.Is(err, authz.ErrNotFound), "got %v", err)
}

func testUserPaging(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		level := authz.LevelUser
		if i%2 == 1 {
			level = authz.LevelAdmin
		}
		id := fmt.Sprintf("user-%02d", i)
		require.NoError(t, s.PutUser(ctx, &authz.User{ID: id, Email: id + "@example.com", Level: level}))
	}

	var seen []string
	cursor := ""
	for {
		page, err := s.ListUsers(ctx, authz.UserQuery{Cursor: cursor, Limit: 3})
		require.NoError(t, err)
		for _, u := range page.Users {
			seen = append(seen, u.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"user-00", "user-01", "user-02", "user-03", "user-04", "user-05", "user-06"}, seen)

	page, err := s.ListUsers(ctx, authz.UserQuery{MinLevel: authz.LevelAdmin, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Users, 3)
	assert.Empty(t, page.NextCursor)

	_, err = s.ListUsers(ctx, authz.UserQuery{Cursor: "%%%"})
	assert.True(t, errors.Is(err, authz.ErrValidation), "got %v", err)
}

func testResourceVersions(t *testing.T, s Store) {
	ctx := context.Background()
	granted := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	r := &authz.Resource{ID: "job-1", Type: "transcription", OwnerID: "owner"}
	v, err := s.UpsertResource(ctx, r, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = s.UpsertResource(ctx, r, 0)
	var conflict *authz.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, errors.Is(err, authz.ErrConflict))

	got, err := s.GetResource(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	got.SharedWith = append(got.SharedWith, authz.ShareEntry{
		UserID: "u2", UserEmail: "u2@example.com", Level: authz.ShareEdit, GrantedAt: granted, GrantedBy: "owner",
	})
	v, err = s.UpsertResource(ctx, got, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = s.UpsertResource(ctx, got, 1)
	assert.True(t, errors.Is(err, authz.ErrConflict), "stale version must conflict, got %v", err)

	got, err = s.GetResource(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got.SharedWith, 1)
	assert.Equal(t, authz.ShareEdit, got.SharedWith[0].Level)
	assert.True(t, got.SharedWith[0].GrantedAt.Equal(granted))

	_, err = s.GetResource(ctx, "missing")
	assert.True(t, errors.Is(err, authz.ErrNotFound), "got %v", err)
}

func testResourceQueries(t *testing.T, s Store) {
	ctx := context.Background()
	share := func(userID string) []authz.ShareEntry {
		return []authz.ShareEntry{{UserID: userID, Level: authz.ShareView, GrantedBy: "owner", GrantedAt: time.Now().UTC()}}
	}

	docs := []*authz.Resource{
		{ID: "a", Type: "transcription", OwnerID: "owner", SharedWith: share("viewer")},
		{ID: "b", Type: "transcription", OwnerID: "owner"},
		{ID: "c", Type: "transcription", OwnerID: "other", SharedWith: share("viewer")},
		{ID: "d", Type: "transcription", OwnerID: "owner", SharedWith: share("viewer"), Deleted: true},
	}
	for _, d := range docs {
		_, err := s.UpsertResource(ctx, d, 0)
		require.NoError(t, err)
	}

	page, err := s.QueryResources(ctx, authz.ResourceQuery{SharedWithUser: "viewer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, resourceIDs(page))

	page, err = s.QueryResources(ctx, authz.ResourceQuery{SharedWithUser: "viewer", IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, resourceIDs(page))

	page, err = s.QueryResources(ctx, authz.ResourceQuery{OwnerID: "owner", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, resourceIDs(page))
	require.NotEmpty(t, page.NextCursor)

	page, err = s.QueryResources(ctx, authz.ResourceQuery{OwnerID: "owner", Cursor: page.NextCursor, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, resourceIDs(page))
	assert.Empty(t, page.NextCursor)

	// revoking the share removes the resource from shared-with results
	a, err := s.GetResource(ctx, "a")
	require.NoError(t, err)
	a.SharedWith = nil
	_, err = s.UpsertResource(ctx, a, a.Version)
	require.NoError(t, err)

	page, err = s.QueryResources(ctx, authz.ResourceQuery{SharedWithUser: "viewer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, resourceIDs(page))
}

func resourceIDs(page *authz.ResourcePage) []string {
	ids := make([]string, 0, len(page.Resources))
	for _, r := range page.Resources {
		ids = append(ids, r.ID)
	}
	return ids
}
