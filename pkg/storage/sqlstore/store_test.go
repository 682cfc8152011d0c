package sqlstore

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/observability"
	"github.com/platinummonkey/scribe/pkg/storage/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	cm, err := NewConnectionManager(ConnectionConfig{
		Driver:     DriverSQLite,
		PrimaryURL: filepath.Join(t.TempDir(), "scribe.db"),
	}, observability.NewLogger(observability.ErrorLevel, io.Discard))
	require.NoError(t, err)

	s := New(cm)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return newSQLiteStore(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestPutUserReplaces(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	require.NoError(t, s.PutUser(ctx, &authz.User{ID: "u1", Email: "A@example.com", Level: authz.LevelUser}))
	require.NoError(t, s.PutUser(ctx, &authz.User{ID: "u1", Email: "a@example.com", Level: authz.LevelEditor}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, authz.LevelEditor, u.Level)
	assert.Equal(t, "a@example.com", u.Email)
	assert.Nil(t, u.CustomPermissions)
}

func TestSQLiteRejectsReplicas(t *testing.T) {
	cfg := ConnectionConfig{Driver: DriverSQLite, ReplicaURLs: []string{"x"}, MaxConns: 10}.withDefaults()
	assert.Nil(t, cfg.ReplicaURLs)
	assert.Equal(t, 1, cfg.MaxConns)
}

func TestPing(t *testing.T) {
	s := newSQLiteStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
