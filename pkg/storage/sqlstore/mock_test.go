package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := New(NewConnectionManagerFromDB(DriverPostgres, db))
	t.Cleanup(func() { db.Close() })
	return s, mock
}

func TestGetUser_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, email, level, custom_permissions FROM users WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "level", "custom_permissions"}))

	_, err := s.GetUser(context.Background(), "ghost")
	assert.True(t, errors.Is(err, authz.ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUser_ConnectionLostIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE id = \$1`).
		WithArgs("u1").
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	_, err := s.GetUser(context.Background(), "u1")
	assert.True(t, errors.Is(err, authz.ErrStoreUnavailable), "got %v", err)
	assert.False(t, errors.Is(err, authz.ErrAccessDenied))
}

func TestGetUser_DecodesRowAndHistory(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "level", "custom_permissions"}).
			AddRow("u1", "u1@example.com", 2, []byte(`{"export-jobs":true}`)))
	mock.ExpectQuery(`SELECT old_level, new_level, changed_by, changed_at\s+FROM permission_history`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"old_level", "new_level", "changed_by", "changed_at"}).
			AddRow(1, 2, "root", int64(1700000000000)))

	u, err := s.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, authz.LevelEditor, u.Level)
	assert.Equal(t, authz.Overrides{authz.CapExportJobs: true}, u.CustomPermissions)
	require.Len(t, u.PermissionHistory, 1)
	assert.Equal(t, int64(1700000000000), u.PermissionHistory[0].ChangedAt.UnixMilli())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertResource_StaleVersionConflicts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE resources\s+SET .* WHERE id = \$6 AND version = \$7`).
		WithArgs("transcription", "owner", false, `[]`, int64(4), "r1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.UpsertResource(context.Background(), &authz.Resource{ID: "r1", Type: "transcription", OwnerID: "owner"}, 3)
	var conflict *authz.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(3), conflict.Expected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertResource_RewritesShareIndex(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO resources`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM resource_shares WHERE resource_id = \$1`).
		WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO resource_shares`).
		WithArgs("r1", "u2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := s.UpsertResource(context.Background(), &authz.Resource{
		ID: "r1", Type: "transcription", OwnerID: "owner",
		SharedWith: []authz.ShareEntry{{UserID: "u2", Level: authz.ShareView}},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUser_MissingUserRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	level := authz.LevelAdmin

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET level = \$1 WHERE id = \$2`).
		WithArgs(3, "ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.UpdateUser(context.Background(), "ghost", authz.UserPatch{Level: &level})
	assert.True(t, errors.Is(err, authz.ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByLevel_UsesReplica(t *testing.T) {
	primary, _, err := sqlmock.New()
	require.NoError(t, err)
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	s := New(NewConnectionManagerFromDB(DriverPostgres, primary, replica))
	defer s.Close()

	replicaMock.ExpectQuery(`SELECT level, COUNT\(\*\) FROM users GROUP BY level`).
		WillReturnRows(sqlmock.NewRows([]string{"level", "count"}).AddRow(1, 5).AddRow(3, 1))

	counts, err := s.CountByLevel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[authz.PermissionLevel]int{authz.LevelUser: 5, authz.LevelAdmin: 1}, counts)
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}

func TestHealthCheck_AllReplicasDown(t *testing.T) {
	primary, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	replica, replicaMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	cm := NewConnectionManagerFromDB(DriverPostgres, primary, replica)
	defer cm.Close()

	primaryMock.ExpectPing()
	replicaMock.ExpectPing().WillReturnError(errors.New("down"))

	err = cm.HealthCheck(context.Background())
	assert.ErrorContains(t, err, "all replicas unhealthy")

	replicaMock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
	assert.Same(t, primary, cm.Replica())
}

func TestUpdateUser_ExpectedLevelMismatchConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	next, expected := authz.LevelEditor, authz.LevelUser
	change := authz.PermissionChange{OldLevel: authz.LevelUser, NewLevel: authz.LevelEditor, ChangedBy: "root"}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET level = \$1 WHERE id = \$2 AND level = \$3`).
		WithArgs(2, "bob", 1).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT level FROM users WHERE id = \$1`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"level"}).AddRow(2))
	mock.ExpectRollback()

	err := s.UpdateUser(context.Background(), "bob", authz.UserPatch{
		Level: &next, ExpectedLevel: &expected, AppendHistory: &change,
	})
	assert.True(t, errors.Is(err, authz.ErrConflict), "got %v", err)
	assert.False(t, errors.Is(err, authz.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUser_ExpectedLevelOnMissingUser(t *testing.T) {
	s, mock := newMockStore(t)
	next, expected := authz.LevelEditor, authz.LevelUser

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET level = \$1 WHERE id = \$2 AND level = \$3`).
		WithArgs(2, "ghost", 1).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT level FROM users WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"level"}))
	mock.ExpectRollback()

	err := s.UpdateUser(context.Background(), "ghost", authz.UserPatch{Level: &next, ExpectedLevel: &expected})
	assert.True(t, errors.Is(err, authz.ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUsers_ReadsPrimary(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	s := New(NewConnectionManagerFromDB(DriverPostgres, primary, replica))
	defer s.Close()

	primaryMock.ExpectQuery(`SELECT id, email, level, custom_permissions FROM users WHERE id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "level", "custom_permissions"}).
			AddRow("u1", "u1@example.com", 2, nil))

	users, err := s.GetUsers(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	require.Contains(t, users, "u1")
	assert.Equal(t, authz.LevelEditor, users["u1"].Level)
	assert.NoError(t, primaryMock.ExpectationsWereMet())
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}
