package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnError(errors.New("table creation failed"))

		logger, err := NewDBLogger(db)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "failed to ensure audit_events table")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("role change with changes", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		event := &AuditEvent{
			EventType:    EventTypeRoleChange,
			ActorID:      "admin-1",
			ResourceType: ResourceTypeUser,
			ResourceID:   "user-1",
			Changes: &ChangeDetails{
				Before: map[string]interface{}{"level": "user"},
				After:  map[string]interface{}{"level": "admin"},
			},
		}

		mock.ExpectExec("INSERT INTO audit_events").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "authz.role_change", "success",
				"admin-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, logger.Log(context.Background(), event))
		assert.NotEmpty(t, event.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errors.New("connection refused"))

		err := logger.Log(context.Background(), &AuditEvent{EventType: EventTypeShareGrant, ActorID: "u"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit event")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLogger_Search(t *testing.T) {
	columns := []string{
		"id", "timestamp", "event_type", "status",
		"actor_id", "request_id", "resource_type", "resource_id",
		"message", "metadata", "changes",
	}

	t.Run("permission changes with paging", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		since := time.Now().Add(-24 * time.Hour)
		ts := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

		rows := sqlmock.NewRows(columns).AddRow(
			"evt-1", ts, "authz.role_change", "success",
			"admin-1", nil, "user", "user-9",
			nil, nil, []byte(`{"before":{"level":"user"},"after":{"level":"editor"}}`),
		)
		mock.ExpectQuery(`SELECT .* FROM audit_events .* event_type = ANY\(\$2\) ORDER BY timestamp DESC, id DESC LIMIT \$3 OFFSET \$4`).
			WithArgs(since, sqlmock.AnyArg(), 50, 100).
			WillReturnRows(rows)

		events, err := logger.Search(context.Background(), SearchFilter{
			StartTime:  &since,
			EventTypes: PermissionChangeTypes,
			Limit:      50,
			Offset:     100,
		})
		require.NoError(t, err)
		require.Len(t, events, 1)

		record, ok := events[0].PermissionChange()
		require.True(t, ok)
		assert.Equal(t, "user-9", record.UserID)
		assert.Equal(t, "user", record.OldLevel)
		assert.Equal(t, "editor", record.NewLevel)
		assert.Equal(t, ts.UnixMilli(), record.ChangedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		logger := &DBLogger{db: db}
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("timeout"))

		_, err := logger.Search(context.Background(), SearchFilter{ActorID: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to search audit events")
	})
}
