//go:build integration

package sqlstore

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/platinummonkey/scribe/pkg/observability"
	"github.com/platinummonkey/scribe/pkg/storage/storetest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns its DSN
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("scribe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := setupPostgres(t)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	storetest.Run(t, func(t *testing.T) storetest.Store {
		cm, err := NewConnectionManager(ConnectionConfig{Driver: DriverPostgres, PrimaryURL: dsn}, logger)
		require.NoError(t, err)
		s := New(cm)
		ctx := context.Background()
		require.NoError(t, s.Migrate(ctx))

		// every subtest starts from empty tables
		_, err = cm.Primary().ExecContext(ctx, `TRUNCATE users, permission_history, resources, resource_shares`)
		require.NoError(t, err)

		t.Cleanup(func() { s.Close() })
		return s
	})
}
