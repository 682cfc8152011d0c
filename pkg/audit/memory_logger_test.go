package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogger_SearchNewestFirstWithPagination(t *testing.T) {
	ctx := context.Background()
	logger := NewMemoryLogger()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log(ctx, &AuditEvent{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			EventType:  EventTypeRoleChange,
			ResourceID: fmt.Sprintf("user-%d", i),
		}))
	}
	require.NoError(t, logger.Log(ctx, &AuditEvent{
		Timestamp: base.Add(10 * time.Minute),
		EventType: EventTypeShareGrant,
	}))

	page, err := logger.Search(ctx, SearchFilter{EventTypes: PermissionChangeTypes, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "user-4", page[0].ResourceID)
	assert.Equal(t, "user-3", page[1].ResourceID)

	page, err = logger.Search(ctx, SearchFilter{EventTypes: PermissionChangeTypes, Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "user-0", page[0].ResourceID)

	page, err = logger.Search(ctx, SearchFilter{Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, page)

	assert.Len(t, logger.Events(), 6)
}

func TestNoOpLogger_AssignsIdentity(t *testing.T) {
	event := &AuditEvent{EventType: EventTypeShareRevoke}
	require.NoError(t, NewNoOpLogger().Log(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, EventStatusSuccess, event.Status)
}
