package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEvent_ToJSON(t *testing.T) {
	event := &AuditEvent{
		ID:           "evt-1",
		Timestamp:    time.Now().UTC(),
		EventType:    EventTypeShareGrant,
		Status:       EventStatusSuccess,
		ActorID:      "owner-1",
		ResourceType: ResourceTypeJob,
		ResourceID:   "job-1",
		Message:      "shared job",
		Changes: &ChangeDetails{
			After: map[string]interface{}{"level": "view"},
		},
	}

	jsonData, err := event.ToJSON()
	require.NoError(t, err)
	assert.NotEmpty(t, jsonData)

	parsed, err := FromJSON(jsonData)
	require.NoError(t, err)
	assert.Equal(t, event.ID, parsed.ID)
	assert.Equal(t, event.EventType, parsed.EventType)
	assert.Equal(t, event.ActorID, parsed.ActorID)
	assert.Equal(t, "view", parsed.Changes.After["level"])
}

func TestEventType_Constants(t *testing.T) {
	assert.Equal(t, EventType("authz.role_change"), EventTypeRoleChange)
	assert.Equal(t, EventType("authz.capability_change"), EventTypeCapabilityChange)
	assert.Equal(t, EventType("share.revoke"), EventTypeShareRevoke)
	assert.ElementsMatch(t, []EventType{EventTypeRoleChange, EventTypeCapabilityChange}, PermissionChangeTypes)
}

func TestAuditEvent_PermissionChange(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &AuditEvent{
		Timestamp:  ts,
		EventType:  EventTypeRoleChange,
		ActorID:    "admin-1",
		ResourceID: "user-7",
		Changes: &ChangeDetails{
			Before: map[string]interface{}{"level": "user"},
			After:  map[string]interface{}{"level": "editor"},
		},
	}

	record, ok := event.PermissionChange()
	require.True(t, ok)
	assert.Equal(t, PermissionChangeRecord{
		UserID:    "user-7",
		OldLevel:  "user",
		NewLevel:  "editor",
		ChangedBy: "admin-1",
		ChangedAt: ts.UnixMilli(),
	}, record)

	event.EventType = EventTypeShareGrant
	_, ok = event.PermissionChange()
	assert.False(t, ok)
}

func TestSearchFilter_Matches(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)
	event := &AuditEvent{
		Timestamp:    now,
		EventType:    EventTypeShareRevoke,
		ActorID:      "a",
		ResourceType: ResourceTypeJob,
		ResourceID:   "j",
	}

	assert.True(t, SearchFilter{}.matches(event))
	assert.True(t, SearchFilter{StartTime: &earlier, ActorID: "a"}.matches(event))
	assert.False(t, SearchFilter{EndTime: &earlier}.matches(event))
	assert.False(t, SearchFilter{ActorID: "b"}.matches(event))
	assert.False(t, SearchFilter{EventTypes: PermissionChangeTypes}.matches(event))
	assert.True(t, SearchFilter{EventTypes: []EventType{EventTypeShareRevoke}, ResourceID: "j"}.matches(event))
}
