package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Permission events
	EventTypeRoleChange       EventType = "authz.role_change"
	EventTypeCapabilityChange EventType = "authz.capability_change"

	// Sharing events
	EventTypeShareGrant  EventType = "share.grant"
	EventTypeShareUpdate EventType = "share.update"
	EventTypeShareRevoke EventType = "share.revoke"

	// Resource lifecycle events
	EventTypeResourceDelete  EventType = "resource.delete"
	EventTypeResourceRestore EventType = "resource.restore"
)

// PermissionChangeTypes are the event types that change a user's permissions.
var PermissionChangeTypes = []EventType{EventTypeRoleChange, EventTypeCapabilityChange}

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceTypeUser ResourceType = "user"
	ResourceTypeJob  ResourceType = "job"
)

// AuditEvent is a single, write-once audit record.
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	ActorID   string `json:"actor_id"`
	RequestID string `json:"request_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Changes holds before/after state for mutations
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID      string
	EventTypes   []EventType
	ResourceType ResourceType
	ResourceID   string

	// Pagination. Results are ordered newest first.
	Limit  int
	Offset int
}

// matches reports whether event passes the filter, ignoring pagination.
func (f SearchFilter) matches(event *AuditEvent) bool {
	if f.StartTime != nil && event.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && event.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.ActorID != "" && event.ActorID != f.ActorID {
		return false
	}
	if f.ResourceType != "" && event.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && event.ResourceID != f.ResourceID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == event.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// PermissionChangeRecord is the wire shape of a role change.
type PermissionChangeRecord struct {
	UserID    string `json:"userId"`
	OldLevel  string `json:"oldLevel"`
	NewLevel  string `json:"newLevel"`
	ChangedBy string `json:"changedBy"`
	ChangedAt int64  `json:"changedAt"`
}

// PermissionChange extracts the role-change record from a role change event.
// It returns false for any other event type.
func (e *AuditEvent) PermissionChange() (PermissionChangeRecord, bool) {
	if e.EventType != EventTypeRoleChange || e.Changes == nil {
		return PermissionChangeRecord{}, false
	}
	old, _ := e.Changes.Before["level"].(string)
	updated, _ := e.Changes.After["level"].(string)
	return PermissionChangeRecord{
		UserID:    e.ResourceID,
		OldLevel:  old,
		NewLevel:  updated,
		ChangedBy: e.ActorID,
		ChangedAt: e.Timestamp.UnixMilli(),
	}, true
}
