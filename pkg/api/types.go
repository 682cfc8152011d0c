package api

import (
	"github.com/platinummonkey/scribe/pkg/authz"
)

// ShareBody is the payload of PUT /v1/resources/{id}/shares. Exactly one of
// UserID or Email names the target.
type ShareBody struct {
	UserID  string           `json:"user_id,omitempty"`
	Email   string           `json:"email,omitempty"`
	Level   authz.ShareLevel `json:"level"`
	Message string           `json:"message,omitempty"`
}

// AccessResponse is the result of an access check
type AccessResponse struct {
	ResourceID string `json:"resource_id"`
	Required   string `json:"required"`
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason"`

	// Granted is "owner" or the share level held, when any
	Granted string `json:"granted,omitempty"`
}

// ResourceSummary describes a resource shared with the caller. The share
// list of other users is not exposed.
type ResourceSummary struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	OwnerID string `json:"owner_id"`
	Access  string `json:"access"`
}

// ResourceListResponse is one page of resources
type ResourceListResponse struct {
	Resources  []ResourceSummary `json:"resources"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// SharesResponse lists the shares on a resource
type SharesResponse struct {
	ResourceID string             `json:"resource_id"`
	Shares     []authz.ShareEntry `json:"shares"`
}

// CapabilitiesResponse is the capability catalog
type CapabilitiesResponse struct {
	Capabilities []authz.CapabilityInfo `json:"capabilities"`
}

// LevelBody is the payload of PUT /v1/admin/users/{id}/level
type LevelBody struct {
	Level authz.PermissionLevel `json:"level"`
}

// LevelChangeResponse reports the outcome of a level change. Change is nil
// when the user already had the requested level.
type LevelChangeResponse struct {
	UserID  string                  `json:"user_id"`
	Level   authz.PermissionLevel   `json:"level"`
	Changed bool                    `json:"changed"`
	Change  *authz.PermissionChange `json:"change,omitempty"`
}

// CapabilitiesBody is the payload of PUT /v1/admin/users/{id}/capabilities.
// It replaces the user's whole override map.
type CapabilitiesBody struct {
	Overrides map[string]bool `json:"overrides"`
}

// UserPermissionsResponse is the admin view of one user
type UserPermissionsResponse struct {
	User      *authz.User                 `json:"user"`
	Effective *authz.EffectivePermissions `json:"effective"`
}

// BulkCheckBody is the payload of POST /v1/admin/users/bulk-check
type BulkCheckBody struct {
	UserIDs []string `json:"user_ids"`
}

// BulkCheckResponse maps each known user ID to its level. Unknown IDs are
// listed separately.
type BulkCheckResponse struct {
	Levels  map[string]authz.PermissionLevel `json:"levels"`
	Unknown []string                         `json:"unknown,omitempty"`
}

// UserSummary is a user without overrides or history
type UserSummary struct {
	ID    string                `json:"id"`
	Email string                `json:"email"`
	Level authz.PermissionLevel `json:"level"`
}

// ElevatedUsersResponse lists users above a level
type ElevatedUsersResponse struct {
	Above      authz.PermissionLevel `json:"above"`
	Users      []UserSummary         `json:"users"`
	Truncated  bool                  `json:"truncated,omitempty"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// LevelCountsResponse counts users per level
type LevelCountsResponse struct {
	Counts map[authz.PermissionLevel]int `json:"counts"`
	Total  int                           `json:"total"`
}

// PermissionChangesResponse lists recent level changes
type PermissionChangesResponse struct {
	DaysBack int                      `json:"days_back"`
	Changes  []authz.PermissionChange `json:"changes"`
}

func summarizeUsers(users []*authz.User) []UserSummary {
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, UserSummary{ID: u.ID, Email: u.Email, Level: u.Level})
	}
	return out
}
