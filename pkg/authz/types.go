package authz

import (
	"encoding/json"
	"time"
)

// User is the permission-relevant part of a user document.
type User struct {
	ID                string             `json:"id"`
	Email             string             `json:"email"`
	Level             PermissionLevel    `json:"level"`
	CustomPermissions Overrides          `json:"custom_permissions,omitempty"`
	PermissionHistory []PermissionChange `json:"permission_history,omitempty"`
}

// PermissionChange is one append-only entry of a user's permission history.
type PermissionChange struct {
	UserID    string          `json:"userId"`
	OldLevel  PermissionLevel `json:"oldLevel"`
	NewLevel  PermissionLevel `json:"newLevel"`
	ChangedBy string          `json:"changedBy"`
	ChangedAt time.Time       `json:"-"`
}

type permissionChangeJSON struct {
	UserID    string          `json:"userId"`
	OldLevel  PermissionLevel `json:"oldLevel"`
	NewLevel  PermissionLevel `json:"newLevel"`
	ChangedBy string          `json:"changedBy"`
	ChangedAt int64           `json:"changedAt"`
}

// MarshalJSON encodes ChangedAt as epoch milliseconds.
func (p PermissionChange) MarshalJSON() ([]byte, error) {
	return json.Marshal(permissionChangeJSON{
		UserID:    p.UserID,
		OldLevel:  p.OldLevel,
		NewLevel:  p.NewLevel,
		ChangedBy: p.ChangedBy,
		ChangedAt: p.ChangedAt.UnixMilli(),
	})
}

// UnmarshalJSON decodes the wire shape produced by MarshalJSON.
func (p *PermissionChange) UnmarshalJSON(data []byte) error {
	var w permissionChangeJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = PermissionChange{
		UserID:    w.UserID,
		OldLevel:  w.OldLevel,
		NewLevel:  w.NewLevel,
		ChangedBy: w.ChangedBy,
		ChangedAt: time.UnixMilli(w.ChangedAt).UTC(),
	}
	return nil
}

// Resource is a shareable document such as a transcription job.
type Resource struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OwnerID    string       `json:"owner_id"`
	Deleted    bool         `json:"deleted"`
	SharedWith []ShareEntry `json:"shared_with"`

	// Version is the optimistic concurrency token. Stores bump it on every
	// successful upsert; zero means the resource has never been stored.
	Version int64 `json:"version"`
}

// Clone returns a deep copy so callers can mutate shared_with safely.
func (r *Resource) Clone() *Resource {
	out := *r
	if r.SharedWith != nil {
		out.SharedWith = make([]ShareEntry, len(r.SharedWith))
		copy(out.SharedWith, r.SharedWith)
	}
	return &out
}

// FindShare returns the index of the share for userID, or -1.
func (r *Resource) FindShare(userID string) int {
	for i := range r.SharedWith {
		if r.SharedWith[i].UserID == userID {
			return i
		}
	}
	return -1
}

// ShareEntry grants one non-owner user access to a resource.
type ShareEntry struct {
	UserID    string     `json:"userId"`
	UserEmail string     `json:"userEmail"`
	Level     ShareLevel `json:"level"`
	GrantedAt time.Time  `json:"-"`
	GrantedBy string     `json:"grantedBy"`
	Message   string     `json:"message,omitempty"`
}

type shareEntryJSON struct {
	UserID    string     `json:"userId"`
	UserEmail string     `json:"userEmail"`
	Level     ShareLevel `json:"level"`
	GrantedAt int64      `json:"grantedAt"`
	GrantedBy string     `json:"grantedBy"`
	Message   string     `json:"message,omitempty"`
}

// MarshalJSON encodes GrantedAt as epoch milliseconds.
func (s ShareEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(shareEntryJSON{
		UserID:    s.UserID,
		UserEmail: s.UserEmail,
		Level:     s.Level,
		GrantedAt: s.GrantedAt.UnixMilli(),
		GrantedBy: s.GrantedBy,
		Message:   s.Message,
	})
}

// UnmarshalJSON decodes the wire shape and rejects unknown levels.
func (s *ShareEntry) UnmarshalJSON(data []byte) error {
	var w shareEntryJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = ShareEntry{
		UserID:    w.UserID,
		UserEmail: w.UserEmail,
		Level:     w.Level,
		GrantedAt: time.UnixMilli(w.GrantedAt).UTC(),
		GrantedBy: w.GrantedBy,
		Message:   w.Message,
	}
	return nil
}

// AccessLevel is what a user holds on a resource, for display.
type AccessLevel struct {
	Owner bool
	Share ShareLevel
}

func (a AccessLevel) String() string {
	if a.Owner {
		return "owner"
	}
	return a.Share.String()
}

// MarshalText implements encoding.TextMarshaler
func (a AccessLevel) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// EffectivePermissions is the resolved permission state of one user.
type EffectivePermissions struct {
	UserID       string          `json:"user_id"`
	Level        PermissionLevel `json:"level"`
	Capabilities CapabilitySet   `json:"-"`
	Overrides    Overrides       `json:"overrides,omitempty"`
	FromCache    bool            `json:"-"`
}

// MarshalJSON renders capabilities by name.
func (e EffectivePermissions) MarshalJSON() ([]byte, error) {
	type alias EffectivePermissions
	return json.Marshal(struct {
		alias
		Capabilities []string `json:"capabilities"`
	}{
		alias:        alias(e),
		Capabilities: e.Capabilities.Names(),
	})
}
