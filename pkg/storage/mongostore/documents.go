package mongostore

import (
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
)

type historyDoc struct {
	OldLevel  int       `bson:"oldLevel"`
	NewLevel  int       `bson:"newLevel"`
	ChangedBy string    `bson:"changedBy"`
	ChangedAt time.Time `bson:"changedAt"`
}

type userDoc struct {
	ID                string          `bson:"_id"`
	Email             string          `bson:"email"`
	Level             int             `bson:"level"`
	CustomPermissions map[string]bool `bson:"customPermissions,omitempty"`
	PermissionHistory []historyDoc    `bson:"permissionHistory,omitempty"`
}

type shareDoc struct {
	UserID    string    `bson:"userId"`
	UserEmail string    `bson:"userEmail"`
	Level     int       `bson:"level"`
	GrantedAt time.Time `bson:"grantedAt"`
	GrantedBy string    `bson:"grantedBy"`
	Message   string    `bson:"message,omitempty"`
}

type resourceDoc struct {
	ID         string     `bson:"_id"`
	Type       string     `bson:"type"`
	OwnerID    string     `bson:"ownerId"`
	Deleted    bool       `bson:"deleted"`
	SharedWith []shareDoc `bson:"sharedWith"`
	Version    int64      `bson:"version"`
}

func historyToDoc(c authz.PermissionChange) historyDoc {
	return historyDoc{
		OldLevel:  int(c.OldLevel),
		NewLevel:  int(c.NewLevel),
		ChangedBy: c.ChangedBy,
		ChangedAt: c.ChangedAt.UTC(),
	}
}

func overridesToDoc(o authz.Overrides) map[string]bool {
	if len(o) == 0 {
		return map[string]bool{}
	}
	return o.Raw()
}

func (d *userDoc) toUser() (*authz.User, error) {
	u := &authz.User{
		ID:    d.ID,
		Email: d.Email,
		Level: authz.PermissionLevel(d.Level),
	}
	if len(d.CustomPermissions) > 0 {
		overrides, err := authz.ParseOverrides(d.CustomPermissions)
		if err != nil {
			return nil, err
		}
		u.CustomPermissions = overrides
	}
	for _, h := range d.PermissionHistory {
		u.PermissionHistory = append(u.PermissionHistory, authz.PermissionChange{
			UserID:    d.ID,
			OldLevel:  authz.PermissionLevel(h.OldLevel),
			NewLevel:  authz.PermissionLevel(h.NewLevel),
			ChangedBy: h.ChangedBy,
			ChangedAt: h.ChangedAt.UTC(),
		})
	}
	return u, nil
}

func resourceToDoc(r *authz.Resource, version int64) resourceDoc {
	d := resourceDoc{
		ID:         r.ID,
		Type:       r.Type,
		OwnerID:    r.OwnerID,
		Deleted:    r.Deleted,
		SharedWith: make([]shareDoc, 0, len(r.SharedWith)),
		Version:    version,
	}
	for _, s := range r.SharedWith {
		d.SharedWith = append(d.SharedWith, shareDoc{
			UserID:    s.UserID,
			UserEmail: s.UserEmail,
			Level:     int(s.Level),
			GrantedAt: s.GrantedAt.UTC(),
			GrantedBy: s.GrantedBy,
			Message:   s.Message,
		})
	}
	return d
}

func (d *resourceDoc) toResource() *authz.Resource {
	r := &authz.Resource{
		ID:      d.ID,
		Type:    d.Type,
		OwnerID: d.OwnerID,
		Deleted: d.Deleted,
		Version: d.Version,
	}
	for _, s := range d.SharedWith {
		r.SharedWith = append(r.SharedWith, authz.ShareEntry{
			UserID:    s.UserID,
			UserEmail: s.UserEmail,
			Level:     authz.ShareLevel(s.Level),
			GrantedAt: s.GrantedAt.UTC(),
			GrantedBy: s.GrantedBy,
			Message:   s.Message,
		})
	}
	return r
}
