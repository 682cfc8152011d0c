package authz

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/platinummonkey/scribe/pkg/audit"
	"go.opentelemetry.io/otel/attribute"
)

// ChangeUserLevel sets a user's permission level and appends the change to
// the user's permission history. changedBy needs manage-users. Setting the
// level a user already has is a no-op and returns a nil change.
//
// Order is fixed: persist, then invalidate cached entries, then audit.
func (s *Service) ChangeUserLevel(ctx context.Context, userID string, newLevel PermissionLevel, changedBy string) (_ *PermissionChange, err error) {
	const op = "change_user_level"
	ctx, span := startSpan(ctx, "ChangeUserLevel",
		attribute.String("user.id", userID),
		attribute.String("actor.id", changedBy),
		attribute.String("level.new", newLevel.String()),
	)
	defer func() { finish(span, err) }()

	if !newLevel.Valid() {
		return nil, validationf(op, "undefined permission level %d", int(newLevel))
	}
	if userID == "" || changedBy == "" {
		return nil, validationf(op, "user id and actor id are required")
	}
	if err := s.RequireCapability(ctx, changedBy, CapManageUsers); err != nil {
		return nil, err
	}

	// The write is conditional on the level read, so concurrent changes
	// each record the level they actually replaced.
	var change *PermissionChange
	err = s.retry(ctx, op, func() error {
		user, err := s.loadUser(ctx, op, userID)
		if err != nil {
			return backoff.Permanent(err)
		}
		change = nil
		if user.Level == newLevel {
			return nil
		}
		change = &PermissionChange{
			UserID:    userID,
			OldLevel:  user.Level,
			NewLevel:  newLevel,
			ChangedBy: changedBy,
			ChangedAt: s.now().UTC(),
		}
		patch := UserPatch{Level: &newLevel, ExpectedLevel: &user.Level, AppendHistory: change}
		if err := s.users.UpdateUser(ctx, userID, patch); err != nil {
			wrapped := s.storeFailure(ctx, op, err)
			if errors.Is(wrapped, ErrConflict) {
				s.log(ctx).WithField("user_id", userID).
					WithField("expected_level", user.Level.String()).
					Debug("user level changed concurrently, retrying")
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}
		return nil
	})
	if err != nil || change == nil {
		return nil, err
	}

	s.invalidateUser(ctx, userID)

	s.emit(ctx, &audit.AuditEvent{
		Timestamp:    change.ChangedAt,
		EventType:    audit.EventTypeRoleChange,
		ActorID:      changedBy,
		ResourceType: audit.ResourceTypeUser,
		ResourceID:   userID,
		Message:      "permission level changed",
		Changes: &audit.ChangeDetails{
			Before: map[string]interface{}{"level": change.OldLevel.String()},
			After:  map[string]interface{}{"level": change.NewLevel.String()},
		},
	})

	s.log(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"changed_by": changedBy,
		"old_level":  change.OldLevel.String(),
		"new_level":  change.NewLevel.String(),
	}).Info("user permission level changed")

	return change, nil
}

// ChangeUserCapabilities replaces a user's whole override map. The last
// writer wins for the complete set; there is no per-key patching. An empty
// map clears every override.
func (s *Service) ChangeUserCapabilities(ctx context.Context, userID string, overrides Overrides, changedBy string) (err error) {
	const op = "change_user_capabilities"
	ctx, span := startSpan(ctx, "ChangeUserCapabilities",
		attribute.String("user.id", userID),
		attribute.String("actor.id", changedBy),
		attribute.Int("overrides.count", len(overrides)),
	)
	defer func() { finish(span, err) }()

	if userID == "" || changedBy == "" {
		return validationf(op, "user id and actor id are required")
	}
	for c := range overrides {
		if !c.Valid() {
			return validationf(op, "unknown capability %d", c)
		}
	}
	if err := s.RequireCapability(ctx, changedBy, CapManageUsers); err != nil {
		return err
	}

	user, err := s.loadUser(ctx, op, userID)
	if err != nil {
		return err
	}

	replacement := overrides.Clone()
	if replacement == nil {
		replacement = Overrides{}
	}
	if err := s.users.UpdateUser(ctx, userID, UserPatch{CustomPermissions: &replacement}); err != nil {
		return s.storeFailure(ctx, op, err)
	}

	s.invalidateUser(ctx, userID)

	s.emit(ctx, &audit.AuditEvent{
		EventType:    audit.EventTypeCapabilityChange,
		ActorID:      changedBy,
		ResourceType: audit.ResourceTypeUser,
		ResourceID:   userID,
		Message:      "capability overrides replaced",
		Changes: &audit.ChangeDetails{
			Before: overridesToMap(user.CustomPermissions),
			After:  overridesToMap(replacement),
		},
	})
	return nil
}

func overridesToMap(o Overrides) map[string]interface{} {
	out := make(map[string]interface{}, len(o))
	for name, v := range o.Raw() {
		out[name] = v
	}
	return out
}
