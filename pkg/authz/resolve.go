package authz

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// EffectivePermissions resolves a user's level and merged capability set.
// The cache is consulted first; any cache failure falls back to the store
// and is never read as "no access".
func (s *Service) EffectivePermissions(ctx context.Context, userID string) (_ *EffectivePermissions, err error) {
	const op = "effective_permissions"
	ctx, span := startSpan(ctx, "EffectivePermissions", attribute.String("user.id", userID))
	defer func() { finish(span, err) }()

	if userID == "" {
		return nil, validationf(op, "user id is required")
	}

	if level, caps, ok := s.cachedPermissions(ctx, userID); ok {
		return &EffectivePermissions{
			UserID:       userID,
			Level:        level,
			Capabilities: caps,
			FromCache:    true,
		}, nil
	}

	user, err := s.loadUser(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	return s.resolveAndCache(ctx, op, user)
}

// InspectUser reads a user straight from the store, bypassing the cache,
// and returns it with its resolved permissions. Admin tooling uses it to
// show overrides and history.
func (s *Service) InspectUser(ctx context.Context, userID string) (_ *User, _ *EffectivePermissions, err error) {
	const op = "inspect_user"
	ctx, span := startSpan(ctx, "InspectUser", attribute.String("user.id", userID))
	defer func() { finish(span, err) }()

	if userID == "" {
		return nil, nil, validationf(op, "user id is required")
	}
	user, err := s.loadUser(ctx, op, userID)
	if err != nil {
		return nil, nil, err
	}
	ep, err := s.resolveAndCache(ctx, op, user)
	if err != nil {
		return nil, nil, err
	}
	return user, ep, nil
}

// CanPerform reports whether userID holds capability.
func (s *Service) CanPerform(ctx context.Context, userID string, capability Capability) (bool, error) {
	if !capability.Valid() {
		return false, validationf("can_perform", "unknown capability %d", capability)
	}
	ep, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := ep.Capabilities.Has(capability)
	s.metrics.RecordCapabilityCheck(capability.String(), allowed)
	return allowed, nil
}

// RequireCapability returns an ErrAccessDenied error unless userID holds
// capability. Store failures surface as ErrStoreUnavailable, never as a
// denial.
func (s *Service) RequireCapability(ctx context.Context, userID string, capability Capability) error {
	ok, err := s.CanPerform(ctx, userID, capability)
	if err != nil {
		return err
	}
	if !ok {
		return deniedf("require_capability", "user %s lacks capability %s", userID, capability)
	}
	return nil
}

// UserLevel returns the permission level of userID, cache first.
func (s *Service) UserLevel(ctx context.Context, userID string) (PermissionLevel, error) {
	const op = "user_level"
	if userID == "" {
		return 0, validationf(op, "user id is required")
	}
	if s.cache != nil {
		level, ok, err := s.cache.GetRole(ctx, userID)
		switch {
		case err != nil:
			s.cacheFailure(ctx, "get_role", err)
		case ok && level.Valid():
			s.metrics.RecordCacheLookup(s.cacheName, true)
			return level, nil
		default:
			s.metrics.RecordCacheLookup(s.cacheName, false)
		}
	}
	user, err := s.loadUser(ctx, op, userID)
	if err != nil {
		return 0, err
	}
	if !user.Level.Valid() {
		return 0, validationf(op, "user %s has undefined level %d", userID, user.Level)
	}
	s.cacheRole(ctx, userID, user.Level)
	return user.Level, nil
}

// cachedPermissions returns a hit only when both the role and the capability
// set are cached.
func (s *Service) cachedPermissions(ctx context.Context, userID string) (PermissionLevel, CapabilitySet, bool) {
	if s.cache == nil {
		return 0, 0, false
	}
	level, ok, err := s.cache.GetRole(ctx, userID)
	if err != nil {
		s.cacheFailure(ctx, "get_role", err)
		return 0, 0, false
	}
	if !ok || !level.Valid() {
		s.metrics.RecordCacheLookup(s.cacheName, false)
		return 0, 0, false
	}
	caps, ok, err := s.cache.GetCapabilities(ctx, userID)
	if err != nil {
		s.cacheFailure(ctx, "get_capabilities", err)
		return 0, 0, false
	}
	s.metrics.RecordCacheLookup(s.cacheName, ok)
	return level, caps, ok
}

func (s *Service) resolveAndCache(ctx context.Context, op string, user *User) (*EffectivePermissions, error) {
	caps, err := EffectiveCapabilities(user.Level, user.CustomPermissions)
	if err != nil {
		return nil, newError(op, ErrValidation, err, "user %s has undefined level %d", user.ID, user.Level)
	}
	s.cacheRole(ctx, user.ID, user.Level)
	if s.cache != nil {
		if err := s.cache.SetCapabilities(ctx, user.ID, caps, s.cfg.DefaultTTL); err != nil {
			s.cacheFailure(ctx, "set_capabilities", err)
		}
	}
	return &EffectivePermissions{
		UserID:       user.ID,
		Level:        user.Level,
		Capabilities: caps,
		Overrides:    user.CustomPermissions.Clone(),
	}, nil
}

func (s *Service) cacheRole(ctx context.Context, userID string, level PermissionLevel) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetRole(ctx, userID, level, s.cfg.DefaultTTL); err != nil {
		s.cacheFailure(ctx, "set_role", err)
	}
}

func (s *Service) loadUser(ctx context.Context, op, userID string) (*User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, s.storeFailure(ctx, op, err)
	}
	return user, nil
}
