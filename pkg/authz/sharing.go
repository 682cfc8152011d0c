package authz

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/platinummonkey/scribe/pkg/audit"
	"go.opentelemetry.io/otel/attribute"
)

// ShareRequest grants TargetUserID (or the user registered under
// TargetEmail) access to a resource.
type ShareRequest struct {
	ActorID      string
	ResourceID   string
	TargetUserID string
	TargetEmail  string
	Level        ShareLevel
	Message      string
}

func (r ShareRequest) validate(op string, maxMessage int) error {
	if r.ActorID == "" {
		return validationf(op, "actor id is required")
	}
	if r.ResourceID == "" {
		return validationf(op, "resource id is required")
	}
	if r.TargetUserID == "" && strings.TrimSpace(r.TargetEmail) == "" {
		return validationf(op, "share target requires a user id or email")
	}
	if !r.Level.Valid() {
		return validationf(op, "undefined share level %d", int(r.Level))
	}
	if n := utf8.RuneCountInString(r.Message); n > maxMessage {
		return validationf(op, "share message is %d characters, limit is %d", n, maxMessage)
	}
	if r.TargetUserID != "" && r.TargetUserID == r.ActorID {
		return validationf(op, "cannot share a resource with yourself")
	}
	return nil
}

// ShareResource grants or updates a share. A second share of the same pair
// updates the existing entry in place. Only the owner may share.
func (s *Service) ShareResource(ctx context.Context, req ShareRequest) (_ *ShareEntry, err error) {
	const op = "share_resource"
	ctx, span := startSpan(ctx, "ShareResource",
		attribute.String("resource.id", req.ResourceID),
		attribute.String("actor.id", req.ActorID),
		attribute.String("share.level", req.Level.String()),
	)
	defer func() { finish(span, err) }()

	if err := req.validate(op, s.cfg.MaxShareMessageLength); err != nil {
		return nil, err
	}

	// Ownership is settled before the target is looked up, so non-owners
	// cannot learn which emails are registered.
	resource, err := s.loadResource(ctx, op, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(op, resource, req.ActorID); err != nil {
		return nil, err
	}

	target, err := s.resolveShareTarget(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if target.ID == req.ActorID {
		return nil, validationf(op, "cannot share a resource with yourself")
	}

	var (
		granted  ShareEntry
		previous *ShareEntry
	)
	err = s.mutateResource(ctx, op, req.ResourceID, func(r *Resource) (bool, error) {
		if err := requireOwner(op, r, req.ActorID); err != nil {
			return false, err
		}
		granted = ShareEntry{
			UserID:    target.ID,
			UserEmail: target.Email,
			Level:     req.Level,
			GrantedAt: s.now().UTC(),
			GrantedBy: req.ActorID,
			Message:   req.Message,
		}
		previous = nil
		if i := r.FindShare(target.ID); i >= 0 {
			prev := r.SharedWith[i]
			previous = &prev
			r.SharedWith[i] = granted
		} else {
			r.SharedWith = append(r.SharedWith, granted)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	event := &audit.AuditEvent{
		EventType:    audit.EventTypeShareGrant,
		ActorID:      req.ActorID,
		ResourceType: audit.ResourceTypeJob,
		ResourceID:   req.ResourceID,
		Message:      "shared with " + target.ID,
		Metadata:     map[string]interface{}{"target_user_id": target.ID},
		Changes: &audit.ChangeDetails{
			After: map[string]interface{}{"user_id": target.ID, "level": granted.Level.String()},
		},
	}
	if previous != nil {
		event.EventType = audit.EventTypeShareUpdate
		event.Changes.Before = map[string]interface{}{"user_id": target.ID, "level": previous.Level.String()}
	}
	s.emit(ctx, event)

	return &granted, nil
}

// UnshareResource revokes the share held by targetUserID. Revoking a share
// that does not exist returns ErrNotShared and writes nothing.
func (s *Service) UnshareResource(ctx context.Context, actorID, resourceID, targetUserID string) (err error) {
	const op = "unshare_resource"
	ctx, span := startSpan(ctx, "UnshareResource",
		attribute.String("resource.id", resourceID),
		attribute.String("actor.id", actorID),
	)
	defer func() { finish(span, err) }()

	if actorID == "" || resourceID == "" || targetUserID == "" {
		return validationf(op, "actor, resource and target user are required")
	}

	var removed ShareEntry
	err = s.mutateResource(ctx, op, resourceID, func(r *Resource) (bool, error) {
		if err := requireOwner(op, r, actorID); err != nil {
			return false, err
		}
		i := r.FindShare(targetUserID)
		if i < 0 {
			return false, newError(op, ErrNotShared, nil, "resource %s is not shared with %s", resourceID, targetUserID)
		}
		removed = r.SharedWith[i]
		r.SharedWith = append(r.SharedWith[:i], r.SharedWith[i+1:]...)
		return true, nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, &audit.AuditEvent{
		EventType:    audit.EventTypeShareRevoke,
		ActorID:      actorID,
		ResourceType: audit.ResourceTypeJob,
		ResourceID:   resourceID,
		Message:      "unshared from " + targetUserID,
		Metadata:     map[string]interface{}{"target_user_id": targetUserID},
		Changes: &audit.ChangeDetails{
			Before: map[string]interface{}{"user_id": targetUserID, "level": removed.Level.String()},
		},
	})
	return nil
}

// ListShares returns the shares on a resource. The caller needs view access.
func (s *Service) ListShares(ctx context.Context, actorID, resourceID string) (_ []ShareEntry, err error) {
	const op = "list_shares"
	ctx, span := startSpan(ctx, "ListShares", attribute.String("resource.id", resourceID))
	defer func() { finish(span, err) }()

	resource, err := s.loadResource(ctx, op, resourceID)
	if err != nil {
		return nil, err
	}
	decision := s.decide(resource, actorID, ShareView)
	if !decision.Allowed {
		return nil, deniedf(op, "user %s cannot view resource %s: %s", actorID, resourceID, decision.Reason)
	}
	out := make([]ShareEntry, len(resource.SharedWith))
	copy(out, resource.SharedWith)
	return out, nil
}

// SharedWithUser pages through live resources shared with userID.
func (s *Service) SharedWithUser(ctx context.Context, userID, cursor string, limit int) (_ *ResourcePage, err error) {
	const op = "shared_with_user"
	ctx, span := startSpan(ctx, "SharedWithUser", attribute.String("user.id", userID))
	defer func() { finish(span, err) }()

	if userID == "" {
		return nil, validationf(op, "user id is required")
	}
	page, err := s.resources.QueryResources(ctx, ResourceQuery{
		SharedWithUser: userID,
		Cursor:         cursor,
		Limit:          s.clampLimit(limit),
	})
	if err != nil {
		return nil, s.storeFailure(ctx, op, err)
	}
	return page, nil
}

// Authorize loads a resource and decides access for userID.
func (s *Service) Authorize(ctx context.Context, userID, resourceID string, required ShareLevel) (_ Decision, err error) {
	const op = "authorize"
	ctx, span := startSpan(ctx, "Authorize",
		attribute.String("resource.id", resourceID),
		attribute.String("user.id", userID),
	)
	defer func() { finish(span, err) }()

	resource, err := s.loadResource(ctx, op, resourceID)
	if err != nil {
		return Decision{}, err
	}
	decision := s.decide(resource, userID, required)
	span.SetAttributes(
		attribute.Bool("authz.allowed", decision.Allowed),
		attribute.String("authz.reason", decision.Reason.String()),
	)
	return decision, nil
}

func (s *Service) decide(resource *Resource, userID string, required ShareLevel) Decision {
	decision := CheckAccess(userID, resource, required)
	s.metrics.RecordDecision(decision.Allowed, decision.Reason.String())
	return decision
}

func (s *Service) resolveShareTarget(ctx context.Context, op string, req ShareRequest) (*User, error) {
	var (
		user *User
		err  error
	)
	if req.TargetUserID != "" {
		user, err = s.users.GetUser(ctx, req.TargetUserID)
	} else {
		user, err = s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.TargetEmail)))
	}
	if err != nil {
		return nil, s.storeFailure(ctx, op, err)
	}
	return user, nil
}

func requireOwner(op string, r *Resource, actorID string) error {
	if r.Deleted {
		return deniedf(op, "resource %s is deleted", r.ID)
	}
	if r.OwnerID != actorID {
		return deniedf(op, "only the owner can change sharing on resource %s", r.ID)
	}
	return nil
}

func (s *Service) loadResource(ctx context.Context, op, resourceID string) (*Resource, error) {
	if resourceID == "" {
		return nil, validationf(op, "resource id is required")
	}
	resource, err := s.resources.GetResource(ctx, resourceID)
	if err != nil {
		return nil, s.storeFailure(ctx, op, err)
	}
	return resource, nil
}

// mutateResource runs a versioned read-modify-write of one resource. mutate
// works on a private copy and reports whether anything changed. Version
// conflicts are retried with exponential backoff up to ShareRetryAttempts;
// every other error ends the loop.
func (s *Service) mutateResource(ctx context.Context, op, resourceID string, mutate func(*Resource) (bool, error)) error {
	attempt := func() error {
		current, err := s.loadResource(ctx, op, resourceID)
		if err != nil {
			return backoff.Permanent(err)
		}
		updated := current.Clone()
		changed, err := mutate(updated)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !changed {
			return nil
		}
		if _, err := s.resources.UpsertResource(ctx, updated, current.Version); err != nil {
			wrapped := s.storeFailure(ctx, op, err)
			if errors.Is(wrapped, ErrConflict) {
				s.log(ctx).WithField("resource_id", resourceID).
					WithField("expected_version", current.Version).
					Debug("resource version conflict, retrying")
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}
		return nil
	}

	return s.retry(ctx, op, attempt)
}

// retry runs attempt until it succeeds, fails permanently or the policy gives
// up. A context that ends between attempts is reported as the last conflict
// seen, or as unavailability when there was none.
func (s *Service) retry(ctx context.Context, op string, attempt func() error) error {
	var lastConflict error
	err := backoff.Retry(func() error {
		err := attempt()
		if err != nil && errors.Is(err, ErrConflict) {
			lastConflict = err
		}
		return err
	}, s.retryPolicy(ctx))
	if err == nil || Kind(err) != nil {
		return err
	}
	if lastConflict != nil {
		return newError(op, ErrConflict, err, "gave up after concurrent updates")
	}
	return newError(op, ErrStoreUnavailable, err, "retry aborted")
}

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitialInterval
	b.MaxInterval = s.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.ShareRetryAttempts-1)), ctx)
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 || limit > s.cfg.PageSize {
		return s.cfg.PageSize
	}
	return limit
}
