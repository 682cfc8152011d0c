package authz

import (
	"context"

	"github.com/platinummonkey/scribe/pkg/audit"
	"go.opentelemetry.io/otel/attribute"
)

// DeleteResource soft-deletes a resource. Only the owner may delete it.
// Shares are kept so a restore brings them back unchanged. Deleting an
// already deleted resource is a no-op.
func (s *Service) DeleteResource(ctx context.Context, actorID, resourceID string) (err error) {
	const op = "delete_resource"
	ctx, span := startSpan(ctx, "DeleteResource",
		attribute.String("resource.id", resourceID),
		attribute.String("actor.id", actorID),
	)
	defer func() { finish(span, err) }()

	if actorID == "" {
		return validationf(op, "actor id is required")
	}

	changed := false
	err = s.mutateResource(ctx, op, resourceID, func(r *Resource) (bool, error) {
		if r.OwnerID != actorID {
			return false, deniedf(op, "only the owner can delete resource %s", r.ID)
		}
		changed = !r.Deleted
		r.Deleted = true
		return changed, nil
	})
	if err != nil || !changed {
		return err
	}

	s.emit(ctx, &audit.AuditEvent{
		EventType:    audit.EventTypeResourceDelete,
		ActorID:      actorID,
		ResourceType: audit.ResourceTypeJob,
		ResourceID:   resourceID,
		Changes: &audit.ChangeDetails{
			Before: map[string]interface{}{"deleted": false},
			After:  map[string]interface{}{"deleted": true},
		},
	})
	return nil
}

// RestoreResource undeletes a resource. It is the one path that bypasses
// CheckAccess and is gated by the restore-jobs capability instead. Existing
// shares come back exactly as they were.
func (s *Service) RestoreResource(ctx context.Context, actorID, resourceID string) (err error) {
	const op = "restore_resource"
	ctx, span := startSpan(ctx, "RestoreResource",
		attribute.String("resource.id", resourceID),
		attribute.String("actor.id", actorID),
	)
	defer func() { finish(span, err) }()

	if actorID == "" {
		return validationf(op, "actor id is required")
	}
	if err := s.RequireCapability(ctx, actorID, CapRestoreJobs); err != nil {
		return err
	}

	changed := false
	err = s.mutateResource(ctx, op, resourceID, func(r *Resource) (bool, error) {
		changed = r.Deleted
		r.Deleted = false
		return changed, nil
	})
	if err != nil || !changed {
		return err
	}

	s.emit(ctx, &audit.AuditEvent{
		EventType:    audit.EventTypeResourceRestore,
		ActorID:      actorID,
		ResourceType: audit.ResourceTypeJob,
		ResourceID:   resourceID,
		Changes: &audit.ChangeDetails{
			Before: map[string]interface{}{"deleted": true},
			After:  map[string]interface{}{"deleted": false},
		},
	})
	return nil
}
