// Package authz is the authorization core of scribe.
//
// A user holds one PermissionLevel (user, editor or admin). Each level maps
// to a fixed CapabilitySet, and per-user Overrides grant or revoke single
// capabilities on top of it. Resources such as transcription jobs have one
// owner and a list of ShareEntry grants; CheckAccess decides access to a
// resource from those alone.
//
// Service ties the pure rules to a UserStore, a ResourceStore, an optional
// PermissionCache and an audit sink:
//
//	svc, err := authz.NewService(authz.Options{
//		Users:     store,
//		Resources: store,
//		Cache:     permcache.NewMemoryCache(),
//		Audit:     auditLogger,
//	})
//	if err != nil {
//		return err
//	}
//	ok, err := svc.CanPerform(ctx, userID, authz.CapExportJobs)
//
// Every error returned by the package matches one of ErrNotFound,
// ErrAccessDenied, ErrValidation, ErrConflict, ErrStoreUnavailable or
// ErrNotShared. A store failure is never reported as a denial.
package authz
