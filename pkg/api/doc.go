// Package api exposes the authorization service over HTTP.
//
// Every route lives under /v1 and needs the X-Scribe-User header, which the
// gateway sets after authenticating the caller.
//
// # Caller routes
//
//	GET    /v1/capabilities
//	GET    /v1/me/permissions
//	GET    /v1/resources/shared-with-me?cursor=&limit=
//	GET    /v1/resources/{id}/access?level=view|edit|admin
//	GET    /v1/resources/{id}/shares
//	PUT    /v1/resources/{id}/shares           {"user_id"|"email", "level", "message"}
//	DELETE /v1/resources/{id}/shares/{userID}
//	DELETE /v1/resources/{id}
//	POST   /v1/resources/{id}/restore          (restore-jobs)
//
// # Admin routes
//
// Admin routes are rate limited per principal when a limiter is configured.
//
//	GET  /v1/admin/users/{id}/permissions      (manage-users)
//	PUT  /v1/admin/users/{id}/level            (manage-users) {"level": "editor"}
//	PUT  /v1/admin/users/{id}/capabilities     (manage-users) {"overrides": {"view-analytics": true}}
//	POST /v1/admin/users/bulk-check            (manage-users) {"user_ids": [...]}
//	GET  /v1/admin/users/elevated?above=user   (manage-users)
//	GET  /v1/admin/stats/levels                (view-analytics)
//	GET  /v1/admin/permission-changes?days=7   (manage-users)
//	GET  /v1/admin/cache/stats                 (manage-users)
//
// # Errors
//
//	validation        400
//	access denied     403, or 404 on resource routes when existence is concealed
//	not found         404
//	not shared        404 with code "not_shared"
//	version conflict  409
//	store unavailable 503 with Retry-After
//
// With concealment on, a caller with no relationship to a resource gets the
// same 404 body whether the resource exists or not.
package api
