package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/httputil"
	"github.com/platinummonkey/scribe/pkg/middleware"
)

// ResourceHandlers handles sharing, access checks and resource lifecycle
type ResourceHandlers struct {
	svc    *authz.Service
	errors *errorWriter
}

// NewResourceHandlers creates a new ResourceHandlers
func NewResourceHandlers(svc *authz.Service, errors *errorWriter) *ResourceHandlers {
	return &ResourceHandlers{svc: svc, errors: errors}
}

// RegisterRoutes registers resource routes
func (h *ResourceHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/resources/shared-with-me", h.SharedWithMe).Methods(http.MethodGet)
	router.HandleFunc("/resources/{id}/access", h.CheckAccess).Methods(http.MethodGet)

	// Shares
	router.HandleFunc("/resources/{id}/shares", h.ListShares).Methods(http.MethodGet)
	router.HandleFunc("/resources/{id}/shares", h.Share).Methods(http.MethodPut)
	router.HandleFunc("/resources/{id}/shares/{userID}", h.Unshare).Methods(http.MethodDelete)

	// Lifecycle
	router.HandleFunc("/resources/{id}", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/resources/{id}/restore", h.Restore).Methods(http.MethodPost)
}

// SharedWithMe pages through live resources shared with the caller
func (h *ResourceHandlers) SharedWithMe(w http.ResponseWriter, r *http.Request) {
	limit, ok := httputil.QueryIntOrError(w, r, "limit", 0)
	if !ok {
		return
	}
	userID := middleware.PrincipalFromRequest(r)

	page, err := h.svc.SharedWithUser(r.Context(), userID, httputil.QueryString(r, "cursor", ""), limit)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	resp := ResourceListResponse{
		Resources:  make([]ResourceSummary, 0, len(page.Resources)),
		NextCursor: page.NextCursor,
	}
	for _, res := range page.Resources {
		held, ok := authz.ResolveUserLevel(res, userID)
		if !ok {
			continue
		}
		resp.Resources = append(resp.Resources, ResourceSummary{
			ID:      res.ID,
			Type:    res.Type,
			OwnerID: res.OwnerID,
			Access:  held.String(),
		})
	}
	httputil.WriteSuccess(w, resp)
}

// CheckAccess decides whether the caller may act on a resource at ?level=
// (default view). A denial is a normal 200 answer unless the caller has no
// relationship to the resource and existence is concealed.
func (h *ResourceHandlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return
	}
	required, err := authz.ParseShareLevel(httputil.QueryString(r, "level", "view"))
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	decision, err := h.svc.Authorize(r.Context(), middleware.PrincipalFromRequest(r), id, required)
	if err != nil {
		h.errors.writeResource(w, r, err)
		return
	}
	if !decision.Allowed && decision.Granted == nil && h.errors.conceal {
		httputil.WriteNotFound(w, "resource not found")
		return
	}

	resp := AccessResponse{
		ResourceID: id,
		Required:   required.String(),
		Allowed:    decision.Allowed,
		Reason:     decision.Reason.String(),
	}
	if decision.Granted != nil {
		resp.Granted = decision.Granted.String()
	}
	httputil.WriteSuccess(w, resp)
}

// ListShares returns the shares on a resource the caller can view
func (h *ResourceHandlers) ListShares(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return
	}

	shares, err := h.svc.ListShares(r.Context(), middleware.PrincipalFromRequest(r), id)
	if err != nil {
		h.errors.writeResource(w, r, err)
		return
	}
	httputil.WriteSuccess(w, SharesResponse{ResourceID: id, Shares: shares})
}

// Share grants or updates a share. Only the owner may share.
func (h *ResourceHandlers) Share(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body ShareBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.UserID != "" && body.Email != "" {
		httputil.WriteBadRequest(w, "set either user_id or email, not both")
		return
	}

	entry, err := h.svc.ShareResource(r.Context(), authz.ShareRequest{
		ActorID:      middleware.PrincipalFromRequest(r),
		ResourceID:   id,
		TargetUserID: body.UserID,
		TargetEmail:  body.Email,
		Level:        body.Level,
		Message:      body.Message,
	})
	if err != nil {
		h.errors.writeResource(w, r, err)
		return
	}
	httputil.WriteSuccess(w, entry)
}

// Unshare revokes a share. Revoking a share that does not exist is a 404.
func (h *ResourceHandlers) Unshare(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return
	}
	target, ok := httputil.PathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	if err := h.svc.UnshareResource(r.Context(), middleware.PrincipalFromRequest(r), id, target); err != nil {
		h.errors.writeResource(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Delete soft-deletes a resource owned by the caller
func (h *ResourceHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteResource(r.Context(), middleware.PrincipalFromRequest(r), id); err != nil {
		h.errors.writeResource(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Restore undeletes a resource. It is gated by restore-jobs rather than by
// the caller's relationship to the resource, so denials are never concealed.
func (h *ResourceHandlers) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.RestoreResource(r.Context(), middleware.PrincipalFromRequest(r), id); err != nil {
		h.errors.write(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
