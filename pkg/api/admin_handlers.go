package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/scribe/pkg/audit"
	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/httputil"
	"github.com/platinummonkey/scribe/pkg/middleware"
)

const defaultRecentDays = 7

// AdminHandlers handles user administration and reporting. Every route is
// gated by a capability of the caller.
type AdminHandlers struct {
	svc    *authz.Service
	errors *errorWriter
}

// NewAdminHandlers creates a new AdminHandlers
func NewAdminHandlers(svc *authz.Service, errors *errorWriter) *AdminHandlers {
	return &AdminHandlers{svc: svc, errors: errors}
}

// RegisterRoutes registers admin routes on a router already scoped to /admin
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	// Users
	router.HandleFunc("/users/bulk-check", h.require(authz.CapManageUsers, h.BulkCheck)).Methods(http.MethodPost)
	router.HandleFunc("/users/elevated", h.require(authz.CapManageUsers, h.ElevatedUsers)).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}/permissions", h.require(authz.CapManageUsers, h.GetUserPermissions)).Methods(http.MethodGet)

	// ChangeUserLevel and ChangeUserCapabilities check manage-users themselves
	router.HandleFunc("/users/{id}/level", h.SetUserLevel).Methods(http.MethodPut)
	router.HandleFunc("/users/{id}/capabilities", h.SetUserCapabilities).Methods(http.MethodPut)

	// Reporting
	router.HandleFunc("/stats/levels", h.require(authz.CapViewAnalytics, h.LevelCounts)).Methods(http.MethodGet)
	router.HandleFunc("/permission-changes", h.require(authz.CapManageUsers, h.PermissionChanges)).Methods(http.MethodGet)
	router.HandleFunc("/cache/stats", h.require(authz.CapManageUsers, h.CacheStats)).Methods(http.MethodGet)
}

// require wraps next so it only runs for callers holding capability
func (h *AdminHandlers) require(capability authz.Capability, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.RequireCapability(r.Context(), middleware.PrincipalFromRequest(r), capability); err != nil {
			h.errors.write(w, r, err)
			return
		}
		next(w, r)
	}
}

// GetUserPermissions returns a user straight from the store with overrides,
// history and resolved capabilities
func (h *AdminHandlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return
	}

	user, ep, err := h.svc.InspectUser(r.Context(), id)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, UserPermissionsResponse{User: user, Effective: ep})
}

// SetUserLevel changes a user's permission level
func (h *AdminHandlers) SetUserLevel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body LevelBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	change, err := h.svc.ChangeUserLevel(r.Context(), id, body.Level, middleware.PrincipalFromRequest(r))
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, LevelChangeResponse{
		UserID:  id,
		Level:   body.Level,
		Changed: change != nil,
		Change:  change,
	})
}

// SetUserCapabilities replaces a user's capability overrides and returns the
// resulting effective permissions
func (h *AdminHandlers) SetUserCapabilities(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body CapabilitiesBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	overrides, err := authz.ParseOverrides(body.Overrides)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	if err := h.svc.ChangeUserCapabilities(r.Context(), id, overrides, middleware.PrincipalFromRequest(r)); err != nil {
		h.errors.write(w, r, err)
		return
	}
	ep, err := h.svc.EffectivePermissions(r.Context(), id)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ep)
}

// BulkCheck resolves the level of many users at once
func (h *AdminHandlers) BulkCheck(w http.ResponseWriter, r *http.Request) {
	var body BulkCheckBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	levels, err := h.svc.BulkCheck(r.Context(), body.UserIDs)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	resp := BulkCheckResponse{Levels: levels}
	seen := make(map[string]struct{}, len(body.UserIDs))
	for _, id := range body.UserIDs {
		if _, ok := levels[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		resp.Unknown = append(resp.Unknown, id)
	}
	httputil.WriteSuccess(w, resp)
}

// ElevatedUsers lists users strictly above ?above= (default user). With
// ?cursor= or ?limit= it returns a single page instead of the bounded scan.
func (h *AdminHandlers) ElevatedUsers(w http.ResponseWriter, r *http.Request) {
	base, err := authz.ParsePermissionLevel(httputil.QueryString(r, "above", authz.LevelUser.String()))
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	q := r.URL.Query()

	if q.Has("cursor") || q.Has("limit") {
		limit, ok := httputil.QueryIntOrError(w, r, "limit", 0)
		if !ok {
			return
		}
		page, err := h.svc.UsersAboveLevelPage(r.Context(), base, q.Get("cursor"), limit)
		if err != nil {
			h.errors.write(w, r, err)
			return
		}
		httputil.WriteSuccess(w, ElevatedUsersResponse{
			Above:      base,
			Users:      summarizeUsers(page.Users),
			NextCursor: page.NextCursor,
		})
		return
	}

	users, truncated, err := h.svc.UsersAboveLevel(r.Context(), base)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ElevatedUsersResponse{
		Above:     base,
		Users:     summarizeUsers(users),
		Truncated: truncated,
	})
}

// LevelCounts counts users per permission level
func (h *AdminHandlers) LevelCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.CountsByLevel(r.Context())
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	httputil.WriteSuccess(w, LevelCountsResponse{Counts: counts, Total: total})
}

// PermissionChanges lists level changes from the last ?days= days (default 7)
func (h *AdminHandlers) PermissionChanges(w http.ResponseWriter, r *http.Request) {
	days, ok := httputil.QueryIntOrError(w, r, "days", defaultRecentDays)
	if !ok {
		return
	}

	events, err := h.svc.RecentPermissionChanges(r.Context(), days)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, PermissionChangesResponse{
		DaysBack: days,
		Changes:  levelChanges(events),
	})
}

// CacheStats reports permission cache contents
func (h *AdminHandlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CacheStats(r.Context())
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// levelChanges converts role-change audit events to permission change
// records, newest first. Capability-only changes carry no level and are
// skipped, as are events whose recorded levels no longer parse.
func levelChanges(events []*audit.AuditEvent) []authz.PermissionChange {
	out := make([]authz.PermissionChange, 0, len(events))
	for _, e := range events {
		if e.EventType != audit.EventTypeRoleChange || e.Changes == nil {
			continue
		}
		oldLevel, err1 := levelField(e.Changes.Before)
		newLevel, err2 := levelField(e.Changes.After)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, authz.PermissionChange{
			UserID:    e.ResourceID,
			OldLevel:  oldLevel,
			NewLevel:  newLevel,
			ChangedBy: e.ActorID,
			ChangedAt: e.Timestamp,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ChangedAt.After(out[j].ChangedAt)
	})
	return out
}

func levelField(fields map[string]interface{}) (authz.PermissionLevel, error) {
	name, _ := fields["level"].(string)
	return authz.ParsePermissionLevel(name)
}
