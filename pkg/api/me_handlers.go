package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/httputil"
	"github.com/platinummonkey/scribe/pkg/middleware"
)

// MeHandlers serves the caller's own permission state
type MeHandlers struct {
	svc    *authz.Service
	errors *errorWriter
}

// NewMeHandlers creates a new MeHandlers
func NewMeHandlers(svc *authz.Service, errors *errorWriter) *MeHandlers {
	return &MeHandlers{svc: svc, errors: errors}
}

// RegisterRoutes registers the caller routes
func (h *MeHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/capabilities", h.ListCapabilities).Methods(http.MethodGet)
	router.HandleFunc("/me/permissions", h.GetMyPermissions).Methods(http.MethodGet)
}

// ListCapabilities returns the capability catalog with the minimum level
// that grants each capability by default
func (h *MeHandlers) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, CapabilitiesResponse{Capabilities: authz.CapabilityCatalog()})
}

// GetMyPermissions returns the caller's level and effective capabilities
func (h *MeHandlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	ep, err := h.svc.EffectivePermissions(r.Context(), middleware.PrincipalFromRequest(r))
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ep)
}
