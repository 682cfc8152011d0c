package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/httputil"
	"github.com/platinummonkey/scribe/pkg/observability"
)

// errorWriter maps service errors onto HTTP status codes
type errorWriter struct {
	conceal    bool
	retryAfter time.Duration
}

// write renders err for a route that is not about a single resource
func (e *errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	e.render(w, r, err, false)
}

// writeResource renders err for a resource route. Denials become 404s when
// resource existence is concealed so strangers cannot probe for IDs.
func (e *errorWriter) writeResource(w http.ResponseWriter, r *http.Request, err error) {
	e.render(w, r, err, e.conceal)
}

func (e *errorWriter) render(w http.ResponseWriter, r *http.Request, err error, conceal bool) {
	logger := observability.FromContext(r.Context()).WithError(err)

	switch kind := authz.Kind(err); {
	case errors.Is(kind, authz.ErrValidation):
		httputil.WriteBadRequest(w, message(err))
	case errors.Is(kind, authz.ErrAccessDenied):
		if conceal {
			httputil.WriteNotFound(w, "resource not found")
			return
		}
		httputil.WriteForbidden(w, message(err))
	case errors.Is(kind, authz.ErrNotShared):
		httputil.WriteErrorCode(w, http.StatusNotFound, "not_shared", message(err))
	case errors.Is(kind, authz.ErrNotFound):
		if conceal {
			httputil.WriteNotFound(w, "resource not found")
			return
		}
		httputil.WriteNotFound(w, message(err))
	case errors.Is(kind, authz.ErrConflict):
		logger.Warn("request gave up after repeated version conflicts")
		httputil.WriteConflict(w, message(err))
	case errors.Is(kind, authz.ErrStoreUnavailable):
		logger.Error("backing store unavailable")
		httputil.WriteServiceUnavailable(w, "authorization backend unavailable", e.retryAfter)
	default:
		logger.Error("unclassified error")
		httputil.WriteInternalError(w)
	}
}

// message returns the client-facing text of a service error without the
// wrapped cause, which may carry driver details.
func message(err error) string {
	var ae *authz.Error
	if errors.As(err, &ae) {
		if ae.Msg != "" {
			return ae.Msg
		}
		return ae.Kind.Error()
	}
	return err.Error()
}
