package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/scribe/pkg/contextkeys"
	"github.com/platinummonkey/scribe/pkg/observability"
)

// PrincipalHeader carries the authenticated user ID. The gateway in front of
// scribe-authz sets it after authenticating the caller and strips any value
// the client sent.
const PrincipalHeader = "X-Scribe-User"

// Principal rejects requests without a principal and stores the user ID in
// the request context.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(PrincipalHeader))
		if userID == "" {
			unauthorizedResponse(w, "missing principal")
			return
		}

		ctx := contextkeys.WithUserID(r.Context(), userID)
		if logger, ok := ctx.Value(contextkeys.LoggerKey).(*observability.Logger); ok {
			ctx = observability.WithLogger(ctx, logger.WithField("user_id", userID))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromRequest returns the user ID set by Principal
func PrincipalFromRequest(r *http.Request) string {
	return contextkeys.GetUserID(r.Context())
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
