// Package httputil holds the JSON response, request parsing and generic
// middleware helpers used by pkg/api.
//
// Errors always render as
//
//	{"error": "resource r1 not found", "code": "not_found"}
//
// Handlers parse input with the *OrError variants, which write a 400 and
// report false so the handler can return:
//
//	var req shareRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	days, ok := httputil.QueryIntOrError(w, r, "days", 7)
//
// Middleware composes with Chain, outermost first:
//
//	handler := httputil.Chain(
//		httputil.Recovery(logger),
//		httputil.MaxBytes(64<<10),
//		httputil.RequireJSON,
//	)(router)
package httputil
