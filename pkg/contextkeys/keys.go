// Package contextkeys defines the request-scoped values shared by the HTTP
// middleware, the request logger and the audit trail.
//
//	ctx = contextkeys.WithUserID(ctx, principal)
//	actor := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type of every context key in this package
type Key string

const (
	// RequestIDKey holds the request ID string. Set by middleware.RequestID
	// and copied onto audit events.
	RequestIDKey Key = "request_id"

	// UserIDKey holds the principal's user ID. Set by middleware.Principal.
	UserIDKey Key = "user_id"

	// LoggerKey holds the request's *observability.Logger
	LoggerKey Key = "logger"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger stores logger under LoggerKey. It takes an interface so this
// package stays below observability in the import graph.
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request ID or ""
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetUserID returns the principal or "" outside an authenticated request
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

func stringValue(ctx context.Context, key Key) string {
	v, _ := ctx.Value(key).(string)
	return v
}
