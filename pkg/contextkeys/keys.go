// Package contextkeys defines every request context key used by trellis.
//
// Keys live here so middleware and handlers agree on names and value types:
//
//	ctx = contextkeys.WithIdentity(ctx, id)
//	id, _ := ctx.Value(contextkeys.IdentityKey).(*identity.Identity)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *identity.Identity
	// Set by: middleware.IdentityMiddleware
	// Required by: every api route except /healthz, /readyz and /metrics
	IdentityKey Key = "identity"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: observability.FromContext
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger scoped to the request
	// Set by: httputil.RequestIDMiddleware
	LoggerKey Key = "logger"
)

// WithIdentity adds the caller identity to the context
func WithIdentity(ctx context.Context, id any) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger any) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
