// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// producers and consumers agree on the key and the stored type.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithActorEmail(ctx, "alice@example.com")
//	email := contextkeys.GetActorEmail(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorEmailKey contains the authenticated caller's email
	// Set by: middleware.Identity (pkg/middleware/identity.go)
	// Required by: rbac HTTP handlers, rbac.RequireResource
	// Type: string
	ActorEmailKey Key = "actor_email"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestID
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithActorEmail adds the caller's email to the context
func WithActorEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, ActorEmailKey, email)
}

// GetActorEmail retrieves the caller's email from context
func GetActorEmail(ctx context.Context) string {
	if email, ok := ctx.Value(ActorEmailKey).(string); ok {
		return email
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}
