// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"log/slog"
	"os"
)

// invocationIDKey is the context key for the per-invocation correlation ID.
type invocationIDKey struct{}

// New creates a new structured JSON logger.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// WithInvocationID returns a new context carrying the invocation ID.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, id)
}

// InvocationIDFromContext extracts the invocation ID from the context.
func InvocationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(invocationIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// FromContext returns a logger with context fields (invocation ID, etc.) attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := InvocationIDFromContext(ctx); id != "" {
		return base.With("invocation_id", id)
	}
	return base
}
