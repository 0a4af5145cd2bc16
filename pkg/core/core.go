package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// SessionIDKey is a custom context key type for storing the host session ID in context.
type SessionIDKey struct{}

// PageURLKey is a custom context key type for storing the URL of the page
// that triggered an authorization attempt.
type PageURLKey struct{}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	reqID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// WithSessionID returns a new context carrying the given session ID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey{}, sessionID)
}

// SessionIDFromContext retrieves the session ID from the context.
// Returns an error if missing.
func SessionIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(SessionIDKey{}).(string)
	if !ok || id == "" {
		return "", fmt.Errorf("missing session id")
	}
	return id, nil
}

// WithPageURL returns a new context carrying the URL of the current page.
// The authorization request builder records it as the original URL so the
// redirect-landing page can return the user there.
func WithPageURL(ctx context.Context, pageURL string) context.Context {
	return context.WithValue(ctx, PageURLKey{}, pageURL)
}

// PageURLFromContext returns the page URL stored in ctx, or an empty string.
func PageURLFromContext(ctx context.Context) string {
	u, _ := ctx.Value(PageURLKey{}).(string)
	return u
}

// LoggerFromCtx returns a slog.Logger with request_id and session_id fields if present in context.
// If neither is found, it returns the default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if reqID, _ := ctx.Value(RequestIDKey{}).(string); reqID != "" {
		l = l.With("request_id", reqID)
	}
	if sessionID, _ := ctx.Value(SessionIDKey{}).(string); sessionID != "" {
		l = l.With("session_id", sessionID)
	}
	return l
}
