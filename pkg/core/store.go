package core

import (
	"context"
	"errors"
	"time"
)

const (
	// CurrentRedirectKey is the storage key holding the in-flight Redirect Context.
	CurrentRedirectKey = "CurrentRedirectSSO"
	// PendingResultKeyPrefix prefixes the correlation token to form the key
	// under which the redirect-landing page writes its Pending Result.
	PendingResultKeyPrefix = "sso-"
)

// ErrNotFound is returned by a CorrelationStore when the requested entry is absent.
var ErrNotFound = errors.New("correlation entry not found")

// PendingResultKey returns the storage key of the Pending Result for the given correlation token.
func PendingResultKey(correlationToken string) string {
	return PendingResultKeyPrefix + correlationToken
}

// RedirectContext describes an in-flight authorization attempt.
// It is pure data so it survives the full-page redirect to the identity provider.
type RedirectContext struct {
	CorrelationToken string    `json:"state"`
	RedirectURL      string    `json:"redirectUrl"`
	OriginalURL      string    `json:"originalUrl"`
	CreatedAt        time.Time `json:"createdAt"`
}

// PendingError is the error detail written by the redirect-landing page.
type PendingError struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// PendingResult is the outcome of the provider redirect, written by the
// redirect-landing page and consumed exactly once by the callback resolver.
type PendingResult struct {
	State       string        `json:"state,omitempty"`
	Code        string        `json:"code,omitempty"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
	IsValid     bool          `json:"isValid"`
	Error       *PendingError `json:"error,omitempty"`
}

// CorrelationStore is the session-scoped persistence used to survive the
// authorization redirect. It holds a "current redirect" pointer and one
// payload per correlation token. Absent entries yield ErrNotFound.
type CorrelationStore interface {
	SetCurrent(ctx context.Context, redirectCtx *RedirectContext) error
	GetCurrent(ctx context.Context) (*RedirectContext, error)
	// ClearCurrent removes the current context together with its payload.
	ClearCurrent(ctx context.Context) error

	SetPayload(ctx context.Context, correlationToken string, result *PendingResult) error
	GetPayload(ctx context.Context, correlationToken string) (*PendingResult, error)
	ClearPayload(ctx context.Context, correlationToken string) error
}

// SessionStorage hands out CorrelationStore views scoped to a single browsing session.
type SessionStorage interface {
	Session(sessionID string) CorrelationStore
}
