package sso

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-training/ssoflow/pkg/core"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// AuthorizationRequest is a built provider URL and the context persisted for it.
type AuthorizationRequest struct {
	URL             string
	Popup           bool
	RedirectContext *core.RedirectContext
}

// Builder builds authorization requests and persists their redirect context.
type Builder struct {
	cfg   Config
	store core.CorrelationStore
	clock clockwork.Clock
}

// NewBuilder creates a Builder for cfg writing to store.
func NewBuilder(cfg Config, store core.CorrelationStore, clock clockwork.Clock) *Builder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Builder{cfg: cfg, store: store, clock: clock}
}

// NewCorrelationToken mints an opaque state value. UUIDv7 carries a
// millisecond timestamp followed by random bits.
func NewCorrelationToken() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to mint correlation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(id[:]), nil
}

// Build validates the configuration, mints a correlation token and stores the
// redirect context, superseding any attempt still pending. The extra
// parameter pair is appended only when both name and value are set.
func (b *Builder) Build(ctx context.Context, parameterName, parameterValue string) (*AuthorizationRequest, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := sanitizeAuthorizeURL(b.cfg.AuthorizeURL)
	if err != nil {
		return nil, err
	}

	state, err := NewCorrelationToken()
	if err != nil {
		return nil, err
	}

	query := []string{"response_type=code"}
	query = append(query, "client_id="+encodeComponent(b.cfg.ClientID))
	query = append(query, "redirect_uri="+encodeComponent(b.cfg.RedirectURL))
	if len(b.cfg.Scopes) > 0 {
		query = append(query, "scope="+encodeComponent(strings.Join(b.cfg.Scopes, b.cfg.scopeSeparator())))
	}
	query = append(query, "state="+encodeComponent(state))
	if b.cfg.Realm != "" {
		query = append(query, "realm="+encodeComponent(b.cfg.Realm))
	}
	keys := make([]string, 0, len(b.cfg.AdditionalQueryParams))
	for k := range b.cfg.AdditionalQueryParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query = append(query, encodeComponent(k)+"="+encodeComponent(b.cfg.AdditionalQueryParams[k]))
	}
	if parameterName != "" && parameterValue != "" {
		query = append(query, encodeComponent(parameterName)+"="+encodeComponent(parameterValue))
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}

	redirectCtx := &core.RedirectContext{
		CorrelationToken: state,
		RedirectURL:      b.cfg.RedirectURL,
		OriginalURL:      core.PageURLFromContext(ctx),
		CreatedAt:        b.clock.Now(),
	}
	// one attempt in flight: drop the previous context and its payload first
	if err := b.store.ClearCurrent(ctx); err != nil {
		return nil, fmt.Errorf("failed to supersede pending redirect: %w", err)
	}
	if err := b.store.SetCurrent(ctx, redirectCtx); err != nil {
		return nil, fmt.Errorf("failed to save redirect context: %w", err)
	}

	return &AuthorizationRequest{
		URL:             base + sep + strings.Join(query, "&"),
		Popup:           b.cfg.UsePopup,
		RedirectContext: redirectCtx,
	}, nil
}

// Rollback discards the pending redirect context after a failed navigation.
func (b *Builder) Rollback(ctx context.Context) error {
	return b.store.ClearCurrent(ctx)
}

// encodeComponent escapes like encodeURIComponent, so spaces become %20.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// sanitizeAuthorizeURL accepts absolute http(s) URLs and relative references.
func sanitizeAuthorizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", &Error{
			Kind:    ErrConfiguration,
			Level:   LevelError,
			Message: "SSO plugin is not configured properly. Invalid authorizeUrl",
			Err:     err,
		}
	}
	switch u.Scheme {
	case "", "http", "https":
		return trimmed, nil
	default:
		return "", &Error{
			Kind:    ErrConfiguration,
			Level:   LevelError,
			Message: fmt.Sprintf("SSO plugin is not configured properly. Unsupported authorizeUrl scheme %q", u.Scheme),
		}
	}
}
