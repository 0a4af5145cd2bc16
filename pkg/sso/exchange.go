package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const tracerName = "github.com/go-training/ssoflow/pkg/sso"

// Exchanger performs the token endpoint grants. Implementations never retry.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURL string) (*TokenRecord, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenRecord, error)
}

// OAuth2Exchanger is the Exchanger backed by golang.org/x/oauth2. Client
// credentials travel in a Basic authorization header and the body is form encoded.
type OAuth2Exchanger struct {
	cfg      Config
	client   *http.Client
	recorder Recorder
	tracer   trace.Tracer
}

// ExchangerOption configures an OAuth2Exchanger.
type ExchangerOption func(*OAuth2Exchanger)

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(c *http.Client) ExchangerOption {
	return func(e *OAuth2Exchanger) {
		e.client = c
	}
}

// WithRecorder sets the Recorder observing each exchange.
func WithRecorder(r Recorder) ExchangerOption {
	return func(e *OAuth2Exchanger) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewExchanger creates an OAuth2Exchanger for cfg.
func NewExchanger(cfg Config, opts ...ExchangerOption) *OAuth2Exchanger {
	e := &OAuth2Exchanger{
		cfg:      cfg,
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *OAuth2Exchanger) oauthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     e.cfg.ClientID,
		ClientSecret: e.cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			TokenURL:  e.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// context returns ctx carrying the HTTP client for one grant, together with
// the transport that shapes its token request.
func (e *OAuth2Exchanger) context(ctx context.Context) (context.Context, *tokenRequestTransport) {
	client := &http.Client{}
	if e.client != nil {
		*client = *e.client
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	t := &tokenRequestTransport{base: base, clientID: e.cfg.ClientID}
	client.Transport = t
	return context.WithValue(ctx, oauth2.HTTPClient, client), t
}

// ExchangeCode trades an authorization code for a token.
func (e *OAuth2Exchanger) ExchangeCode(ctx context.Context, code, redirectURL string) (*TokenRecord, error) {
	return e.do(ctx, GrantAuthorizationCode, func(ctx context.Context) (*oauth2.Token, error) {
		return e.oauthConfig(redirectURL).Exchange(ctx, code)
	})
}

// ExchangeRefreshToken trades a refresh token for a new token.
func (e *OAuth2Exchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenRecord, error) {
	return e.do(ctx, GrantRefreshToken, func(ctx context.Context) (*oauth2.Token, error) {
		return e.oauthConfig("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
}

func (e *OAuth2Exchanger) do(
	ctx context.Context,
	grant string,
	call func(context.Context) (*oauth2.Token, error),
) (*TokenRecord, error) {
	ctx, span := e.tracer.Start(ctx, "sso.token_exchange",
		trace.WithAttributes(attribute.String("oauth2.grant_type", grant)))
	defer span.End()

	start := time.Now()
	callCtx, transport := e.context(ctx)
	tok, err := call(callCtx)
	if err != nil {
		classified := classifyExchangeError(err, transport.responseBody())
		outcome := OutcomeFormatError
		if errors.Is(classified, ErrTokenEndpoint) {
			outcome = OutcomeEndpointError
		}
		if IsUnauthorized(classified) {
			outcome = OutcomeUnauthorized
		}
		e.recorder.ObserveExchange(grant, outcome, time.Since(start))
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Message)
		span.SetAttributes(attribute.Int("http.response.status_code", classified.StatusCode))
		return nil, classified
	}

	e.recorder.ObserveExchange(grant, OutcomeSuccess, time.Since(start))
	span.SetStatus(codes.Ok, "")
	return recordFromToken(tok), nil
}

// IsUnauthorized reports whether err is a token endpoint 401.
func IsUnauthorized(err error) bool {
	var e *Error
	return errors.As(err, &e) && errors.Is(e.Kind, ErrTokenEndpoint) && e.StatusCode == http.StatusUnauthorized
}

// classifyExchangeError maps a grant failure to an Error. body is the raw
// token endpoint payload, if one was received.
func classifyExchangeError(err error, body []byte) *Error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		status := rErr.Response.StatusCode
		if status >= 200 && status <= 299 {
			// the provider answered success with an error payload
			return &Error{
				Kind:       ErrTokenFormat,
				Level:      LevelError,
				Message:    formatMessage(rErr),
				StatusCode: status,
				Err:        err,
			}
		}
		return &Error{
			Kind:       ErrTokenEndpoint,
			Level:      LevelError,
			Message:    endpointMessage(rErr),
			StatusCode: status,
			Err:        err,
		}
	}

	var uErr *url.Error
	if errors.As(err, &uErr) {
		return &Error{Kind: ErrTokenEndpoint, Level: LevelError, Message: uErr.Error(), Err: err}
	}
	// a 2xx reply x/oauth2 could not turn into a token
	msg := err.Error()
	if len(body) > 0 {
		msg = string(body)
	}
	return &Error{Kind: ErrTokenFormat, Level: LevelError, Message: msg, StatusCode: http.StatusOK, Err: err}
}

// maxTokenResponse matches the limit x/oauth2 applies when reading a token response.
const maxTokenResponse = 1 << 20

// tokenRequestTransport sends client_id in the form of every grant, next to
// the Basic credentials, and keeps the raw response body for error reports.
type tokenRequestTransport struct {
	base     http.RoundTripper
	clientID string

	mu   sync.Mutex
	body []byte
}

func (t *tokenRequestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out, err := t.withClientID(req)
	if err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.body = data
	t.mu.Unlock()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

func (t *tokenRequestTransport) withClientID(req *http.Request) (*http.Request, error) {
	if t.clientID == "" || req.Body == nil || req.Method != http.MethodPost {
		return req, nil
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	if form.Get("client_id") == "" {
		form.Set("client_id", t.clientID)
	}
	encoded := []byte(form.Encode())

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(encoded))
	out.ContentLength = int64(len(encoded))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(encoded)), nil
	}
	return out, nil
}

func (t *tokenRequestTransport) responseBody() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.body
}

// endpointMessage is the status text followed by [error - error_description]
// when the provider sent them.
func endpointMessage(rErr *oauth2.RetrieveError) string {
	msg := rErr.Response.Status
	if msg == "" {
		msg = strconv.Itoa(rErr.Response.StatusCode) + " " + http.StatusText(rErr.Response.StatusCode)
	}
	if rErr.ErrorCode == "" && rErr.ErrorDescription == "" {
		return msg
	}
	detail := rErr.ErrorCode
	if rErr.ErrorDescription != "" {
		detail += " - " + rErr.ErrorDescription
	}
	return msg + " [" + strings.TrimSpace(detail) + "]"
}

func formatMessage(rErr *oauth2.RetrieveError) string {
	if len(rErr.Body) > 0 {
		return string(rErr.Body)
	}
	if rErr.ErrorDescription != "" {
		return rErr.ErrorCode + " - " + rErr.ErrorDescription
	}
	return rErr.ErrorCode
}

func recordFromToken(tok *oauth2.Token) *TokenRecord {
	rec := &TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn(tok),
		Scope:        stringExtra(tok, "scope"),
		IDToken:      stringExtra(tok, "id_token"),
		Username:     stringExtra(tok, "username"),
		TenantID:     stringExtra(tok, "tenant_id", "tenantId"),
	}
	if rec.Username == "" || rec.TenantID == "" {
		fillFromClaims(rec)
	}
	return rec
}

func expiresIn(tok *oauth2.Token) int64 {
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func stringExtra(tok *oauth2.Token, keys ...string) string {
	for _, k := range keys {
		if s, ok := tok.Extra(k).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// fillFromClaims reads identity claims from a JWT access token without
// verifying it; the values are informational only.
func fillFromClaims(rec *TokenRecord) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rec.AccessToken, claims); err != nil {
		return
	}
	if rec.Username == "" {
		rec.Username = claimString(claims, "user_name", "username", "preferred_username", "sub")
	}
	if rec.TenantID == "" {
		rec.TenantID = claimString(claims, "tenant_id", "tenantId")
	}
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if s, ok := claims[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
