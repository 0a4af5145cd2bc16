package sso

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-training/ssoflow/pkg/core"

	"github.com/jonboulle/clockwork"
)

// Navigator sends the user agent to the identity provider. A returned error
// means navigation could not start, such as a blocked popup.
type Navigator interface {
	Navigate(ctx context.Context, url string, popup bool) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, url string, popup bool) error

func (f NavigatorFunc) Navigate(ctx context.Context, url string, popup bool) error {
	return f(ctx, url, popup)
}

// Deps lists the capabilities a Machine needs. Store and Navigator are
// required; the rest have defaults.
type Deps struct {
	Store     core.CorrelationStore
	Errors    ErrorChannel
	Exchanger Exchanger
	Navigator Navigator
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Recorder  Recorder
}

// Machine owns the authorization status, the token record and the
// configuration of one page load. Its methods are the only way to mutate them.
//
// Network calls run without holding the lock. Every transition that
// invalidates an in-flight exchange bumps generation, and an exchange
// completing under an older generation is dropped.
type Machine struct {
	deps Deps

	mu         sync.Mutex
	cfg        *Config
	builder    *Builder
	resolver   *Resolver
	exchanger  Exchanger
	status     Status
	token      *TokenRecord
	generation uint64
	started    bool
}

// NewMachine creates an unconfigured Machine.
func NewMachine(deps Deps) *Machine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Errors == nil {
		deps.Errors = NewErrorBoard()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Navigator == nil {
		deps.Navigator = NavigatorFunc(func(context.Context, string, bool) error {
			return errors.New("no navigator available")
		})
	}
	return &Machine{deps: deps}
}

// Init creates a Machine for cfg and, when hooks is not nil, installs the
// bearer interceptors on it.
func Init(cfg Config, deps Deps, hooks *Hooks) *Machine {
	m := NewMachine(deps)
	m.Configure(cfg)
	if hooks != nil {
		InstallInterceptors(hooks, m)
	}
	return m
}

func (m *Machine) log(ctx context.Context) *slog.Logger {
	if m.deps.Logger != nil {
		return m.deps.Logger
	}
	return core.LoggerFromCtx(ctx)
}

// Configure stores cfg. It does not change the status; an incomplete
// configuration is reported when authorization is attempted.
func (m *Machine) Configure(cfg Config) {
	cfg = cfg.clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = &cfg
	m.builder = NewBuilder(cfg, m.deps.Store, m.deps.Clock)
	m.resolver = NewResolver(m.deps.Store, m.deps.Errors)
	m.exchanger = m.deps.Exchanger
	if m.exchanger == nil {
		m.exchanger = NewExchanger(cfg, WithRecorder(m.deps.Recorder))
	}
	m.log(context.Background()).Info("Configuring SSO", "authorize_url", cfg.AuthorizeURL, "client_id", cfg.ClientID)
}

// StartOrResume runs once per Machine. It consumes a pending redirect if one
// exists, and otherwise starts a new authorization unless one is outstanding.
func (m *Machine) StartOrResume(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	if m.cfg == nil {
		m.mu.Unlock()
		return ErrNotConfigured
	}
	authorized := m.isAuthorizedLocked()
	resolver := m.resolver
	m.mu.Unlock()

	if authorized {
		return nil
	}

	outcome, err := resolver.Resolve(ctx)
	if err != nil {
		return err
	}

	switch outcome.State {
	case PendingNone:
		return m.Authorize(ctx, "", "")
	case PendingWaiting:
		m.log(ctx).Info("SSO authorization still in progress", "state", outcome.CorrelationToken)
		m.mu.Lock()
		m.setStatusLocked(StatusAuthorizing)
		m.mu.Unlock()
		return nil
	default:
		m.log(ctx).Info("SSO authorization resuming")
		return m.consume(ctx, outcome)
	}
}

// Resume consumes a pending redirect without starting a new authorization.
// The redirect-landing page calls it on the live Machine of a popup flow.
func (m *Machine) Resume(ctx context.Context) error {
	m.mu.Lock()
	if m.cfg == nil {
		m.mu.Unlock()
		return ErrNotConfigured
	}
	resolver := m.resolver
	m.mu.Unlock()

	outcome, err := resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	switch outcome.State {
	case PendingReady, PendingFailed:
		return m.consume(ctx, outcome)
	default:
		return nil
	}
}

func (m *Machine) consume(ctx context.Context, outcome PendingOutcome) error {
	if outcome.State == PendingFailed {
		m.mu.Lock()
		if !m.isAuthorizedLocked() {
			m.setStatusLocked(StatusUnauthorized)
		}
		m.mu.Unlock()
		return outcome.Err
	}

	m.mu.Lock()
	m.setStatusLocked(StatusAuthorizing)
	m.mu.Unlock()
	return m.RequestToken(ctx, outcome.Code, outcome.RedirectURL)
}

// Authorize starts a new authorization attempt and navigates to the provider.
// parameterName and parameterValue add one extra query pair when both are set.
func (m *Machine) Authorize(ctx context.Context, parameterName, parameterValue string) error {
	m.mu.Lock()
	if m.cfg == nil {
		m.mu.Unlock()
		m.log(ctx).Warn("SSO configs is not available")
		return ErrNotConfigured
	}
	builder := m.builder
	m.mu.Unlock()

	m.log(ctx).Info("SSO authorizing", "parameter_name", parameterName, "parameter_value", parameterValue)
	req, err := builder.Build(ctx, parameterName, parameterValue)
	if err != nil {
		m.report(err)
		m.mu.Lock()
		if !m.isAuthorizedLocked() {
			m.setStatusLocked(StatusUnauthorized)
		}
		m.mu.Unlock()
		return err
	}

	if err := m.deps.Navigator.Navigate(ctx, req.URL, req.Popup); err != nil {
		if rbErr := builder.Rollback(ctx); rbErr != nil {
			m.log(ctx).Error("failed to roll back redirect context", "error", rbErr)
		}
		blocked := &Error{Kind: ErrPopupBlocked, Level: LevelError, Message: "Login popup was blocked.", Err: err}
		m.report(blocked)
		return blocked
	}

	m.deps.Errors.Clear(ErrorSource)
	m.mu.Lock()
	m.generation++
	m.setStatusLocked(StatusAuthorizing)
	m.mu.Unlock()
	return nil
}

// RequestToken exchanges code for a token. It fails with ErrExchangeInFlight
// while another exchange is running.
func (m *Machine) RequestToken(ctx context.Context, code, redirectURL string) error {
	m.mu.Lock()
	if m.cfg == nil {
		m.mu.Unlock()
		return ErrNotConfigured
	}
	if m.status == StatusRequestingToken {
		m.mu.Unlock()
		return ErrExchangeInFlight
	}
	m.generation++
	gen := m.generation
	exchanger := m.exchanger
	m.setStatusLocked(StatusRequestingToken)
	m.mu.Unlock()

	rec, err := exchanger.ExchangeCode(ctx, code, redirectURL)
	return m.complete(ctx, gen, rec, err)
}

// complete applies the result of the exchange started under gen.
func (m *Machine) complete(ctx context.Context, gen uint64, rec *TokenRecord, err error) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.log(ctx).Debug("discarding stale token exchange result", "generation", gen)
		return nil
	}
	if err != nil {
		m.clearTokenLocked()
		m.generation++
		m.setStatusLocked(StatusUnauthorized)
		m.mu.Unlock()

		m.log(ctx).Error("SSO token request failed", "error", err)
		m.report(err)
		m.resetRedirect(ctx)
		return err
	}
	m.setTokenLocked(rec)
	m.mu.Unlock()

	m.deps.Errors.Clear(ErrorSource)
	m.resetRedirect(ctx)
	m.log(ctx).Info("SSO token received", "username", rec.Username)
	return nil
}

// SetToken installs rec, arms its refresh job and marks the Machine authorized.
// An exchange still in flight is discarded.
func (m *Machine) SetToken(ctx context.Context, rec *TokenRecord) {
	m.mu.Lock()
	m.generation++
	m.setTokenLocked(rec)
	m.mu.Unlock()

	m.deps.Errors.Clear(ErrorSource)
	m.resetRedirect(ctx)
}

func (m *Machine) setTokenLocked(rec *TokenRecord) {
	now := m.deps.Clock.Now()
	t := rec.snapshot()
	if t.ExpiresIn > 0 {
		t.ExpireTime = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	} else {
		t.ExpireTime = NeverExpires
	}

	m.clearTokenLocked()
	record := &t
	record.refreshJob = m.deps.Clock.AfterFunc(record.ExpireTime.Sub(now), func() {
		m.refreshDue(record)
	})
	m.token = record
	m.setStatusLocked(StatusAuthorized)
}

// refreshDue runs from the refresh job; it ignores jobs of replaced records.
func (m *Machine) refreshDue(record *TokenRecord) {
	_ = m.tokenExpired(context.Background(), record)
}

// TokenExpired refreshes the token. Without a refresh token the token is
// removed and ErrRefreshNotAllowed reported. A 401 from the token endpoint
// starts a new authorization instead of reporting an error.
func (m *Machine) TokenExpired(ctx context.Context) error {
	return m.tokenExpired(ctx, nil)
}

// tokenExpired refreshes the current token. A non-nil expect must still be
// the current record, checked under the same lock that starts the refresh.
func (m *Machine) tokenExpired(ctx context.Context, expect *TokenRecord) error {
	m.mu.Lock()
	if expect != nil && m.token != expect {
		m.mu.Unlock()
		return nil
	}
	if !m.isAuthorizedLocked() {
		m.mu.Unlock()
		return nil
	}
	if m.token.RefreshToken == "" {
		m.clearTokenLocked()
		m.generation++
		m.setStatusLocked(StatusUnauthorized)
		m.mu.Unlock()

		m.resetRedirect(ctx)
		err := &Error{
			Kind:    ErrRefreshNotAllowed,
			Level:   LevelError,
			Message: "Refresh token is not allowed. Please refresh page.",
		}
		m.report(err)
		return err
	}

	refreshToken := m.token.RefreshToken
	m.clearTokenLocked()
	m.generation++
	gen := m.generation
	exchanger := m.exchanger
	m.setStatusLocked(StatusRequestingToken)
	m.mu.Unlock()

	m.log(ctx).Info("Refreshing token")
	rec, err := exchanger.ExchangeRefreshToken(ctx, refreshToken)
	if IsUnauthorized(err) {
		m.mu.Lock()
		stale := gen != m.generation
		if !stale {
			m.generation++
			m.setStatusLocked(StatusUnauthorized)
		}
		m.mu.Unlock()
		if stale {
			return nil
		}
		m.log(ctx).Info("Failed to refresh token. Current session is probably timed out. Re-authorizing...")
		return m.Authorize(ctx, "", "")
	}
	if err == nil && rec.RefreshToken == "" {
		rec.RefreshToken = refreshToken
	}
	return m.complete(ctx, gen, rec, err)
}

// RemoveToken cancels the refresh job, drops the token and any pending
// redirect, and marks the Machine unauthorized.
func (m *Machine) RemoveToken(ctx context.Context, reason string) {
	m.mu.Lock()
	m.clearTokenLocked()
	m.generation++
	m.setStatusLocked(StatusUnauthorized)
	m.mu.Unlock()

	m.resetRedirect(ctx)
	m.log(ctx).Info("SSO token removed", "reason", reason)
}

// Close retires the Machine: the refresh job is cancelled and in-flight
// exchanges are discarded. The correlation store is left as is so a
// successor Machine on the same session can consume a pending redirect.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearTokenLocked()
	m.generation++
}

func (m *Machine) clearTokenLocked() {
	if m.token == nil {
		return
	}
	if m.token.refreshJob != nil {
		m.token.refreshJob.Stop()
	}
	m.token = nil
}

func (m *Machine) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.deps.Recorder.ObserveTransition(m.status, s)
	m.status = s
}

func (m *Machine) resetRedirect(ctx context.Context) {
	if err := m.deps.Store.ClearCurrent(ctx); err != nil {
		m.log(ctx).Error("failed to clear redirect context", "error", err)
	}
}

func (m *Machine) report(err error) {
	m.deps.Errors.Report(reportOf(err))
}

func (m *Machine) isAuthorizedLocked() bool {
	return m.status == StatusAuthorized && m.token != nil
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsAuthorized reports status Authorized with a token present.
func (m *Machine) IsAuthorized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isAuthorizedLocked()
}

// IsAuthorizing reports an authorization or token request in progress.
func (m *Machine) IsAuthorizing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status > StatusUnauthorized && m.status < StatusAuthorized
}

func (m *Machine) HasAccessToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != nil && m.token.AccessToken != ""
}

func (m *Machine) HasRefreshToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != nil && m.token.RefreshToken != ""
}

// IsTokenExpired reports true when no token is held.
func (m *Machine) IsTokenExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token == nil || m.token.Expired(m.deps.Clock.Now())
}

func (m *Machine) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return ""
	}
	return m.token.AccessToken
}

func (m *Machine) RefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return ""
	}
	return m.token.RefreshToken
}

// Token returns a copy of the current token record.
func (m *Machine) Token() (TokenRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return TokenRecord{}, false
	}
	return m.token.snapshot(), true
}

// Config returns a copy of the configuration.
func (m *Machine) Config() (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return Config{}, false
	}
	return m.cfg.clone(), true
}

// Errors returns the channel errors are reported to.
func (m *Machine) Errors() ErrorChannel {
	return m.deps.Errors
}
