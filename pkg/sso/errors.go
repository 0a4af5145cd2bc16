package sso

import (
	"errors"
	"sort"
	"sync"
)

const (
	// AuthID identifies this authorization scheme in error reports.
	AuthID = "SSO"
	// ErrorSource tags every report this package sends to the ErrorChannel.
	ErrorSource = "sso-plugin"
)

// Level is the severity attached to a reported error.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

var (
	// ErrConfiguration means required configuration is missing or unusable.
	ErrConfiguration = errors.New("sso: configuration error")
	// ErrPopupBlocked means navigation to the identity provider could not start.
	ErrPopupBlocked = errors.New("sso: login popup blocked")
	// ErrCallback means the provider redirect carried an error or no usable code.
	ErrCallback = errors.New("sso: authorization callback error")
	// ErrTokenEndpoint means the token endpoint was unreachable or answered non-2xx.
	ErrTokenEndpoint = errors.New("sso: token endpoint error")
	// ErrTokenFormat means the token endpoint answered 2xx with an unusable payload.
	ErrTokenFormat = errors.New("sso: token response format error")
	// ErrRefreshNotAllowed means the token expired and no refresh token is held.
	ErrRefreshNotAllowed = errors.New("sso: refresh token is not allowed")
	// ErrExchangeInFlight is returned when a token request races one still running.
	ErrExchangeInFlight = errors.New("sso: token exchange already in flight")
	// ErrNotConfigured is returned by operations invoked before Configure.
	ErrNotConfigured = errors.New("sso: not configured")
)

// Error is a classified authorization failure. Kind is one of the sentinel
// errors above; Message is what the host should render.
type Error struct {
	Kind       error
	Level      Level
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Report is one entry on the ErrorChannel.
type Report struct {
	AuthID  string `json:"authId"`
	Source  string `json:"source"`
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// ErrorChannel is the sink for user-visible authorization errors.
type ErrorChannel interface {
	// Report replaces the error held for r.Source.
	Report(r Report)
	// Clear removes the error held for source.
	Clear(source string)
}

func reportOf(err error) Report {
	r := Report{AuthID: AuthID, Source: ErrorSource, Level: LevelError, Message: err.Error()}
	var e *Error
	if errors.As(err, &e) {
		r.Message = e.Message
		if e.Level != "" {
			r.Level = e.Level
		}
	}
	return r
}

// ErrorBoard is an in-memory ErrorChannel keeping the most recent report per source.
type ErrorBoard struct {
	mu      sync.RWMutex
	reports map[string]Report
}

// NewErrorBoard creates an empty ErrorBoard.
func NewErrorBoard() *ErrorBoard {
	return &ErrorBoard{reports: make(map[string]Report)}
}

func (b *ErrorBoard) Report(r Report) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports[r.Source] = r
}

func (b *ErrorBoard) Clear(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.reports, source)
}

// Get returns the report held for source.
func (b *ErrorBoard) Get(source string) (Report, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.reports[source]
	return r, ok
}

// All returns every held report ordered by source.
func (b *ErrorBoard) All() []Report {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Report, 0, len(b.reports))
	for _, r := range b.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
