package sso

import "time"

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

const (
	OutcomeSuccess       = "success"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeEndpointError = "endpoint_error"
	OutcomeFormatError   = "format_error"
)

// Recorder observes token exchanges and status transitions.
type Recorder interface {
	ObserveExchange(grant, outcome string, elapsed time.Duration)
	ObserveTransition(from, to Status)
}

type nopRecorder struct{}

func (nopRecorder) ObserveExchange(string, string, time.Duration) {}
func (nopRecorder) ObserveTransition(Status, Status)              {}
