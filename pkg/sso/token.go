package sso

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Status is the authorization status of a Machine. The order is significant.
type Status int

const (
	StatusUnauthorized Status = iota
	StatusAuthorizing
	StatusRequestingToken
	StatusAuthorized
)

func (s Status) String() string {
	switch s {
	case StatusUnauthorized:
		return "Unauthorized"
	case StatusAuthorizing:
		return "Authorizing"
	case StatusRequestingToken:
		return "RequestingToken"
	case StatusAuthorized:
		return "Authorized"
	default:
		return "Unknown"
	}
}

// NeverExpires is the expire time given to tokens issued without expires_in.
var NeverExpires = time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC)

// TokenRecord is the token pair held by a Machine together with the
// provider fields worth keeping.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	ExpireTime   time.Time `json:"expireTime"`
	Scope        string    `json:"scope,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Username     string    `json:"username,omitempty"`
	TenantID     string    `json:"tenantId,omitempty"`

	// refreshJob fires tokenExpired at ExpireTime; stopped whenever the record is dropped.
	refreshJob clockwork.Timer
}

// Expired reports whether the token is expired at now.
func (t *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(t.ExpireTime)
}

// snapshot returns a copy without the refresh job.
func (t *TokenRecord) snapshot() TokenRecord {
	out := *t
	out.refreshJob = nil
	return out
}
