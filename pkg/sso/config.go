package sso

import (
	"encoding/json"
	"strings"
)

// DefaultScopeSeparator joins scopes when Config.ScopeSeparator is empty.
const DefaultScopeSeparator = " "

// Config is the identity provider configuration of one session.
// It is supplied once and treated as immutable afterwards.
type Config struct {
	AuthorizeURL          string            `json:"authorizeUrl" yaml:"authorize_url"`
	TokenURL              string            `json:"tokenUrl" yaml:"token_url"`
	ClientID              string            `json:"clientId" yaml:"client_id"`
	ClientSecret          string            `json:"-" yaml:"client_secret"`
	RedirectURL           string            `json:"redirectUrl" yaml:"redirect_url"`
	Scopes                []string          `json:"scopes,omitempty" yaml:"scopes"`
	ScopeSeparator        string            `json:"scopeSeparator,omitempty" yaml:"scope_separator"`
	Realm                 string            `json:"realm,omitempty" yaml:"realm"`
	AdditionalQueryParams map[string]string `json:"additionalQueryParams,omitempty" yaml:"additional_query_params"`
	UsePopup              bool              `json:"usePopup" yaml:"use_popup"`
}

// Validate reports every missing required property in one ConfigurationError.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.AuthorizeURL) == "" {
		missing = append(missing, "authorizeUrl")
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		missing = append(missing, "tokenUrl")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "clientId")
	}
	if strings.TrimSpace(c.RedirectURL) == "" {
		missing = append(missing, "redirectUrl")
	}
	if len(missing) == 0 {
		return nil
	}

	list, _ := json.Marshal(missing)
	return &Error{
		Kind:    ErrConfiguration,
		Level:   LevelError,
		Message: "SSO plugin is not configured properly. Missing required properties" + string(list),
	}
}

func (c Config) scopeSeparator() string {
	if c.ScopeSeparator == "" {
		return DefaultScopeSeparator
	}
	return c.ScopeSeparator
}

func (c Config) clone() Config {
	out := c
	out.Scopes = append([]string(nil), c.Scopes...)
	if c.AdditionalQueryParams != nil {
		out.AdditionalQueryParams = make(map[string]string, len(c.AdditionalQueryParams))
		for k, v := range c.AdditionalQueryParams {
			out.AdditionalQueryParams[k] = v
		}
	}
	return out
}
