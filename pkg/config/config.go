// Package config loads the sso-console settings from a YAML file, an optional
// dotenv file and SSO_ prefixed environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-training/ssoflow/pkg/sso"
	"github.com/go-training/ssoflow/pkg/store"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SSO_"

const (
	defaultAddr          = ":8080"
	defaultAuthorizePath = "/v2/authorize"
	defaultTokenPath     = "/v2/token"
	defaultRedirectPath  = "/sso/redirect"
)

type Config struct {
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`
	SSO    SSOConfig    `yaml:"sso"`
	Store  StoreConfig  `yaml:"store" envPrefix:"STORE_"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// PublicURL is the externally visible origin used to derive the redirect URL.
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
	// Upstream is the API proxied under /api with the bearer token attached.
	Upstream string `yaml:"upstream" env:"UPSTREAM"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

// SSOConfig holds the identity provider settings. AuthorizeURL and TokenURL
// win over BaseURL joined with the matching path.
type SSOConfig struct {
	BaseURL               string            `yaml:"base_url" env:"BASE_URL"`
	AuthorizePath         string            `yaml:"authorize_path" env:"AUTHORIZE_PATH"`
	TokenPath             string            `yaml:"token_path" env:"TOKEN_PATH"`
	AuthorizeURL          string            `yaml:"authorize_url" env:"AUTHORIZE_URL"`
	TokenURL              string            `yaml:"token_url" env:"TOKEN_URL"`
	ClientID              string            `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret          string            `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL           string            `yaml:"redirect_url" env:"REDIRECT_URL"`
	Scopes                []string          `yaml:"scopes" env:"SCOPES"`
	ScopeSeparator        string            `yaml:"scope_separator" env:"SCOPE_SEPARATOR"`
	Realm                 string            `yaml:"realm" env:"REALM"`
	AdditionalQueryParams map[string]string `yaml:"additional_query_params" env:"ADDITIONAL_QUERY_PARAMS"`
	UsePopup              bool              `yaml:"use_popup" env:"USE_POPUP"`
	AdditionalParams      []ParamMeta       `yaml:"additional_params"`
}

// ParamMeta describes an extra authorize parameter the UI may offer,
// such as a tenant hint picked from a candidate list.
type ParamMeta struct {
	Name               string `yaml:"name" json:"name"`
	DisplayName        string `yaml:"display_name" json:"displayName"`
	CandidateSourceURL string `yaml:"candidate_source_url" json:"candidateSourceUrl"`
	CandidateJSONPath  string `yaml:"candidate_json_path" json:"candidateJsonPath"`
}

type StoreConfig struct {
	Type       string        `yaml:"type" env:"TYPE"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	Redis      RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// Load reads path (skipped when empty), then the dotenv files that exist,
// then environment overrides. Variables already set in the process are
// never replaced by dotenv values.
func Load(path string, dotenvFiles ...string) (*Config, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Store.Type == "" {
		c.Store.Type = store.StoreTypeMemory.String()
	}
	if c.SSO.BaseURL != "" {
		if c.SSO.AuthorizePath == "" {
			c.SSO.AuthorizePath = defaultAuthorizePath
		}
		if c.SSO.TokenPath == "" {
			c.SSO.TokenPath = defaultTokenPath
		}
	}
	if c.SSO.RedirectURL == "" && c.Server.PublicURL != "" {
		c.SSO.RedirectURL = strings.TrimRight(c.Server.PublicURL, "/") + defaultRedirectPath
	}
}

// Validate checks the settings the process cannot start without. Missing
// identity provider properties are not fatal: the sso package reports them
// to the user when an authorization is attempted.
func (c *Config) Validate() error {
	if !store.StoreType(strings.ToLower(c.Store.Type)).IsValid() {
		return fmt.Errorf("invalid store type %q", c.Store.Type)
	}
	if c.Store.SessionTTL < 0 {
		return fmt.Errorf("negative session ttl %s", c.Store.SessionTTL)
	}
	return nil
}

// Enabled reports whether a client is configured at all.
func (s SSOConfig) Enabled() bool {
	return s.ClientID != ""
}

func (s SSOConfig) ResolvedAuthorizeURL() string {
	if s.AuthorizeURL != "" {
		return s.AuthorizeURL
	}
	if s.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.BaseURL, "/") + s.AuthorizePath
}

func (s SSOConfig) ResolvedTokenURL() string {
	if s.TokenURL != "" {
		return s.TokenURL
	}
	if s.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.BaseURL, "/") + s.TokenPath
}

// Client converts the settings into the configuration a Machine consumes.
func (s SSOConfig) Client() sso.Config {
	return sso.Config{
		AuthorizeURL:          s.ResolvedAuthorizeURL(),
		TokenURL:              s.ResolvedTokenURL(),
		ClientID:              s.ClientID,
		ClientSecret:          s.ClientSecret,
		RedirectURL:           s.RedirectURL,
		Scopes:                s.Scopes,
		ScopeSeparator:        s.ScopeSeparator,
		Realm:                 s.Realm,
		AdditionalQueryParams: s.AdditionalQueryParams,
		UsePopup:              s.UsePopup,
	}
}

// StoreFactoryConfig maps the settings onto store.Config.
func (s StoreConfig) StoreFactoryConfig() store.Config {
	return store.Config{
		Type: store.ParseStoreType(s.Type),
		Redis: store.RedisOptions{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		},
		SessionTTL: s.SessionTTL,
	}
}
