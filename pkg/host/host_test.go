package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-training/ssoflow/pkg/config"
	"github.com/go-training/ssoflow/pkg/metrics"
	"github.com/go-training/ssoflow/pkg/sso"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstreamSeen struct {
	mu            sync.Mutex
	authorization string
	cookies       []string
	path          string
}

type fixture struct {
	host     *Host
	router   *gin.Engine
	recorder *metrics.Recorder
	seen     *upstreamSeen
	cookie   *http.Cookie
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("code") != "the-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"bearer","expires_in":3600,"refresh_token":"rt-1","username":"alice"}`))
	}))
	t.Cleanup(idp.Close)

	seen := &upstreamSeen{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.authorization = r.Header.Get("Authorization")
		seen.path = r.URL.Path
		seen.cookies = nil
		for _, c := range r.Cookies() {
			seen.cookies = append(seen.cookies, c.Name)
		}
		seen.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{Upstream: upstream.URL + "/v1"},
		SSO: config.SSOConfig{
			AuthorizeURL: "https://idp.example.com/oauth/authorize",
			TokenURL:     idp.URL + "/token",
			ClientID:     "console",
			ClientSecret: "s3cret",
			RedirectURL:  "http://example.com/sso/redirect",
			Scopes:       []string{"openid"},
			AdditionalParams: []config.ParamMeta{
				{Name: "tenant_id", DisplayName: "Tenant"},
			},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	rec, err := metrics.New(nil)
	require.NoError(t, err)
	h, err := New(Options{Config: cfg, Recorder: rec})
	require.NoError(t, err)
	t.Cleanup(h.Close)

	return &fixture{host: h, router: h.Router(), recorder: rec, seen: seen}
}

func (f *fixture) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if f.cookie != nil {
		req.AddCookie(f.cookie)
		req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			f.cookie = c
		}
	}
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) Status {
	t.Helper()
	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st), w.Body.String())
	return st
}

func stateOf(t *testing.T, location string) string {
	t.Helper()
	u, err := url.Parse(location)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestHost_SameTabFlow(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://idp.example.com/oauth/authorize?response_type=code"), location)
	require.NotNil(t, f.cookie, "page load must issue a session cookie")
	state := stateOf(t, location)

	w = f.do(t, http.MethodGet, "/sso/redirect?state="+state+"&code=the-code", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://example.com/", w.Header().Get("Location"))

	w = f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeStatus(t, w)
	assert.True(t, st.Authorized)
	assert.Equal(t, "Authorized", st.Status)
	assert.Equal(t, "alice", st.Username)
	assert.NotNil(t, st.ExpireTime)
	assert.Empty(t, st.Errors)

	w = f.do(t, http.MethodGet, "/api/things?x=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	f.seen.mu.Lock()
	assert.Equal(t, "Bearer at-1", f.seen.authorization)
	assert.Equal(t, "/v1/things", f.seen.path)
	assert.Equal(t, []string{"theme"}, f.seen.cookies, "session cookie must not reach the upstream")
	f.seen.mu.Unlock()

	w = f.do(t, http.MethodPost, "/sso/logout", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeStatus(t, w).Authorized)

	w = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `sso_token_exchanges_total{grant="authorization_code",outcome="success"} 1`)
}

func TestHost_CallbackError(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusFound, w.Code)
	state := stateOf(t, w.Header().Get("Location"))

	w = f.do(t, http.MethodGet, "/sso/redirect?state="+state+"&error=access_denied&error_description=user+cancelled", "")
	require.Equal(t, http.StatusFound, w.Code)

	w = f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeStatus(t, w)
	assert.False(t, st.Authorized)
	assert.Equal(t, "Unauthorized", st.Status)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, "[access_denied]: user cancelled", st.Errors[0].Message)
	assert.Equal(t, sso.ErrorSource, st.Errors[0].Source)
}

func TestHost_ForgedStateIsRejected(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusFound, w.Code)

	w = f.do(t, http.MethodGet, "/sso/redirect?state=forged&code=the-code", "")
	require.Equal(t, http.StatusFound, w.Code)

	// the real attempt is still outstanding
	w = f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeStatus(t, w)
	assert.False(t, st.Authorized)
	assert.True(t, st.Authorizing)
}

func TestHost_RedirectStaysOnOrigin(t *testing.T) {
	tests := []struct {
		name      string
		publicURL string
		referer   string
		want      string
	}{
		{name: "foreign referer", referer: "https://evil.example.net/phish", want: "/"},
		{name: "request host", referer: "http://example.com/reports?id=7", want: "http://example.com/reports?id=7"},
		{name: "credentials in url", referer: "http://user:pw@example.com/", want: "/"},
		{name: "public url", publicURL: "https://console.example.org", referer: "https://console.example.org/home", want: "https://console.example.org/home"},
		{name: "request host behind public url", publicURL: "https://console.example.org", referer: "http://example.com/home", want: "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) {
				c.Server.PublicURL = tt.publicURL
			})
			w := f.do(t, http.MethodGet, "/sso/status", "")
			require.Equal(t, http.StatusOK, w.Code)

			req := httptest.NewRequest(http.MethodPost, "/sso/authorize", nil)
			req.Header.Set("Referer", tt.referer)
			req.AddCookie(f.cookie)
			w = httptest.NewRecorder()
			f.router.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var nav Navigation
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nav))
			state := stateOf(t, nav.URL)

			w = f.do(t, http.MethodGet, "/sso/redirect?state="+state+"&code=the-code", "")
			require.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Location"))
		})
	}
}

func TestHost_RedirectMissingState(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/sso/redirect?code=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHost_HeadlessSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := f.host.SessionContext(context.Background(), "mcp-abc")
	m, err := sso.MachineFromContext(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Authorize(ctx, "", ""))
	nav, ok := f.host.PendingNavigation("mcp-abc")
	require.True(t, ok)
	assert.False(t, nav.Popup)
	state := stateOf(t, nav.URL)

	// the login completes in a browser that knows nothing of the MCP session
	w := f.do(t, http.MethodGet, "/sso/redirect?state="+state+"&code=the-code", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeStatus(t, w).Authorized)
	assert.True(t, m.IsAuthorized())
	assert.Equal(t, "at-1", m.AccessToken())
}

func TestHost_PopupFlow(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.SSO.UsePopup = true })

	w := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeStatus(t, w)
	require.NotNil(t, st.Navigate)
	assert.True(t, st.Navigate.Popup)
	assert.True(t, st.Authorizing)

	w = f.do(t, http.MethodGet, "/sso/redirect?state="+stateOf(t, st.Navigate.URL)+"&code=the-code", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeStatus(t, w).Authorized)

	w = f.do(t, http.MethodGet, "/sso/status", "")
	assert.True(t, decodeStatus(t, w).Authorized)
}

func TestHost_AuthorizeWithParameter(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/sso/authorize", `{"parameterName":"tenant_id","parameterValue":"acme corp"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var nav Navigation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nav))
	assert.True(t, strings.HasSuffix(nav.URL, "&tenant_id=acme%20corp"), nav.URL)

	w = f.do(t, http.MethodGet, "/sso/status", "")
	assert.True(t, decodeStatus(t, w).Authorizing)
}

func TestHost_AuthorizeNotConfigured(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.SSO = config.SSOConfig{} })

	w := f.do(t, http.MethodPost, "/sso/authorize", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Missing required properties")

	w = f.do(t, http.MethodGet, "/sso/status", "")
	st := decodeStatus(t, w)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, string(sso.LevelError), string(st.Errors[0].Level))
}

func TestHost_Configuration(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/sso/configuration", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")

	var got Configuration
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.Enabled)
	assert.Equal(t, "console", got.ClientID)
	require.Len(t, got.AdditionalParams, 1)
	assert.Equal(t, "tenant_id", got.AdditionalParams[0].Name)
}

func TestHost_ProxyWithoutUpstream(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Server.Upstream = "" })
	w := f.do(t, http.MethodGet, "/api/things", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHost_CORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodOptions, "/sso/status", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), MCPSessionHeader)
}

func TestSingleJoin(t *testing.T) {
	tests := []struct {
		base, p, want string
	}{
		{"", "/a", "/a"},
		{"/", "/a", "/a"},
		{"/v1", "/a", "/v1/a"},
		{"/v1/", "/a", "/v1/a"},
		{"/v1", "a", "/v1/a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, singleJoin(tt.base, tt.p), "%q + %q", tt.base, tt.p)
	}
}
