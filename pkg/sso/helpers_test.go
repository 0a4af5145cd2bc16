package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/go-training/ssoflow/pkg/store"

	"github.com/jonboulle/clockwork"
)

// fakeIdP is a token endpoint answering with the configured handler and
// recording every form it receives.
type fakeIdP struct {
	*httptest.Server

	mu       sync.Mutex
	forms    []url.Values
	users    []string
	secrets  []string
	response func(w http.ResponseWriter, form url.Values)
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{}
	idp.response = func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-" + form.Get("grant_type"),
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	}
	idp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		user, secret, _ := r.BasicAuth()
		idp.mu.Lock()
		idp.forms = append(idp.forms, r.PostForm)
		idp.users = append(idp.users, user)
		idp.secrets = append(idp.secrets, secret)
		respond := idp.response
		idp.mu.Unlock()
		respond(w, r.PostForm)
	}))
	t.Cleanup(idp.Close)
	return idp
}

func (f *fakeIdP) respond(fn func(w http.ResponseWriter, form url.Values)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response = fn
}

func (f *fakeIdP) calls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.forms...)
}

func (f *fakeIdP) credentials() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.users...), append([]string(nil), f.secrets...)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// recordingNavigator remembers every navigation and fails when err is set.
type recordingNavigator struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (n *recordingNavigator) Navigate(_ context.Context, u string, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.urls = append(n.urls, u)
	return nil
}

func (n *recordingNavigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

// stubExchanger counts calls and can hold an exchange until released.
type stubExchanger struct {
	mu           sync.Mutex
	codeCalls    int
	refreshCalls int
	record       func(grant string, n int) (*TokenRecord, error)
	hold         chan struct{}
	entered      chan struct{}
}

func newStubExchanger() *stubExchanger {
	return &stubExchanger{
		record: func(grant string, n int) (*TokenRecord, error) {
			return &TokenRecord{AccessToken: grant, RefreshToken: "refresh", ExpiresIn: 3600}, nil
		},
	}
}

func (s *stubExchanger) wait() {
	s.mu.Lock()
	hold, entered := s.hold, s.entered
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if hold != nil {
		<-hold
	}
}

func (s *stubExchanger) ExchangeCode(_ context.Context, code, _ string) (*TokenRecord, error) {
	s.wait()
	s.mu.Lock()
	s.codeCalls++
	n := s.codeCalls
	s.mu.Unlock()
	return s.record(GrantAuthorizationCode, n)
}

func (s *stubExchanger) ExchangeRefreshToken(_ context.Context, _ string) (*TokenRecord, error) {
	s.wait()
	s.mu.Lock()
	s.refreshCalls++
	n := s.refreshCalls
	s.mu.Unlock()
	return s.record(GrantRefreshToken, n)
}

func (s *stubExchanger) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codeCalls, s.refreshCalls
}

func testConfig(tokenURL string) Config {
	return Config{
		AuthorizeURL: "https://idp.example.com/oauth/authorize",
		TokenURL:     tokenURL,
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://app.example.com/sso/redirect",
		Scopes:       []string{"a", "b"},
	}
}

type harness struct {
	machine   *Machine
	clock     *clockwork.FakeClock
	store     *store.MemoryStore
	board     *ErrorBoard
	navigator *recordingNavigator
}

// newHarness wires a Machine to in-memory collaborators. A nil exchanger
// selects the OAuth2 exchanger.
func newHarness(t *testing.T, cfg Config, exchanger Exchanger) *harness {
	t.Helper()
	h := &harness{
		clock:     clockwork.NewFakeClock(),
		store:     store.NewMemoryStore(),
		board:     NewErrorBoard(),
		navigator: &recordingNavigator{},
	}
	h.machine = Init(cfg, Deps{
		Store:     h.store,
		Errors:    h.board,
		Exchanger: exchanger,
		Navigator: h.navigator,
		Clock:     h.clock,
	}, nil)
	return h
}

// reload simulates a new page load sharing the session store.
func (h *harness) reload(cfg Config, exchanger Exchanger) *Machine {
	return Init(cfg, Deps{
		Store:     h.store,
		Errors:    h.board,
		Exchanger: exchanger,
		Navigator: h.navigator,
		Clock:     h.clock,
	}, nil)
}
