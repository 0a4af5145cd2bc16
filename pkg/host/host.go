// Package host adapts the sso package to a gin application: one session per
// browser cookie (or MCP session), one Machine per page load.
package host

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-training/ssoflow/pkg/config"
	"github.com/go-training/ssoflow/pkg/core"
	"github.com/go-training/ssoflow/pkg/metrics"
	"github.com/go-training/ssoflow/pkg/sso"
	"github.com/go-training/ssoflow/pkg/store"

	"github.com/jonboulle/clockwork"
	gocache "github.com/patrickmn/go-cache"
)

// StdioSessionID names the single session used by the stdio transport.
const StdioSessionID = "stdio"

type Options struct {
	Config   *config.Config
	Storage  core.SessionStorage
	Recorder *metrics.Recorder
	// Clock drives refresh jobs. Nil selects the real clock.
	Clock clockwork.Clock
	// Upstream overrides Config.Server.Upstream.
	Upstream *url.URL
	// UpstreamTransport carries proxied API calls. Nil selects http.DefaultTransport.
	UpstreamTransport http.RoundTripper
	// MCP serves /mcp when set.
	MCP http.Handler
}

// Host owns the sessions of one process.
type Host struct {
	cfg       config.Config
	storage   core.SessionStorage
	recorder  *metrics.Recorder
	clock     clockwork.Clock
	upstream  *url.URL
	transport http.RoundTripper
	mcp       http.Handler

	sessions *gocache.Cache
	// states maps a correlation token to the session that issued it, so a
	// login finished in another browser reaches a headless session.
	states *gocache.Cache
	ttl    time.Duration
}

// New creates a Host. Storage defaults to an in-memory store.
func New(opts Options) (*Host, error) {
	if opts.Config == nil {
		return nil, errors.New("missing config")
	}
	h := &Host{
		cfg:       *opts.Config,
		storage:   opts.Storage,
		recorder:  opts.Recorder,
		clock:     opts.Clock,
		upstream:  opts.Upstream,
		transport: opts.UpstreamTransport,
		mcp:       opts.MCP,
		ttl:       opts.Config.Store.SessionTTL,
	}
	if h.ttl <= 0 {
		h.ttl = store.DefaultSessionTTL
	}
	if h.storage == nil {
		h.storage = store.NewMemoryStoreWithTTL(h.ttl)
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	if h.upstream == nil && h.cfg.Server.Upstream != "" {
		u, err := url.Parse(h.cfg.Server.Upstream)
		if err != nil {
			return nil, err
		}
		h.upstream = u
	}

	h.sessions = gocache.New(h.ttl, h.ttl/2)
	h.sessions.OnEvicted(func(_ string, v any) {
		if s, ok := v.(*session); ok {
			s.close()
		}
	})
	h.states = gocache.New(h.ttl, h.ttl/2)
	return h, nil
}

// Close retires every live Machine.
func (h *Host) Close() {
	for _, item := range h.sessions.Items() {
		if s, ok := item.Object.(*session); ok {
			s.close()
		}
	}
	h.sessions.Flush()
}

// session is the server side of one browser tab.
type session struct {
	id        string
	board     *sso.ErrorBoard
	navigator *navigator

	mu      sync.Mutex
	machine *sso.Machine
	hooks   *sso.Hooks
}

func (s *session) current() (*sso.Machine, *sso.Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine, s.hooks
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine != nil {
		s.machine.Close()
	}
}

func (h *Host) session(id string) *session {
	if v, ok := h.sessions.Get(id); ok {
		s := v.(*session)
		h.sessions.SetDefault(id, s)
		return s
	}
	s := &session{
		id:    id,
		board: sso.NewErrorBoard(),
	}
	s.navigator = &navigator{host: h, sessionID: id}
	// a concurrent first request may have created it already
	if err := h.sessions.Add(id, s, gocache.DefaultExpiration); err != nil {
		if v, ok := h.sessions.Get(id); ok {
			return v.(*session)
		}
	}
	return s
}

// machine returns the live Machine of s, creating one when none exists.
func (h *Host) machine(s *session) (*sso.Machine, *sso.Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine == nil {
		s.machine, s.hooks = h.newMachine(s)
	}
	return s.machine, s.hooks
}

// reload replaces the live Machine of s, as a page load does.
func (h *Host) reload(s *session) *sso.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine != nil {
		s.machine.Close()
	}
	s.machine, s.hooks = h.newMachine(s)
	return s.machine
}

func (h *Host) newMachine(s *session) (*sso.Machine, *sso.Hooks) {
	deps := sso.Deps{
		Store:     h.storage.Session(s.id),
		Errors:    s.board,
		Navigator: s.navigator,
		Clock:     h.clock,
		Logger:    slog.Default().With("session_id", s.id),
	}
	if h.recorder != nil {
		deps.Recorder = h.recorder
	}

	hooks := &sso.Hooks{
		Request:  stripSessionCookie,
		Response: logRejected,
	}
	return sso.Init(h.cfg.SSO.Client(), deps, hooks), hooks
}

type hostKey struct{}

// SessionContext returns ctx carrying the Host, the session id and the live
// Machine of sessionID.
func (h *Host) SessionContext(ctx context.Context, sessionID string) context.Context {
	s := h.session(sessionID)
	m, _ := h.machine(s)
	ctx = context.WithValue(ctx, hostKey{}, h)
	ctx = core.WithSessionID(ctx, sessionID)
	return sso.WithMachine(ctx, m)
}

// FromContext retrieves the Host stored by SessionContext.
func FromContext(ctx context.Context) (*Host, error) {
	h, ok := ctx.Value(hostKey{}).(*Host)
	if !ok || h == nil {
		return nil, errors.New("missing host")
	}
	return h, nil
}

// PendingNavigation returns and clears the navigation last requested by the
// Machine of sessionID.
func (h *Host) PendingNavigation(sessionID string) (Navigation, bool) {
	return h.session(sessionID).navigator.take()
}

func (h *Host) indexState(state, sessionID string) {
	if state == "" {
		return
	}
	h.states.SetDefault(state, sessionID)
}

func (h *Host) sessionForState(state string) (string, bool) {
	v, ok := h.states.Get(state)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func stripSessionCookie(req *http.Request) *http.Request {
	cookies := req.Cookies()
	req.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name != SessionCookie {
			req.AddCookie(c)
		}
	}
	return req
}

func logRejected(resp *http.Response) *http.Response {
	if resp.StatusCode == http.StatusUnauthorized {
		core.LoggerFromCtx(resp.Request.Context()).Warn("upstream rejected the access token",
			"url", resp.Request.URL.String())
	}
	return resp
}
