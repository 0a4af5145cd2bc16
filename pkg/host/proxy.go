package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"

	"github.com/go-training/ssoflow/pkg/core"
	"github.com/go-training/ssoflow/pkg/sso"

	"github.com/gin-gonic/gin"
)

// ErrNoUpstream is returned when an API call is made without an upstream.
var ErrNoUpstream = errors.New("no upstream configured")

// proxy forwards /api/* to the upstream with the session's bearer token.
func (h *Host) proxy(c *gin.Context) {
	if h.upstream == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNoUpstream.Error()})
		return
	}

	s := h.session(sessionID(c))
	_, hooks := h.machine(s)
	rp := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(h.upstream)
			r.Out.URL.Path = singleJoin(h.upstream.Path, c.Param("path"))
			r.Out.URL.RawPath = ""
			r.SetXForwarded()
		},
		Transport: sso.NewTransport(h.transport, hooks),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			core.LoggerFromCtx(r.Context()).Error("upstream request failed", "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	// ReverseProxy falls back to CloseNotifier when the context cannot be
	// cancelled, which gin's writer only supports over a real connection.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	rp.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
}

func singleJoin(base, p string) string {
	switch {
	case base == "" || base == "/":
		return p
	case base[len(base)-1] == '/' && len(p) > 0 && p[0] == '/':
		return base + p[1:]
	case base[len(base)-1] != '/' && (len(p) == 0 || p[0] != '/'):
		return base + "/" + p
	default:
		return base + p
	}
}

// APIURL resolves raw against the upstream API. raw is either a path joined
// below the upstream the way /api/* is, or an absolute URL on the upstream
// origin and below its path. Anything else is rejected so the bearer token
// of a session only ever reaches the upstream.
func (h *Host) APIURL(raw string) (*url.URL, error) {
	if h.upstream == nil {
		return nil, ErrNoUpstream
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" && u.Host == "" {
		out := *h.upstream
		out.Path = singleJoin(h.upstream.Path, u.Path)
		if !strings.HasPrefix(out.Path, "/") {
			out.Path = "/" + out.Path
		}
		out.RawPath = ""
		out.RawQuery = u.RawQuery
		out.Fragment = ""
		u = &out
	}
	if !h.withinUpstream(u) {
		return nil, fmt.Errorf("%s is outside the upstream API %s", u.Redacted(), h.upstream.Redacted())
	}
	return u, nil
}

// APIClient returns a client carrying the bearer token of m to the upstream.
// Redirects leaving the upstream are refused.
func (h *Host) APIClient(m *sso.Machine) *http.Client {
	client := m.HTTPClient(h.transport)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if !h.withinUpstream(req.URL) {
			return fmt.Errorf("redirect to %s leaves the upstream API", req.URL.Redacted())
		}
		return nil
	}
	return client
}

func (h *Host) withinUpstream(u *url.URL) bool {
	if h.upstream == nil || u.User != nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, h.upstream.Scheme) || !strings.EqualFold(u.Host, h.upstream.Host) {
		return false
	}
	base := strings.TrimSuffix(h.upstream.Path, "/")
	if base == "" {
		return true
	}
	p := path.Clean("/" + u.Path)
	return p == base || strings.HasPrefix(p, base+"/")
}
