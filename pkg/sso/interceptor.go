package sso

import (
	"context"
	"net/http"
)

// RequestHook decorates an outbound request.
type RequestHook func(*http.Request) *http.Request

// ResponseHook observes an inbound response.
type ResponseHook func(*http.Response) *http.Response

// Hooks is the host's interceptor pair. Each slot holds a single link.
type Hooks struct {
	Request  RequestHook
	Response ResponseHook
}

// InstallInterceptors wraps the hooks in h. The previous link of each hook
// runs first; the request hook then attaches the bearer token of m.
func InstallInterceptors(h *Hooks, m *Machine) {
	m.log(context.Background()).Info("Configuring Interceptors")
	originalRequest := h.Request
	originalResponse := h.Response

	h.Request = func(req *http.Request) *http.Request {
		if originalRequest != nil {
			req = originalRequest(req)
		}
		return m.decorate(req)
	}
	h.Response = func(resp *http.Response) *http.Response {
		if originalResponse != nil {
			resp = originalResponse(resp)
		}
		return resp
	}
}

func (m *Machine) decorate(req *http.Request) *http.Request {
	m.mu.Lock()
	active := m.isAuthorizedLocked() && m.token.AccessToken != ""
	var accessToken string
	var expired bool
	if active {
		accessToken = m.token.AccessToken
		expired = m.token.Expired(m.deps.Clock.Now())
	}
	m.mu.Unlock()

	if !active {
		return req
	}
	if expired {
		go func(ctx context.Context) {
			_ = m.TokenExpired(ctx)
		}(context.WithoutCancel(req.Context()))
		return req
	}
	if req.Header.Get("Authorization") != "" {
		m.log(req.Context()).Warn(`SSO access token is not applied, because there is "Authorization" header in request`,
			"url", req.URL.String())
		return req
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req
}

// Transport is an http.RoundTripper running a request through Hooks.
type Transport struct {
	Base  http.RoundTripper
	Hooks *Hooks
}

// NewTransport creates a Transport over base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, hooks *Hooks) *Transport {
	return &Transport{Base: base, Hooks: hooks}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Hooks == nil {
		return base.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	if t.Hooks.Request != nil {
		req = t.Hooks.Request(req)
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if t.Hooks.Response != nil {
		resp = t.Hooks.Response(resp)
	}
	return resp, nil
}

// HTTPClient returns a client whose requests carry the bearer token of m.
func (m *Machine) HTTPClient(base http.RoundTripper) *http.Client {
	h := &Hooks{}
	InstallInterceptors(h, m)
	return &http.Client{Transport: NewTransport(base, h)}
}
