package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-training/ssoflow/pkg/config"
	"github.com/go-training/ssoflow/pkg/core"
	"github.com/go-training/ssoflow/pkg/sso"

	"github.com/gin-gonic/gin"
)

// Configuration is the public view of the identity provider settings.
// The client secret never leaves the server.
type Configuration struct {
	Enabled          bool               `json:"enabled"`
	AuthorizeURL     string             `json:"authorizeUrl"`
	TokenURL         string             `json:"tokenUrl"`
	ClientID         string             `json:"clientId"`
	RedirectURL      string             `json:"redirectUrl"`
	Scopes           []string           `json:"scopes,omitempty"`
	UsePopup         bool               `json:"usePopup"`
	AdditionalParams []config.ParamMeta `json:"additionalParameters"`
}

// Status describes the live Machine of a session.
type Status struct {
	Status       string       `json:"status"`
	Authorized   bool         `json:"authorized"`
	Authorizing  bool         `json:"authorizing"`
	TokenExpired bool         `json:"tokenExpired"`
	Username     string       `json:"username,omitempty"`
	TenantID     string       `json:"tenantId,omitempty"`
	Scope        string       `json:"scope,omitempty"`
	ExpireTime   *time.Time   `json:"expireTime,omitempty"`
	Navigate     *Navigation  `json:"navigate,omitempty"`
	Errors       []sso.Report `json:"errors,omitempty"`
}

type authorizeRequest struct {
	ParameterName  string `json:"parameterName"`
	ParameterValue string `json:"parameterValue"`
}

func (h *Host) configuration(c *gin.Context) {
	s := h.cfg.SSO
	params := s.AdditionalParams
	if params == nil {
		params = []config.ParamMeta{}
	}
	c.JSON(http.StatusOK, Configuration{
		Enabled:          s.Enabled(),
		AuthorizeURL:     s.ResolvedAuthorizeURL(),
		TokenURL:         s.ResolvedTokenURL(),
		ClientID:         s.ClientID,
		RedirectURL:      s.RedirectURL,
		Scopes:           s.Scopes,
		UsePopup:         s.UsePopup,
		AdditionalParams: params,
	})
}

// pageLoad starts a fresh Machine, as loading the application page does.
func (h *Host) pageLoad(c *gin.Context) {
	s := h.session(sessionID(c))
	m := h.reload(s)

	ctx := core.WithPageURL(c.Request.Context(), h.pageURL(c))
	ctx = sso.WithMachine(ctx, m)
	if err := m.StartOrResume(ctx); err != nil {
		core.LoggerFromCtx(ctx).Warn("SSO start failed", "error", err)
	}

	nav, ok := s.navigator.take()
	if ok && !nav.Popup {
		c.Redirect(http.StatusFound, nav.URL)
		return
	}
	st := h.statusOf(s, m)
	if ok {
		st.Navigate = &nav
	}
	c.JSON(http.StatusOK, st)
}

func (h *Host) authorize(c *gin.Context) {
	var req authorizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s := h.session(sessionID(c))
	m, _ := h.machine(s)
	ctx := core.WithPageURL(c.Request.Context(), h.referer(c))
	if err := m.Authorize(ctx, req.ParameterName, req.ParameterValue); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}

	nav, _ := s.navigator.take()
	c.JSON(http.StatusOK, nav)
}

// redirectLanding records the provider's answer for the attempt named by the
// state parameter. A same-tab flow returns to the page that started it, which
// consumes the answer on load. Popup and headless flows have no such page, so
// the live Machine consumes it here.
func (h *Host) redirectLanding(c *gin.Context) {
	ctx := c.Request.Context()
	state := c.Query("state")
	if state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing state"})
		return
	}

	ownerID, indexed := h.sessionForState(state)
	if !indexed {
		ownerID = sessionID(c)
	}
	correlation := h.storage.Session(ownerID)

	result := &core.PendingResult{
		State: state,
		Code:  c.Query("code"),
	}
	current, err := correlation.GetCurrent(ctx)
	switch {
	case err == nil:
		result.IsValid = current.CorrelationToken == state && result.Code != ""
		result.RedirectURL = current.RedirectURL
	case errors.Is(err, core.ErrNotFound):
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if e := c.Query("error"); e != "" {
		msg := "[" + e + "]"
		if desc := c.Query("error_description"); desc != "" {
			msg += ": " + desc
		}
		result.Error = &core.PendingError{Level: string(sso.LevelError), Message: msg}
	}

	if err := correlation.SetPayload(ctx, state, result); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	core.LoggerFromCtx(ctx).Info("SSO redirect received", "state", state, "valid", result.IsValid)

	owner := h.session(ownerID)
	live, _ := owner.current()
	popup := h.cfg.SSO.UsePopup
	if live != nil && (popup || ownerID != sessionID(c)) {
		if err := live.Resume(context.WithoutCancel(ctx)); err != nil {
			core.LoggerFromCtx(ctx).Warn("SSO resume failed", "error", err)
		}
		c.JSON(http.StatusOK, h.statusOf(owner, live))
		return
	}

	target := "/"
	if current != nil && h.sameOrigin(c, current.OriginalURL) {
		target = current.OriginalURL
	}
	c.Redirect(http.StatusFound, target)
}

// sameOrigin reports whether rawURL is an absolute http(s) URL on the
// application's origin: PublicURL when configured, the request host otherwise.
func (h *Host) sameOrigin(c *gin.Context, rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.User != nil {
		return false
	}
	if base := h.cfg.Server.PublicURL; base != "" {
		pub, err := url.Parse(base)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Scheme, pub.Scheme) && strings.EqualFold(u.Host, pub.Host)
	}
	return strings.EqualFold(u.Host, c.Request.Host)
}

func (h *Host) status(c *gin.Context) {
	s := h.session(sessionID(c))
	m, _ := h.machine(s)
	c.JSON(http.StatusOK, h.statusOf(s, m))
}

func (h *Host) logout(c *gin.Context) {
	s := h.session(sessionID(c))
	m, _ := h.machine(s)
	m.RemoveToken(c.Request.Context(), "logout")
	c.JSON(http.StatusOK, h.statusOf(s, m))
}

func (h *Host) statusOf(s *session, m *sso.Machine) Status {
	st := Status{
		Status:       m.Status().String(),
		Authorized:   m.IsAuthorized(),
		Authorizing:  m.IsAuthorizing(),
		TokenExpired: m.IsTokenExpired(),
		Errors:       s.board.All(),
	}
	if tok, ok := m.Token(); ok {
		st.Username = tok.Username
		st.TenantID = tok.TenantID
		st.Scope = tok.Scope
		if !tok.ExpireTime.Equal(sso.NeverExpires) {
			exp := tok.ExpireTime
			st.ExpireTime = &exp
		}
	}
	return st
}

// pageURL is the absolute URL of the current request.
func (h *Host) pageURL(c *gin.Context) string {
	if base := strings.TrimRight(h.cfg.Server.PublicURL, "/"); base != "" {
		return base + c.Request.URL.RequestURI()
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.Request.Host, c.Request.URL.RequestURI())
}

// referer is the page an API call was made from, falling back to the root page.
func (h *Host) referer(c *gin.Context) string {
	if ref := c.GetHeader("Referer"); ref != "" {
		return ref
	}
	base := strings.TrimRight(h.cfg.Server.PublicURL, "/")
	return base + "/"
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, sso.ErrNotConfigured), errors.Is(err, sso.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, sso.ErrPopupBlocked):
		return http.StatusConflict
	case errors.Is(err, sso.ErrExchangeInFlight):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
