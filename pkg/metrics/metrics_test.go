package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-training/ssoflow/pkg/sso"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ObserveExchange(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	r.ObserveExchange(sso.GrantAuthorizationCode, sso.OutcomeSuccess, 20*time.Millisecond)
	r.ObserveExchange(sso.GrantRefreshToken, sso.OutcomeUnauthorized, 5*time.Millisecond)
	r.ObserveExchange(sso.GrantRefreshToken, sso.OutcomeUnauthorized, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.exchanges.WithLabelValues("authorization_code", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.exchanges.WithLabelValues("refresh_token", "unauthorized")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.exchangeDuration))
}

func TestRecorder_ObserveTransition(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	r.ObserveTransition(sso.StatusUnauthorized, sso.StatusAuthorizing)
	r.ObserveTransition(sso.StatusAuthorizing, sso.StatusRequestingToken)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("Unauthorized", "Authorizing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("Authorizing", "RequestingToken")))
}

func TestNew_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	// a second recorder on the same registry must not fail
	_, err = New(reg)
	assert.NoError(t, err)
}

func TestRecorder_HandlerAndMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r, err := New(nil)
	require.NoError(t, err)
	r.ObserveExchange(sso.GrantAuthorizationCode, sso.OutcomeSuccess, time.Millisecond)

	router := gin.New()
	router.Use(r.Middleware())
	router.GET("/sso/status", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(r.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sso/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)

	out := string(body)
	assert.True(t, strings.Contains(out, `sso_token_exchanges_total{grant="authorization_code",outcome="success"} 1`), out)
	assert.Contains(t, out, `http_requests_total{method="GET",path="/sso/status",status="200"} 1`)
}
