// Package metrics exposes Prometheus instrumentation for the SSO flow.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-training/ssoflow/pkg/sso"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements sso.Recorder on Prometheus collectors.
type Recorder struct {
	exchanges        *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var _ sso.Recorder = (*Recorder)(nil)

// New creates a Recorder registered on reg. A nil reg selects a fresh registry.
func New(reg *prometheus.Registry) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_token_exchanges_total",
			Help: "Token endpoint exchanges by grant type and outcome",
		}, []string{"grant", "outcome"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sso_token_exchange_duration_seconds",
			Help:    "Latency of token endpoint exchanges",
			Buckets: prometheus.DefBuckets,
		}, []string{"grant"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_status_transitions_total",
			Help: "Authorization status transitions",
		}, []string{"from", "to"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests handled by the host",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests handled by the host",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{
		r.exchanges, r.exchangeDuration, r.transitions, r.httpRequests, r.httpDuration,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}

func (r *Recorder) ObserveExchange(grant, outcome string, elapsed time.Duration) {
	r.exchanges.WithLabelValues(grant, outcome).Inc()
	r.exchangeDuration.WithLabelValues(grant).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveTransition(from, to sso.Status) {
	r.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per route template.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		r.httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		r.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
