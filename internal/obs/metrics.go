// Package obs holds the prometheus metrics of the API client and the local API stand-in.
package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes recorded by ClientMetrics.ObserveRefresh.
const (
	RefreshSucceeded = "succeeded"
	RefreshFailed    = "failed"
	RefreshSkipped   = "no_refresh_token"
)

// ClientMetrics counts outbound API traffic. A nil *ClientMetrics is valid and records nothing.
type ClientMetrics struct {
	requests  *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	retries   prometheus.Counter
}

// NewClientMetrics registers the client collectors on reg. A nil reg leaves them unregistered.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	m := &ClientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentalctl_api_requests_total",
			Help: "API requests sent, by method and response status.",
		}, []string{"method", "status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentalctl_token_refreshes_total",
			Help: "Access token refresh attempts, by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentalctl_request_retries_total",
			Help: "Requests re-issued after a successful token refresh.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.refreshes, m.retries)
	}
	return m
}

// ObserveRequest records one response; status 0 means the request never got one.
func (m *ClientMetrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(strings.ToUpper(method), label).Inc()
}

func (m *ClientMetrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// RefreshCounter exposes one outcome series, mainly for tests.
func (m *ClientMetrics) RefreshCounter(outcome string) prometheus.Counter {
	return m.refreshes.WithLabelValues(outcome)
}

func (m *ClientMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// ServerMetrics instruments the stand-in's HTTP handlers.
type ServerMetrics struct {
	inFlight prometheus.Gauge
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	m := &ServerMetrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.inFlight, m.total, m.duration)
	}
	return m
}

// Instrument measures in-flight count, totals and latency per canonical path.
func (m *ServerMetrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)

		m.inFlight.Inc()
		defer m.inFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.duration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.total.WithLabelValues(r.Method, path, status).Inc()
	})
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var knownPaths = map[string]bool{
	"/api/auth/login/":           true,
	"/api/auth/register/":        true,
	"/api/auth/me/":              true,
	"/api/auth/password/change/": true,
	"/api/auth/token/refresh/":   true,
	"/api/health/":               true,
	"/metrics":                   true,
}

// CanonicalPath keeps label cardinality bounded: known routes pass through
// (with a trailing slash restored), everything else collapses to "other".
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	if knownPaths[path] {
		return path
	}
	if knownPaths[path+"/"] {
		return path + "/"
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
