package obs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/metrics":                 "/metrics",
		"/api/auth/me":             "/api/auth/me/",
		"/api/auth/me/":            "/api/auth/me/",
		"/api/auth/login/?next=/x": "/api/auth/login/",
		"/api/vehicles/42/":        "other",
		"/api/auth/token/refresh/": "/api/auth/token/refresh/",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestClientMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClientMetrics(reg)

	m.ObserveRequest("get", 200)
	m.ObserveRequest("GET", 200)
	m.ObserveRequest("POST", 0)
	m.ObserveRefresh(RefreshSucceeded)
	m.ObserveRetry()

	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")); got != 2 {
		t.Fatalf("expected 2 GET 200, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "error")); got != 1 {
		t.Fatalf("expected 1 transport error, got %v", got)
	}
	if got := testutil.ToFloat64(m.refreshes.WithLabelValues(RefreshSucceeded)); got != 1 {
		t.Fatalf("expected 1 refresh, got %v", got)
	}
	if got := testutil.ToFloat64(m.retries); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
}

func TestNilClientMetricsIsNoop(t *testing.T) {
	var m *ClientMetrics
	m.ObserveRequest("GET", 200)
	m.ObserveRefresh(RefreshFailed)
	m.ObserveRetry()
}

func TestInstrumentAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServerMetrics(reg)

	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/auth/me/", nil))

	if got := testutil.ToFloat64(m.total.WithLabelValues("GET", "/api/auth/me/", "418")); got != 1 {
		t.Fatalf("expected 1 request counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("expected no in-flight requests, got %v", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("expected exposition to contain http_requests_total, got %s", rec.Body.String())
	}
}
