package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"carrental.app/rentalctl/internal/credential"
	"carrental.app/rentalctl/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingNavigator struct {
	mu      sync.Mutex
	targets []string
}

func (n *recordingNavigator) Redirect(_ context.Context, target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
}

func (n *recordingNavigator) Targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

type testEnv struct {
	client  *Client
	creds   *credential.Credentials
	store   *credential.CookieStore
	nav     *recordingNavigator
	metrics *obs.ClientMetrics
}

func newTestEnv(t *testing.T, serverURL string) *testEnv {
	t.Helper()
	store, err := credential.NewCookieStore(context.Background(), serverURL, nil)
	if err != nil {
		t.Fatalf("new cookie store: %v", err)
	}
	creds := credential.New(store, 0)
	nav := &recordingNavigator{}
	metrics := obs.NewClientMetrics(prometheus.NewRegistry())
	client, err := New(Options{
		BaseURL:     serverURL,
		Timeout:     5 * time.Second,
		Credentials: creds,
		Navigator:   nav,
		Metrics:     metrics,
		UserAgent:   "rentalctl-test",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return &testEnv{client: client, creds: creds, store: store, nav: nav, metrics: metrics}
}

func TestNewValidatesOptions(t *testing.T) {
	store, _ := credential.NewCookieStore(context.Background(), "http://127.0.0.1", nil)
	creds := credential.New(store, 0)

	if _, err := New(Options{BaseURL: "not a url", Credentials: creds}); err == nil {
		t.Fatal("expected error for base url without scheme")
	}
	if _, err := New(Options{BaseURL: "http://127.0.0.1:8000"}); err == nil {
		t.Fatal("expected error without credentials")
	}
	c, err := New(Options{BaseURL: "http://127.0.0.1:8000/", Credentials: creds, UserAgent: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.BaseURL() != "http://127.0.0.1:8000" {
		t.Fatalf("expected trailing slash trimmed, got %s", c.BaseURL())
	}
}

func TestBearerHeader(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Values("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	env := newTestEnv(t, server.URL)

	if _, err := env.client.Get(context.Background(), "/api/vehicles/"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if h := got.Load().([]string); len(h) != 0 {
		t.Fatalf("expected no Authorization header, got %v", h)
	}

	env.creds.SaveLogin(credential.Pair{Access: "eyJ.tok.en", Refresh: "r"}, false)
	if _, err := env.client.Get(context.Background(), "/api/vehicles/"); err != nil {
		t.Fatalf("get: %v", err)
	}
	h := got.Load().([]string)
	if len(h) != 1 || h[0] != "Bearer eyJ.tok.en" {
		t.Fatalf("expected verbatim bearer token, got %v", h)
	}

	env.creds.Clear()
	if _, err := env.client.Get(context.Background(), "/api/vehicles/"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if h := got.Load().([]string); len(h) != 0 {
		t.Fatalf("expected no Authorization header after logout, got %v", h)
	}
}

func TestCSRFHeaderOnlyOnMutatingMethods(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{method: http.MethodGet, want: false},
		{method: http.MethodHead, want: false},
		{method: http.MethodOptions, want: false},
		{method: http.MethodPost, want: true},
		{method: "post", want: true},
		{method: http.MethodPut, want: true},
		{method: http.MethodPatch, want: true},
		{method: "Delete", want: true},
	}

	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Values("X-CSRFToken"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.store.Set(credential.CSRFCookie, "csrf-123", time.Time{})

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if _, err := env.client.Do(context.Background(), &Request{Method: tt.method, Path: "/api/bookings/"}); err != nil {
				t.Fatalf("do: %v", err)
			}
			h := got.Load().([]string)
			if tt.want {
				if len(h) != 1 || h[0] != "csrf-123" {
					t.Fatalf("expected X-CSRFToken csrf-123, got %v", h)
				}
				return
			}
			if len(h) != 0 {
				t.Fatalf("expected no X-CSRFToken, got %v", h)
			}
		})
	}
}

func TestCSRFHeaderAbsentWithoutCookie(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Values("X-CSRFToken"))
	}))
	defer server.Close()
	env := newTestEnv(t, server.URL)

	if _, err := env.client.Post(context.Background(), "/api/bookings/", map[string]int{"vehicle": 1}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if h := got.Load().([]string); len(h) != 0 {
		t.Fatalf("expected no X-CSRFToken without cookie, got %v", h)
	}
}

func TestSetCookieFeedsCSRF(t *testing.T) {
	var csrfSeen atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: credential.CSRFCookie, Value: "from-server", Path: "/"})
			return
		}
		csrfSeen.Store(r.Header.Get("X-CSRFToken"))
	}))
	defer server.Close()
	env := newTestEnv(t, server.URL)

	if _, err := env.client.Get(context.Background(), "/api/health/"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := env.client.Post(context.Background(), "/api/bookings/", nil); err != nil {
		t.Fatalf("post: %v", err)
	}
	if v, _ := csrfSeen.Load().(string); v != "from-server" {
		t.Fatalf("expected csrf from Set-Cookie, got %q", v)
	}
}

func TestTransportHeaders(t *testing.T) {
	var ids []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("X-Request-ID"))
		mu.Unlock()
		if r.Header.Get("User-Agent") != "rentalctl-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("unexpected accept %q", r.Header.Get("Accept"))
		}
		if r.Method == http.MethodPost && r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
	}))
	defer server.Close()
	env := newTestEnv(t, server.URL)

	env.client.Get(context.Background(), "/a")
	env.client.Post(context.Background(), "/b", map[string]string{"k": "v"})

	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("expected two distinct request ids, got %v", ids)
	}
}

// authServer accepts only validAccess on /api/data/ and answers refreshes with refreshAnswer.
type authServer struct {
	validAccess   string
	refreshStatus int
	refreshBody   string

	dataCalls    atomic.Int32
	refreshCalls atomic.Int32

	mu             sync.Mutex
	refreshHeaders http.Header
	refreshPayload map[string]string
}

func (s *authServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case RefreshPath:
		s.refreshCalls.Add(1)
		var payload map[string]string
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		s.mu.Lock()
		s.refreshHeaders = r.Header.Clone()
		s.refreshPayload = payload
		s.mu.Unlock()
		w.WriteHeader(s.refreshStatus)
		io.WriteString(w, s.refreshBody)
	case "/api/data/":
		s.dataCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+s.validAccess {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"Given token not valid for any token type"}`)
			return
		}
		io.WriteString(w, `{"items":[1,2,3]}`)
	default:
		http.NotFound(w, r)
	}
}

func TestRefreshAndRetry(t *testing.T) {
	as := &authServer{validAccess: "new-access", refreshStatus: http.StatusOK, refreshBody: `{"access":"new-access"}`}
	server := httptest.NewServer(as)
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.store.Set(credential.CSRFCookie, "csrf", time.Time{})
	env.creds.SaveLogin(credential.Pair{Access: "old-access", Refresh: "refresh-1"}, false)

	resp, err := env.client.Get(context.Background(), "/api/data/")
	if err != nil {
		t.Fatalf("expected retried request to succeed, got %v", err)
	}
	var out struct {
		Items []int `json:"items"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 3 {
		t.Fatalf("expected retried data, got %+v", out)
	}

	if v, _ := env.creds.AccessToken(); v != "new-access" {
		t.Fatalf("expected stored access token to be refreshed, got %s", v)
	}
	if v, _ := env.creds.RefreshToken(); v != "refresh-1" {
		t.Fatalf("expected refresh token unchanged, got %s", v)
	}
	if got := as.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected 1 refresh, got %d", got)
	}
	if got := as.dataCalls.Load(); got != 2 {
		t.Fatalf("expected 2 data calls, got %d", got)
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	if as.refreshPayload["refresh"] != "refresh-1" {
		t.Fatalf("unexpected refresh payload: %v", as.refreshPayload)
	}
	if as.refreshHeaders.Get("Authorization") != "" || as.refreshHeaders.Get("X-CSRFToken") != "" {
		t.Fatalf("expected undecorated refresh request, got %v", as.refreshHeaders)
	}
	if len(env.nav.Targets()) != 0 {
		t.Fatalf("expected no redirect, got %v", env.nav.Targets())
	}
	if got := testutil.ToFloat64(env.metrics.RefreshCounter(obs.RefreshSucceeded)); got != 1 {
		t.Fatalf("expected refresh metric 1, got %v", got)
	}
}

func TestRefreshStoresRotatedToken(t *testing.T) {
	as := &authServer{validAccess: "a2", refreshStatus: http.StatusOK, refreshBody: `{"access":"a2","refresh":"r2"}`}
	server := httptest.NewServer(as)
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.creds.SaveLogin(credential.Pair{Access: "a1", Refresh: "r1"}, true)

	if _, err := env.client.Get(context.Background(), "/api/data/"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, _ := env.creds.RefreshToken(); v != "r2" {
		t.Fatalf("expected rotated refresh token, got %s", v)
	}
	if exp, _ := env.store.Expiry(credential.AccessTokenCookie); exp.IsZero() {
		t.Fatal("expected remembered login to keep a persistent access token")
	}
}

func TestSecond401Propagates(t *testing.T) {
	as := &authServer{validAccess: "never", refreshStatus: http.StatusOK, refreshBody: `{"access":"still-bad"}`}
	server := httptest.NewServer(as)
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.creds.SaveLogin(credential.Pair{Access: "a", Refresh: "r"}, false)

	_, err := env.client.Get(context.Background(), "/api/data/")
	if !IsUnauthorized(err) {
		t.Fatalf("expected 401 to propagate, got %v", err)
	}
	if errors.Is(err, ErrSessionExpired) {
		t.Fatal("expected plain 401, not session expiry")
	}
	if got := as.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 refresh, got %d", got)
	}
	if got := as.dataCalls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 data calls, got %d", got)
	}
	if len(env.nav.Targets()) != 0 {
		t.Fatalf("expected no redirect, got %v", env.nav.Targets())
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Detail() != "Given token not valid for any token type" {
		t.Fatalf("expected original error body, got %v", err)
	}
}

func TestRefreshFailureTearsDownSession(t *testing.T) {
	as := &authServer{validAccess: "x", refreshStatus: http.StatusUnauthorized, refreshBody: `{"detail":"Token is blacklisted","code":"token_not_valid"}`}
	server := httptest.NewServer(as)
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.creds.SaveLogin(credential.Pair{Access: "a", Refresh: "r"}, true)

	_, err := env.client.Get(context.Background(), "/api/data/")
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, ok := env.creds.AccessToken(); ok {
		t.Fatal("expected access token cleared")
	}
	if _, ok := env.creds.RefreshToken(); ok {
		t.Fatal("expected refresh token cleared")
	}
	if targets := env.nav.Targets(); len(targets) != 1 || targets[0] != "/login" {
		t.Fatalf("expected one redirect to /login, got %v", targets)
	}
	if got := as.dataCalls.Load(); got != 1 {
		t.Fatalf("expected no retry after failed refresh, got %d data calls", got)
	}
}

func TestRefreshWithoutAccessTearsDown(t *testing.T) {
	as := &authServer{validAccess: "x", refreshStatus: http.StatusOK, refreshBody: `{}`}
	server := httptest.NewServer(as)
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.creds.SaveLogin(credential.Pair{Access: "a", Refresh: "r"}, false)

	_, err := env.client.Get(context.Background(), "/api/data/")
	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, errNoAccessInRefresh) {
		t.Fatalf("expected session expiry caused by empty refresh, got %v", err)
	}
}

func TestNoRefreshTokenReturnsOriginal401(t *testing.T) {
	as := &authServer{validAccess: "x", refreshStatus: http.StatusOK, refreshBody: `{"access":"x"}`}
	server := httptest.NewServer(as)
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.store.Set(credential.AccessTokenCookie, "stale", time.Time{})

	_, err := env.client.Get(context.Background(), "/api/data/")
	if !IsUnauthorized(err) || errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected original 401, got %v", err)
	}
	if as.refreshCalls.Load() != 0 {
		t.Fatal("expected no refresh without refresh token")
	}
	if len(env.nav.Targets()) != 0 {
		t.Fatal("expected no redirect without refresh token")
	}
	if v, ok := env.creds.AccessToken(); !ok || v != "stale" {
		t.Fatal("expected credentials untouched")
	}
}

func TestNon401ErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.creds.SaveLogin(credential.Pair{Access: "a", Refresh: "r"}, false)

	_, err := env.client.Get(context.Background(), "/api/data/")
	if StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestRetryResendsSameBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == RefreshPath {
			io.WriteString(w, `{"access":"fresh"}`)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.creds.SaveLogin(credential.Pair{Access: "old", Refresh: "r"}, false)

	resp, err := env.client.Post(context.Background(), "/api/bookings/", map[string]int{"vehicle": 7})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if len(bodies) != 2 || bodies[0] != bodies[1] || !strings.Contains(bodies[1], `"vehicle":7`) {
		t.Fatalf("expected identical bodies on retry, got %v", bodies)
	}
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	const workers = 8
	var refreshCalls atomic.Int32
	var arrived sync.WaitGroup
	arrived.Add(workers)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == RefreshPath {
			refreshCalls.Add(1)
			time.Sleep(100 * time.Millisecond)
			io.WriteString(w, `{"access":"fresh"}`)
			return
		}
		if r.Header.Get("Authorization") == "Bearer fresh" {
			io.WriteString(w, `{}`)
			return
		}
		arrived.Done()
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.creds.SaveLogin(credential.Pair{Access: "old", Refresh: "r"}, false)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.client.Get(context.Background(), "/api/data/")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("expected every request to recover, got %v", err)
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one shared refresh, got %d", got)
	}
}

func TestCallerCancellationKeepsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == RefreshPath {
			time.Sleep(200 * time.Millisecond)
			io.WriteString(w, `{"access":"fresh"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()
	env := newTestEnv(t, server.URL)
	env.creds.SaveLogin(credential.Pair{Access: "old", Refresh: "r"}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := env.client.Get(ctx, "/api/data/")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, ok := env.creds.RefreshToken(); !ok {
		t.Fatal("expected credentials to survive caller cancellation")
	}
	if len(env.nav.Targets()) != 0 {
		t.Fatal("expected no redirect on caller cancellation")
	}
}

func TestTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()
	env := newTestEnv(t, url)

	_, err := env.client.Get(context.Background(), "/api/data/")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Transport() {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestDefaultUserAgent(t *testing.T) {
	ua := DefaultUserAgent("1.4.0")
	if !strings.HasPrefix(ua, "rentalctl/1.4.0 (") || !strings.HasSuffix(ua, ")") {
		t.Fatalf("unexpected user agent: %s", ua)
	}
	if !strings.HasPrefix(DefaultUserAgent(""), "rentalctl/dev ") {
		t.Fatalf("expected dev version, got %s", DefaultUserAgent(""))
	}
}
