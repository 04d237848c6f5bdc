package mockapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"carrental.app/rentalctl/internal/apiclient"
	"carrental.app/rentalctl/internal/config"
	"carrental.app/rentalctl/internal/credential"
	"carrental.app/rentalctl/internal/obs"
	"carrental.app/rentalctl/internal/platform/database"
	"carrental.app/rentalctl/internal/session"
)

const (
	seedEmail    = "demo@example.com"
	seedPassword = "Demo1234"
)

type harness struct {
	server  *httptest.Server
	creds   *credential.Credentials
	client  *apiclient.Client
	svc     *session.Service
	metrics *obs.ClientMetrics
}

func testConfig() config.MockAPI {
	cfg := config.Default().MockAPI
	cfg.JWTSecret = "integration-secret-0123456789"
	cfg.MaxFailedLogins = 3
	cfg.LoginRatePerSec = 0
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv, err := New(context.Background(), db, testConfig(), "test", Seed{Email: seedEmail, Password: seedPassword}, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	store, err := credential.NewCookieStore(context.Background(), ts.URL, nil)
	if err != nil {
		t.Fatalf("new cookie store: %v", err)
	}
	creds := credential.New(store, 0)
	metrics := obs.NewClientMetrics(prometheus.NewRegistry())
	client, err := apiclient.New(apiclient.Options{
		BaseURL:     ts.URL,
		Credentials: creds,
		Metrics:     metrics,
		UserAgent:   "rentalctl-test",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	svc := session.New(session.Options{API: client, Credentials: creds})
	client.SetNavigator(svc)
	svc.Initialize(context.Background())

	return &harness{server: ts, creds: creds, client: client, svc: svc, metrics: metrics}
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if h.svc.IsAuthenticated() {
		t.Fatal("expected fresh session to be anonymous")
	}

	res := h.svc.Login(ctx, session.Credentials{Email: seedEmail, Password: seedPassword}, true)
	if !res.Success {
		t.Fatalf("expected login to succeed, got %q", res.Error)
	}
	user := h.svc.User()
	if user == nil || user.Email != seedEmail || user.Role != session.RoleCustomer {
		t.Fatalf("unexpected user after login: %+v", user)
	}
	if !h.creds.Remembered() {
		t.Fatal("expected remember-me login to be persistent")
	}

	first := "Dana"
	if res := h.svc.UpdateProfile(ctx, session.ProfileUpdate{FirstName: &first}); !res.Success {
		t.Fatalf("expected profile update to succeed, got %q", res.Error)
	}
	if got := h.svc.User().FirstName; got != "Dana" {
		t.Fatalf("expected refreshed first name Dana, got %q", got)
	}

	res = h.svc.ChangePassword(ctx, session.PasswordChange{OldPassword: "Nope12345", NewPassword: "Fresh1234", ConfirmNewPassword: "Fresh1234"})
	if res.Success || res.Error != "Old password is not correct." {
		t.Fatalf("expected old password error, got %+v", res)
	}
	res = h.svc.ChangePassword(ctx, session.PasswordChange{OldPassword: seedPassword, NewPassword: "Fresh1234", ConfirmNewPassword: "Fresh1234"})
	if !res.Success {
		t.Fatalf("expected password change to succeed, got %q", res.Error)
	}

	h.svc.Logout()
	if h.svc.IsAuthenticated() {
		t.Fatal("expected logout to clear the user")
	}
	if _, ok := h.creds.RefreshToken(); ok {
		t.Fatal("expected logout to clear the refresh token")
	}
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if res := h.svc.Login(ctx, session.Credentials{Email: seedEmail, Password: seedPassword}, false); !res.Success {
		t.Fatalf("login: %q", res.Error)
	}
	h.creds.Store().Set(credential.AccessTokenCookie, "stale-token", time.Time{})

	resp, err := h.client.Get(ctx, session.MeEndpoint)
	if err != nil {
		t.Fatalf("expected request to recover via refresh, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	access, _ := h.creds.AccessToken()
	if access == "stale-token" {
		t.Fatal("expected access token to be replaced")
	}
	if got := testutil.ToFloat64(h.metrics.RefreshCounter(obs.RefreshSucceeded)); got != 1 {
		t.Fatalf("expected one successful refresh, got %v", got)
	}
}

func TestRevokedRefreshTokenEndsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if res := h.svc.Login(ctx, session.Credentials{Email: seedEmail, Password: seedPassword}, false); !res.Success {
		t.Fatalf("login: %q", res.Error)
	}
	h.creds.Store().Set(credential.AccessTokenCookie, "stale-token", time.Time{})
	h.creds.Store().Set(credential.RefreshTokenCookie, "revoked-token", time.Time{})

	_, err := h.client.Get(ctx, session.MeEndpoint)
	if err == nil {
		t.Fatal("expected request to fail")
	}
	if !errors.Is(err, apiclient.ErrSessionExpired) {
		t.Fatalf("expected session expired error, got %v", err)
	}
	if got := h.svc.RedirectedTo(); got != apiclient.LoginPath {
		t.Fatalf("expected redirect to %s, got %q", apiclient.LoginPath, got)
	}
	if _, ok := h.creds.AccessToken(); ok {
		t.Fatal("expected credentials to be cleared")
	}
}

func TestLoginFailuresAndLockout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := h.svc.Login(ctx, session.Credentials{Email: seedEmail, Password: "Wrong1234"}, false)
		if res.Success || res.Error != session.MsgInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid credentials, got %+v", i+1, res)
		}
	}

	res := h.svc.Login(ctx, session.Credentials{Email: seedEmail, Password: seedPassword}, false)
	if res.Success || res.Error != session.MsgAccountLocked {
		t.Fatalf("expected server-side lockout, got %+v", res)
	}
}

func TestRegisterThroughSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.svc.Register(ctx, session.Registration{Email: "new@example.com", Password: "Brand1234", Name: "New Driver"})
	if !res.Success {
		t.Fatalf("expected registration to succeed, got %q", res.Error)
	}

	res = h.svc.Register(ctx, session.Registration{Email: "new@example.com", Password: "Brand1234", Name: "New Driver"})
	if res.Success || !strings.Contains(res.Error, "already exists") {
		t.Fatalf("expected duplicate email error, got %+v", res)
	}

	if res := h.svc.Login(ctx, session.Credentials{Email: "new@example.com", Password: "Brand1234"}, false); !res.Success {
		t.Fatalf("expected new account to sign in, got %q", res.Error)
	}
}

func TestCSRFCookieIsIssuedAndAccepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.client.Get(ctx, "/api/health/"); err != nil {
		t.Fatalf("health: %v", err)
	}
	if _, ok := h.creds.CSRFToken(); !ok {
		t.Fatal("expected csrftoken cookie to be absorbed")
	}

	if res := h.svc.Login(ctx, session.Credentials{Email: seedEmail, Password: seedPassword}, false); !res.Success {
		t.Fatalf("expected login carrying X-CSRFToken to pass, got %q", res.Error)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}
