// Package mockapi assembles the local API stand-in the CLI is exercised against.
package mockapi

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"carrental.app/rentalctl/internal/account"
	accountstore "carrental.app/rentalctl/internal/account/store"
	"carrental.app/rentalctl/internal/auth"
	"carrental.app/rentalctl/internal/config"
	"carrental.app/rentalctl/internal/obs"
	"carrental.app/rentalctl/internal/platform/web"
	"carrental.app/rentalctl/internal/status"
)

type Seed struct {
	Email    string
	Password string
}

type Server struct {
	handler  http.Handler
	accounts *account.Service
	auth     *auth.Service
}

// New wires the account, auth and status handlers over db. A nil registry
// gets a private one so tests can build several servers.
func New(ctx context.Context, db *sql.DB, cfg config.MockAPI, version string, seed Seed, reg *prometheus.Registry) (*Server, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	accountSvc := account.NewService(accountstore.NewStore(db), cfg.MaxFailedLogins)
	if err := accountSvc.EnsureSeedAccount(ctx, seed.Email, seed.Password); err != nil {
		return nil, err
	}
	authSvc := auth.NewService(accountSvc, auth.Config{
		Secret:         cfg.JWTSecret,
		Issuer:         cfg.Issuer,
		AccessTokenTTL: cfg.AccessTTL,
		RefreshTTL:     cfg.RefreshTTL,
	})

	_, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		port = cfg.Addr
	}

	mux := http.NewServeMux()
	auth.NewHandler(authSvc).RegisterRoutes(mux)
	account.NewHandler(accountSvc, auth.UserIDFromRequest).RegisterRoutes(mux)
	status.NewHandler(db, port, version).RegisterRoutes(mux)
	mux.Handle("/metrics", obs.Handler(reg))
	mux.Handle("/", web.Handler(func(w http.ResponseWriter, r *http.Request) *web.Error {
		return &web.Error{Code: http.StatusNotFound, Message: "Not found."}
	}))

	var handler http.Handler = mux
	handler = authSvc.Middleware(handler)
	handler = auth.NewCSRF([]byte(cfg.JWTSecret)).Middleware(handler)
	handler = auth.NewLoginLimiter(cfg.LoginRatePerSec, cfg.LoginBurst).Middleware("/api/auth/login/", handler)
	handler = obs.NewServerMetrics(reg).Instrument(handler)
	handler = Logger(handler)

	return &Server{handler: handler, accounts: accountSvc, auth: authSvc}, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Accounts() *account.Service {
	return s.accounts
}

func (s *Server) Auth() *auth.Service {
	return s.auth
}

// Logger 미들웨어
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug().
			Str("remote", r.RemoteAddr).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", r.Header.Get("X-Request-ID")).
			Int("status", rw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
