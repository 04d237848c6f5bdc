// Package cli implements the rentalctl commands on top of the session layer.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"carrental.app/rentalctl/internal/apiclient"
	"carrental.app/rentalctl/internal/config"
	"carrental.app/rentalctl/internal/credential"
	"carrental.app/rentalctl/internal/credential/store"
	"carrental.app/rentalctl/internal/obs"
	"carrental.app/rentalctl/internal/platform/database"
	"carrental.app/rentalctl/internal/platform/logging"
	"carrental.app/rentalctl/internal/session"
)

type globalFlags struct {
	configFile string
	env        string
	logLevel   string
	apiURL     string
}

// App is everything one command invocation works with. It is built once per
// run, in dependency order, and closed when the command returns.
type App struct {
	Config      *config.Config
	Credentials *credential.Credentials
	Cookies     *credential.CookieStore
	Client      *apiclient.Client
	Session     *session.Service
	Registry    *prometheus.Registry

	db      *sql.DB
	persist *store.Store
}

func loadConfig(g globalFlags) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		File:     g.configFile,
		Env:      g.env,
		EnvFiles: []string{".env"},
	})
	if err != nil {
		return nil, err
	}
	if g.apiURL != "" {
		cfg.API.BaseURL = g.apiURL
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, g globalFlags, version string, logOut io.Writer) (*App, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, logOut)

	db, err := database.Open(cfg.Credentials.Path)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}

	persist := store.NewStore(db)
	cookies, err := credential.NewCookieStore(ctx, cfg.API.BaseURL, persist)
	if err != nil {
		db.Close()
		return nil, err
	}
	creds := credential.New(cookies, cfg.Session.RememberFor)

	reg := prometheus.NewRegistry()
	client, err := apiclient.New(apiclient.Options{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.API.Timeout,
		Credentials: creds,
		Metrics:     obs.NewClientMetrics(reg),
		Version:     version,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	svc := session.New(session.Options{
		API:             client,
		Credentials:     creds,
		MaxFailedLogins: cfg.Session.MaxFailedLogins,
		LockoutDuration: cfg.Session.LockoutDuration,
	})
	client.SetNavigator(svc)
	svc.Initialize(ctx)

	log.Debug().
		Str("api", cfg.API.BaseURL).
		Str("site", cookies.Site()).
		Str("config", cfg.Path()).
		Bool("authenticated", svc.IsAuthenticated()).
		Msg("rentalctl ready")

	return &App{
		Config:      cfg,
		Credentials: creds,
		Cookies:     cookies,
		Client:      client,
		Session:     svc,
		Registry:    reg,
		db:          db,
		persist:     persist,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// requireLogin turns an authorization decision into a command error.
func (a *App) requireLogin(required session.Role) error {
	switch d := a.Session.Authorize(required); d {
	case session.DecisionAllow:
		return nil
	case session.DecisionLogin:
		if a.Session.RedirectedTo() != "" {
			return fmt.Errorf("session expired, run `rentalctl login` again")
		}
		return fmt.Errorf("not logged in, run `rentalctl login` first")
	case session.DecisionPendingApproval:
		return fmt.Errorf("your agency account is awaiting approval")
	default:
		return fmt.Errorf("access denied (%s)", d)
	}
}
