// Command mockapi serves the authentication endpoints of the rental API
// locally so rentalctl can be used without the real backend.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"carrental.app/rentalctl/internal/config"
	"carrental.app/rentalctl/internal/mockapi"
	"carrental.app/rentalctl/internal/platform/database"
	"carrental.app/rentalctl/internal/platform/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := config.Options{EnvFiles: []string{".env"}}
	var addr string

	cmd := &cobra.Command{
		Use:           "mockapi",
		Short:         "Run the local rental API stand-in",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts)
			if err != nil {
				fmt.Fprintln(os.Stderr, "config:", err)
				return err
			}
			if addr != "" {
				cfg.MockAPI.Addr = addr
			}
			logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			if err := run(cfg); err != nil {
				log.Error().Err(err).Msg("mockapi stopped")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.File, "config", "", "config file (default config/config.<env>.yaml)")
	cmd.Flags().StringVar(&opts.Env, "env", "", "environment name (development, production)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides mockapi.addr)")
	return cmd
}

func run(cfg *config.Config) error {
	mc := cfg.MockAPI
	if mc.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		mc.JWTSecret = secret
		log.Warn().Msg("mockapi.jwt_secret is not set; using a random secret, tokens will not survive a restart")
	}
	cfg.MockAPI = mc
	if err := cfg.ValidateMockAPI(); err != nil {
		return err
	}

	db, err := database.Open(mc.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	seed := mockapi.Seed{Email: os.Getenv("RENTAL_SEED_EMAIL"), Password: os.Getenv("RENTAL_SEED_PASSWORD")}
	server, err := mockapi.New(context.Background(), db, mc, version, seed, reg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              mc.Addr,
		Handler:           server.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", mc.Addr).Str("database", mc.Database).Msg("mockapi listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-stop:
	}

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
