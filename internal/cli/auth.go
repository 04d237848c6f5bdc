package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"carrental.app/rentalctl/internal/credential"
	"carrental.app/rentalctl/internal/session"
)

func newLoginCmd(withApp appRunner) *cobra.Command {
	var (
		email         string
		passwordStdin bool
		remember      bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session tokens",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			if passwordStdin && email == "" {
				return errors.New("--email is required with --password-stdin")
			}
			p := newPrompter(cmd, passwordStdin)
			var err error
			if email == "" {
				if email, err = p.ask("Email"); err != nil {
					return err
				}
			}
			password, err := p.ask("Password")
			if err != nil {
				return err
			}

			res := app.Session.Login(cmd.Context(), session.Credentials{Email: strings.TrimSpace(email), Password: password}, remember)
			if !res.Success {
				return errors.New(res.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", describeUser(app.Session.User(), email))
			if remember {
				fmt.Fprintf(cmd.OutOrStdout(), "Session remembered for %s\n", app.Config.Session.RememberFor)
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "Session tokens are not persisted; pass --remember to stay signed in across runs")
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (prompted when empty)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.Flags().BoolVar(&remember, "remember", false, "keep the session across restarts")
	return cmd
}

func newLogoutCmd(withApp appRunner) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			app.Session.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			if !purge {
				return nil
			}

			// Also drops non-token cookies such as the CSRF token.
			n, err := app.persist.Purge(cmd.Context(), app.Cookies.Site())
			if err != nil {
				return fmt.Errorf("purge stored cookies: %w", err)
			}
			log.Debug().Int64("removed", n).Str("site", app.Cookies.Site()).Msg("Purged stored cookies")
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stored cookie(s) for %s\n", n, app.Cookies.Site())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also delete every other cookie stored for the API site")
	return cmd
}

func newWhoamiCmd(withApp appRunner) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			if err := app.requireLogin(""); err != nil {
				return err
			}
			user := app.Session.User()
			return render(cmd.OutOrStdout(), output, user, func(w io.Writer) {
				fmt.Fprintf(w, "%s <%s>\n", user.DisplayName(), user.Email)
				fmt.Fprintf(w, "role: %s\n", user.Role)
				if user.PhoneNumber != "" {
					fmt.Fprintf(w, "phone: %s\n", user.PhoneNumber)
				}
				if user.AgencyName != "" {
					fmt.Fprintf(w, "agency: %s\n", user.AgencyName)
				}
				if user.IsPendingAgency {
					fmt.Fprintln(w, "agency application pending approval")
				}
			})
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")
	return cmd
}

type sessionStatus struct {
	API           string     `json:"api" yaml:"api"`
	Site          string     `json:"site" yaml:"site"`
	Authenticated bool       `json:"authenticated" yaml:"authenticated"`
	Email         string     `json:"email,omitempty" yaml:"email,omitempty"`
	Remembered    bool       `json:"remembered" yaml:"remembered"`
	AccessExpires *time.Time `json:"access_expires,omitempty" yaml:"access_expires,omitempty"`
	SessionUntil  *time.Time `json:"session_until,omitempty" yaml:"session_until,omitempty"`
	ExpiredNotice string     `json:"notice,omitempty" yaml:"notice,omitempty"`
}

func newStatusCmd(withApp appRunner) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show authentication state and token lifetimes",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			st := sessionStatus{
				API:           app.Config.API.BaseURL,
				Site:          app.Cookies.Site(),
				Authenticated: app.Session.IsAuthenticated(),
				Remembered:    app.Credentials.Remembered(),
			}
			if u := app.Session.User(); u != nil {
				st.Email = u.Email
			}
			if access, ok := app.Credentials.AccessToken(); ok {
				if exp, ok := tokenExpiry(access); ok {
					st.AccessExpires = &exp
				}
			}
			if until, ok := app.Cookies.Expiry(credential.RefreshTokenCookie); ok && !until.IsZero() {
				st.SessionUntil = &until
			}
			if app.Session.RedirectedTo() != "" {
				st.ExpiredNotice = "session expired, sign in again"
			}

			return render(cmd.OutOrStdout(), output, st, func(w io.Writer) {
				fmt.Fprintf(w, "api: %s\n", st.API)
				if !st.Authenticated {
					fmt.Fprintln(w, "not signed in")
					if st.ExpiredNotice != "" {
						fmt.Fprintln(w, st.ExpiredNotice)
					}
					return
				}
				fmt.Fprintf(w, "signed in as %s\n", st.Email)
				if st.AccessExpires != nil {
					fmt.Fprintf(w, "access token expires %s\n", st.AccessExpires.Local().Format(time.RFC1123))
				}
				if st.Remembered && st.SessionUntil != nil {
					fmt.Fprintf(w, "remembered until %s\n", st.SessionUntil.Local().Format(time.RFC1123))
				} else {
					fmt.Fprintln(w, "session ends when the stored tokens expire or you log out")
				}
			})
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")
	return cmd
}

func newAccessCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "access [ROLE]",
		Short: "Check whether the signed-in user may use an area requiring ROLE",
		Long: `Check whether the signed-in user may use an area requiring ROLE
(CUSTOMER, AGENCY_ADMIN or AGENCY_STAFF). Without ROLE any signed-in user passes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			var required session.Role
			if len(args) == 1 {
				required = session.Role(strings.ToUpper(args[0]))
			}
			d := app.Session.Authorize(required)
			if d == session.DecisionAllow {
				fmt.Fprintln(cmd.OutOrStdout(), "allowed")
				return nil
			}
			return fmt.Errorf("%s: redirect to %s", d, d.Target())
		}),
	}
}

// tokenExpiry reads exp from a JWT without verifying its signature; the
// client never holds the signing key.
func tokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func describeUser(u *session.User, fallback string) string {
	if u == nil {
		return fallback
	}
	if name := u.DisplayName(); name != "" && name != u.Email {
		return fmt.Sprintf("%s <%s>", name, u.Email)
	}
	return u.Email
}
