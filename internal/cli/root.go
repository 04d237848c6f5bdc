package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the rentalctl command tree.
func NewRootCmd(version string) *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:           "rentalctl",
		Short:         "Sign in to the car rental API and call it with your session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.configFile, "config", "", "config file (default config/config.<env>.yaml or ~/.rentalctl)")
	cmd.PersistentFlags().StringVar(&g.env, "env", "", "environment name (development, production)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.apiURL, "api", "", "API base URL (overrides api.base_url)")

	// withApp runs fn with a freshly built App and closes it afterwards.
	withApp := func(fn func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), g, version, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer app.Close()
			return fn(cmd, app, args)
		}
	}

	cmd.AddCommand(
		newLoginCmd(withApp),
		newLogoutCmd(withApp),
		newWhoamiCmd(withApp),
		newStatusCmd(withApp),
		newAccessCmd(withApp),
		newRegisterCmd(withApp),
		newProfileCmd(withApp),
		newPasswordCmd(withApp),
		newRequestCmd(withApp),
		newConfigCmd(&g),
		newVersionCmd(version),
	)
	return cmd
}

type appRunner func(fn func(cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error

// Execute runs the command tree against ctx.
func Execute(ctx context.Context, version string) error {
	return NewRootCmd(version).ExecuteContext(ctx)
}

// prompter reads answers line by line from the command's stdin.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// newPrompter shows labels on stderr unless quiet is set (piped input).
func newPrompter(cmd *cobra.Command, quiet bool) *prompter {
	out := cmd.ErrOrStderr()
	if quiet {
		out = io.Discard
	}
	return &prompter{in: bufio.NewReader(cmd.InOrStdin()), out: out}
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%s: no input", strings.ToLower(label))
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
