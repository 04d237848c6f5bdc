package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"carrental.app/rentalctl/internal/apiclient"
)

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rentalctl version %s (%s)\n", version, runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "user agent: %s\n", apiclient.DefaultUserAgent(version))
		},
	}
}
