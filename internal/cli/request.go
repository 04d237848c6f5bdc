package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"carrental.app/rentalctl/internal/apiclient"
)

func newRequestCmd(withApp appRunner) *cobra.Command {
	var (
		data    string
		headers []string
	)

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an authenticated request to the API and print the response",
		Example: `  rentalctl request GET /api/vehicles/
  rentalctl request POST /api/bookings/ --data '{"vehicle": 3}'`,
		Args: cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			req := &apiclient.Request{
				Method: strings.ToUpper(args[0]),
				Path:   args[1],
				Header: http.Header{},
			}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return errors.New("--data must be valid JSON")
				}
				req.Body = json.RawMessage(data)
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q, want Name: value", h)
				}
				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			resp, err := app.Client.Do(cmd.Context(), req)
			if err != nil {
				var apiErr *apiclient.APIError
				if errors.As(err, &apiErr) && len(apiErr.Body) > 0 {
					writeBody(cmd.OutOrStdout(), apiErr.Body)
				}
				return err
			}
			writeBody(cmd.OutOrStdout(), resp.Body)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra request header (Name: value), repeatable")
	return cmd
}

// writeBody pretty-prints JSON bodies and copies anything else verbatim.
func writeBody(w io.Writer, body []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err == nil {
		pretty.WriteByte('\n')
		_, _ = pretty.WriteTo(w)
		return
	}
	_, _ = w.Write(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		fmt.Fprintln(w)
	}
}
