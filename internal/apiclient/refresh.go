package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"carrental.app/rentalctl/internal/obs"
	"github.com/rs/zerolog/log"
)

var errNoAccessInRefresh = errors.New("refresh response carried no access token")

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// refresh exchanges refreshToken for a new access token. Concurrent callers
// holding the same refresh token share one exchange; the exchange itself is
// detached from any single caller's cancellation.
func (c *Client) refresh(ctx context.Context, refreshToken string) error {
	ch := c.refreshes.DoChan(refreshToken, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return nil, c.exchange(rctx, refreshToken)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// exchange posts the refresh token without any of the usual decoration.
func (c *Client) exchange(ctx context.Context, refreshToken string) error {
	log.Debug().Msg("Access token rejected, refreshing")

	payload, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(RefreshPath, nil), bytes.NewReader(payload))
	if err != nil {
		return &APIError{Method: http.MethodPost, Path: RefreshPath, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.setTransportHeaders(req.Header)

	resp, err := c.execute(req, RefreshPath)
	if err != nil {
		c.metrics.ObserveRefresh(obs.RefreshFailed)
		return err
	}

	var out refreshResponse
	if err := resp.DecodeJSON(&out); err != nil {
		c.metrics.ObserveRefresh(obs.RefreshFailed)
		return &APIError{Method: http.MethodPost, Path: RefreshPath, StatusCode: resp.StatusCode, Body: resp.Body, Err: err}
	}
	if out.Access == "" {
		c.metrics.ObserveRefresh(obs.RefreshFailed)
		return &APIError{Method: http.MethodPost, Path: RefreshPath, StatusCode: resp.StatusCode, Body: resp.Body, Err: errNoAccessInRefresh}
	}

	c.creds.SaveRefreshed(out.Access, out.Refresh)
	c.metrics.ObserveRefresh(obs.RefreshSucceeded)
	log.Debug().Bool("rotated", out.Refresh != "").Msg("Access token refreshed")
	return nil
}
