// Package apiclient is the single request facility for the car-rental API. It
// decorates every call with the bearer and CSRF tokens from the credential
// store, and recovers from an expired access token by refreshing once and
// re-issuing the call once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carrental.app/rentalctl/internal/credential"
	"carrental.app/rentalctl/internal/obs"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	RefreshPath = "/api/auth/token/refresh/"
	LoginPath   = "/login"

	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 8 * 1024 * 1024
)

// Navigator performs the hard redirect after an unrecoverable auth failure.
// Implementations discard all in-memory session state.
type Navigator interface {
	Redirect(ctx context.Context, target string)
}

// cookieAbsorber is implemented by stores that accept Set-Cookie headers.
type cookieAbsorber interface {
	Absorb(cookies []*http.Cookie)
}

type Options struct {
	BaseURL     string
	Timeout     time.Duration
	Credentials *credential.Credentials
	// Navigator may be nil, in which case terminal failures only clear credentials.
	Navigator  Navigator
	Metrics    *obs.ClientMetrics
	HTTPClient *http.Client
	// UserAgent defaults to DefaultUserAgent(Version).
	UserAgent string
	Version   string
}

type Client struct {
	baseURL    string
	timeout    time.Duration
	creds      *credential.Credentials
	jar        cookieAbsorber
	nav        Navigator
	metrics    *obs.ClientMetrics
	httpClient *http.Client
	userAgent  string

	refreshes singleflight.Group
}

// Request is one API call. Body is encoded as JSON unless it is already
// []byte or json.RawMessage; it is encoded once so a retry sends the same bytes.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v. An empty body leaves v untouched.
func (r *Response) DecodeJSON(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid api url: %q", opts.BaseURL)
	}
	if opts.Credentials == nil {
		return nil, errors.New("apiclient: credentials are required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent(opts.Version)
	}

	c := &Client{
		baseURL:    base,
		timeout:    timeout,
		creds:      opts.Credentials,
		nav:        opts.Navigator,
		metrics:    opts.Metrics,
		httpClient: httpClient,
		userAgent:  userAgent,
	}
	if jar, ok := opts.Credentials.Store().(cookieAbsorber); ok {
		c.jar = jar
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetNavigator installs the redirect target after construction; the session
// holder is built on top of the client and registers itself here.
func (c *Client) SetNavigator(nav Navigator) {
	c.nav = nav
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path})
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body})
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

// Do sends req. Non-2xx answers come back as *APIError. A 401 is retried once
// after a successful refresh; if the refresh fails the credentials are cleared,
// the navigator is sent to /login and the error matches ErrSessionExpired.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("apiclient: nil request")
	}
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, &APIError{Method: methodOf(req), Path: req.Path, Err: err}
	}
	return c.run(ctx, attempt{req: req, body: body, n: firstAttempt})
}

func (c *Client) run(ctx context.Context, a attempt) (*Response, error) {
	httpReq, sentToken, err := c.newRequest(ctx, a)
	if err != nil {
		return nil, err
	}
	resp, err := c.execute(httpReq, a.req.Path)
	if err == nil || !IsUnauthorized(err) {
		return resp, err
	}

	retry, ok := a.next()
	if !ok {
		log.Debug().Str("path", a.req.Path).Msg("Retried request rejected again, giving up")
		return nil, err
	}

	// Another caller may already have refreshed while this request was in flight.
	if current, ok := c.creds.AccessToken(); ok && sentToken != "" && current != sentToken {
		c.metrics.ObserveRetry()
		return c.run(ctx, retry)
	}

	refreshToken, ok := c.creds.RefreshToken()
	if !ok {
		c.metrics.ObserveRefresh(obs.RefreshSkipped)
		return nil, err
	}

	if rerr := c.refresh(ctx, refreshToken); rerr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.teardown(ctx)
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, rerr)
	}

	c.metrics.ObserveRetry()
	return c.run(ctx, retry)
}

func (c *Client) teardown(ctx context.Context) {
	log.Warn().Msg("Token refresh failed, clearing credentials")
	c.creds.Clear()
	if c.nav != nil {
		c.nav.Redirect(ctx, LoginPath)
	}
}

// newRequest builds and decorates the outgoing request, returning the bearer
// token it carries ("" when none).
func (c *Client) newRequest(ctx context.Context, a attempt) (*http.Request, string, error) {
	method := methodOf(a.req)
	var body io.Reader
	if a.body != nil {
		body = bytes.NewReader(a.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.url(a.req.Path, a.req.Query), body)
	if err != nil {
		return nil, "", &APIError{Method: method, Path: a.req.Path, Err: err}
	}
	for k, vs := range a.req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if a.body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.setTransportHeaders(httpReq.Header)
	return httpReq, c.decorate(httpReq.Header, method), nil
}

// decorate attaches the bearer token and, for mutating methods, the CSRF token.
// It never fails: missing tokens simply mean missing headers.
func (c *Client) decorate(h http.Header, method string) string {
	h.Del("Authorization")
	h.Del("X-CSRFToken")

	token, ok := c.creds.AccessToken()
	if ok {
		h.Set("Authorization", "Bearer "+token)
	}
	if isMutating(method) {
		if csrf, ok := c.creds.CSRFToken(); ok {
			h.Set("X-CSRFToken", csrf)
		}
	}
	return token
}

func (c *Client) setTransportHeaders(h http.Header) {
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	h.Set("User-Agent", c.userAgent)
	h.Set("X-Request-ID", uuid.NewString())
}

// execute sends an already decorated request and reads the whole response.
func (c *Client) execute(req *http.Request, path string) (*Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(req.Method, 0)
		log.Debug().Err(err).Str("method", req.Method).Str("path", path).Msg("API request failed")
		return nil, &APIError{Method: req.Method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if c.jar != nil {
		c.jar.Absorb(resp.Cookies())
	}
	c.metrics.ObserveRequest(req.Method, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{Method: req.Method, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	log.Debug().
		Str("method", req.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Dur("took", time.Since(start)).
		Msg("API request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: req.Method, Path: path, StatusCode: resp.StatusCode, Body: data}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + ensureLeadingSlash(path)
	if len(query) == 0 {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&" + query.Encode()
	}
	return u + "?" + query.Encode()
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return data, nil
	}
}

func methodOf(req *Request) string {
	m := strings.ToUpper(strings.TrimSpace(req.Method))
	if m == "" {
		return http.MethodGet
	}
	return m
}

func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func ensureLeadingSlash(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	if strings.HasPrefix(trimmed, "/") {
		return trimmed
	}
	return "/" + trimmed
}
