// Package session holds who is logged in. One Service exists per running
// application; it is built explicitly and handed to whatever needs it.
package session

import (
	"context"
	"sync"
	"time"

	"carrental.app/rentalctl/internal/apiclient"
	"carrental.app/rentalctl/internal/credential"
	"github.com/rs/zerolog/log"
)

const (
	LoginEndpoint          = "/api/auth/login/"
	RegisterEndpoint       = "/api/auth/register/"
	MeEndpoint             = "/api/auth/me/"
	PasswordChangeEndpoint = "/api/auth/password/change/"
)

// API is the part of apiclient.Client the session uses.
type API interface {
	Get(ctx context.Context, path string) (*apiclient.Response, error)
	Post(ctx context.Context, path string, body any) (*apiclient.Response, error)
	Put(ctx context.Context, path string, body any) (*apiclient.Response, error)
	Patch(ctx context.Context, path string, body any) (*apiclient.Response, error)
}

// Result is what feature operations hand back to the UI layer instead of an error.
type Result struct {
	Success bool
	Error   string
	// Message is a confirmation text for successful operations.
	Message string
	// RetryAfter is set when a login was refused by the throttle.
	RetryAfter time.Duration
}

func failed(msg string) Result {
	return Result{Error: msg}
}

type Options struct {
	API         API
	Credentials *credential.Credentials
	// MaxFailedLogins and LockoutDuration configure the login throttle (defaults 5 and 30s).
	MaxFailedLogins int
	LockoutDuration time.Duration
}

type Service struct {
	api   API
	creds *credential.Credentials
	now   func() time.Time

	mu           sync.RWMutex
	user         *User
	loading      bool
	redirectedTo string
	throttle     throttle

	initOnce sync.Once
	ready    chan struct{}
}

func New(opts Options) *Service {
	return &Service{
		api:      opts.API,
		creds:    opts.Credentials,
		now:      time.Now,
		loading:  true,
		throttle: newThrottle(opts.MaxFailedLogins, opts.LockoutDuration),
		ready:    make(chan struct{}),
	}
}

// Initialize loads the current user when an access token is stored. It runs
// once; later calls return immediately. Failures leave the user anonymous,
// since refresh and redirect are the API client's business.
func (s *Service) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		defer s.finishLoading()

		if _, ok := s.creds.AccessToken(); !ok {
			return
		}
		user, err := s.fetchMe(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to fetch user profile")
			return
		}
		s.setUser(user)
	})
}

func (s *Service) finishLoading() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
	close(s.ready)
}

// Ready is closed once Initialize has resolved.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until Initialize has resolved or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// User returns a copy of the current user, or nil when anonymous.
func (s *Service) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.clone()
}

func (s *Service) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// Logout drops both tokens and the user. It never touches the network.
func (s *Service) Logout() {
	s.creds.Clear()
	s.setUser(nil)
}

// RefreshUser re-reads the profile from the API.
func (s *Service) RefreshUser(ctx context.Context) error {
	user, err := s.fetchMe(ctx)
	if err != nil {
		return err
	}
	s.setUser(user)
	return nil
}

// Redirect implements apiclient.Navigator. The API client calls it after a
// failed refresh; every piece of in-memory session state is discarded.
func (s *Service) Redirect(_ context.Context, target string) {
	s.mu.Lock()
	s.user = nil
	s.redirectedTo = target
	s.mu.Unlock()
	log.Warn().Str("target", target).Msg("Session expired, please log in again")
}

// RedirectedTo returns the target of the last hard redirect, or "".
func (s *Service) RedirectedTo() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redirectedTo
}

func (s *Service) fetchMe(ctx context.Context) (*User, error) {
	resp, err := s.api.Get(ctx, MeEndpoint)
	if err != nil {
		return nil, err
	}
	var user User
	if err := resp.DecodeJSON(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) setUser(u *User) {
	s.mu.Lock()
	s.user = u
	if u != nil {
		s.redirectedTo = ""
	}
	s.mu.Unlock()
}
