package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"carrental.app/rentalctl/internal/apiclient"
	"carrental.app/rentalctl/internal/credential"
	"github.com/rs/zerolog/log"
)

const (
	MsgInvalidCredentials = "Invalid email or password."
	MsgAccountLocked      = "Your account is locked. Please try again later or contact support."
	MsgLoginUnavailable   = "Unable to sign in right now. Please try again later."
	MsgPasswordPolicy     = "Password must be at least 8 characters and include uppercase, lowercase, and a number."

	lockedCode = "account_locked"
)

// Credentials are what the user types into the login form.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    *User  `json:"user"`
}

// TooManyAttempts is the throttle message for a remaining cooldown.
func TooManyAttempts(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("Too many failed attempts. Please wait %d seconds before trying again.", secs)
}

// CheckPasswordPolicy reports whether password has at least 8 characters with
// an upper case letter, a lower case letter and a digit.
func CheckPasswordPolicy(password string) bool {
	if len([]rune(password)) < 8 {
		return false
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return upper && lower && digit
}

// Login signs in and stores the token pair, persistent for the retention
// window when rememberMe is set. Failures never say whether the email exists.
func (s *Service) Login(ctx context.Context, c Credentials, rememberMe bool) Result {
	s.mu.RLock()
	wait, blocked := s.throttle.blocked(s.now())
	s.mu.RUnlock()
	if blocked {
		return Result{Error: TooManyAttempts(wait), RetryAfter: wait}
	}

	if !CheckPasswordPolicy(c.Password) {
		return failed(MsgPasswordPolicy)
	}

	// Stale tokens must not send a bad-password 401 down the refresh path,
	// and the user goes with them.
	s.Logout()

	resp, err := s.api.Post(ctx, LoginEndpoint, c)
	if err != nil {
		return s.loginFailed(loginErrorMessage(err))
	}

	var out loginResponse
	if err := resp.DecodeJSON(&out); err != nil || out.Access == "" || out.Refresh == "" {
		log.Error().Err(err).Msg("Login response carried no token pair")
		return s.loginFailed(MsgLoginUnavailable)
	}

	s.creds.SaveLogin(credential.Pair{Access: out.Access, Refresh: out.Refresh}, rememberMe)

	user := out.User
	if user == nil {
		// Some deployments only return tokens; fall back to /me.
		if user, err = s.fetchMe(ctx); err != nil || user == nil {
			log.Warn().Err(err).Msg("Signed in but failed to load the profile")
			s.creds.Clear()
			return failed(MsgLoginUnavailable)
		}
	}

	s.mu.Lock()
	s.throttle.reset()
	s.user = user
	s.redirectedTo = ""
	s.mu.Unlock()

	log.Info().Bool("remember_me", rememberMe).Msg("Signed in")
	return Result{Success: true}
}

func (s *Service) loginFailed(msg string) Result {
	now := s.now()
	s.mu.Lock()
	locked := s.throttle.fail(now)
	wait, _ := s.throttle.blocked(now)
	s.mu.Unlock()

	if locked {
		return Result{Error: TooManyAttempts(wait), RetryAfter: wait}
	}
	return failed(msg)
}

func loginErrorMessage(err error) string {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		return MsgLoginUnavailable
	}
	switch {
	case apiErr.Transport(), apiErr.StatusCode >= 500:
		return MsgLoginUnavailable
	case apiErr.StatusCode == http.StatusLocked, apiErr.Code() == lockedCode:
		return MsgAccountLocked
	default:
		return MsgInvalidCredentials
	}
}
