package session

import (
	"context"
	"errors"

	"carrental.app/rentalctl/internal/apiclient"
	"github.com/rs/zerolog/log"
)

const (
	MsgProfileUpdated       = "Profile updated successfully!"
	MsgProfileUpdateFailed  = "Failed to update profile."
	MsgPasswordChanged      = "Password changed successfully!"
	MsgPasswordMismatch     = "New passwords do not match."
	MsgPasswordTooShort     = "Password must be at least 8 characters."
	MsgPasswordChangeFailed = "Failed to change password."
)

// ProfileUpdate is a partial update; nil fields are left out of the request.
type ProfileUpdate struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
}

func (p ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.PhoneNumber == nil
}

type PasswordChange struct {
	OldPassword        string `json:"old_password"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

// UpdateProfile patches the profile and then reloads the user.
func (s *Service) UpdateProfile(ctx context.Context, p ProfileUpdate) Result {
	if _, err := s.api.Patch(ctx, MeEndpoint, p); err != nil {
		log.Debug().Err(err).Msg("Profile update failed")
		return failed(detailOr(err, MsgProfileUpdateFailed))
	}
	if err := s.RefreshUser(ctx); err != nil {
		log.Warn().Err(err).Msg("Profile updated but reload failed")
	}
	return Result{Success: true, Message: MsgProfileUpdated}
}

// ChangePassword validates locally, then asks the API to change the password.
func (s *Service) ChangePassword(ctx context.Context, c PasswordChange) Result {
	if c.NewPassword != c.ConfirmNewPassword {
		return failed(MsgPasswordMismatch)
	}
	if len([]rune(c.NewPassword)) < 8 {
		return failed(MsgPasswordTooShort)
	}

	if _, err := s.api.Put(ctx, PasswordChangeEndpoint, c); err != nil {
		log.Debug().Err(err).Msg("Password change failed")
		return failed(passwordErrorMessage(err))
	}
	return Result{Success: true, Message: MsgPasswordChanged}
}

func passwordErrorMessage(err error) string {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		return MsgPasswordChangeFailed
	}
	fields := apiErr.FieldErrors()
	for _, key := range []string{"old_password", "new_password"} {
		if msgs := fields[key]; len(msgs) > 0 {
			return msgs[0]
		}
	}
	if d := apiErr.Detail(); d != "" {
		return d
	}
	return MsgPasswordChangeFailed
}

func detailOr(err error, fallback string) string {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		if d := apiErr.Detail(); d != "" {
			return d
		}
	}
	return fallback
}
