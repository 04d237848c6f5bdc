package session

import (
	"context"
	"errors"
	"strings"

	"carrental.app/rentalctl/internal/apiclient"
)

const (
	MsgRegistered          = "Registration successful. Please log in."
	MsgRegisterUnavailable = "Unable to register right now. Please try again later."
	MsgRegisterFailed      = "Registration failed."
)

type Registration struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name,omitempty"`
	Username    string `json:"username,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Role        Role   `json:"role,omitempty"`
}

// Register creates an account. The session is left untouched either way;
// the caller sends the user to login afterwards.
func (s *Service) Register(ctx context.Context, r Registration) Result {
	if _, err := s.api.Post(ctx, RegisterEndpoint, r); err != nil {
		return failed(registerErrorMessage(err))
	}
	return Result{Success: true, Message: MsgRegistered}
}

func registerErrorMessage(err error) string {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		return MsgRegisterUnavailable
	}
	if apiErr.Transport() || apiErr.StatusCode >= 500 {
		return MsgRegisterUnavailable
	}
	if msg := AggregateFieldErrors(apiErr); msg != "" {
		return msg
	}
	if text := apiErr.Text(); text != "" {
		return text
	}
	return MsgRegisterFailed
}

// AggregateFieldErrors flattens a field-keyed validation body into one line:
// "email: msg; password: msg1 msg2". Fields are sorted; non_field_errors and
// detail are included without a prefix and the machine-readable code is dropped.
func AggregateFieldErrors(apiErr *apiclient.APIError) string {
	fields := apiErr.FieldErrors()
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, name := range apiErr.Fields() {
		msgs := strings.Join(fields[name], " ")
		switch name {
		case "code":
			continue
		case "non_field_errors", "detail":
			parts = append(parts, msgs)
		default:
			parts = append(parts, name+": "+msgs)
		}
	}
	return strings.Join(parts, "; ")
}
