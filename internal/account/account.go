package account

import (
	"errors"
	"sort"
	"strings"
	"time"
)

type Role string

const (
	RoleCustomer    Role = "CUSTOMER"
	RoleAgencyAdmin Role = "AGENCY_ADMIN"
	RoleAgencyStaff Role = "AGENCY_STAFF"
)

var (
	ErrInvalidCredentials = errors.New("no active account found with the given credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrUserNotFound       = errors.New("user not found")
)

type User struct {
	ID              int64     `json:"id"`
	Email           string    `json:"email"`
	Username        string    `json:"username"`
	PasswordHash    string    `json:"-"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	PhoneNumber     string    `json:"phone_number"`
	Avatar          string    `json:"avatar,omitempty"`
	Role            Role      `json:"role"`
	IsApproved      bool      `json:"is_approved"`
	IsPendingAgency bool      `json:"is_pending_agency"`
	AgencyName      string    `json:"agency_name,omitempty"`
	FailedLogins    int       `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Name is the display name the API reports next to the profile fields.
func (u *User) Name() string {
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	return u.Username
}

type CreateUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	Username    string `json:"username"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Role        Role   `json:"role"`
	AgencyName  string `json:"agency_name"`
}

type UpdateProfileRequest struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
}

type ChangePasswordRequest struct {
	OldPassword        string `json:"old_password"`
	NewPassword        string `json:"new_password"`
	ConfirmNewPassword string `json:"confirm_new_password"`
}

// ValidationError carries field-keyed messages, rendered as {"field": ["msg"]}.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+strings.Join(e.Fields[name], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// UserView is the user representation returned by the API.
type UserView struct {
	ID              int64  `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	PhoneNumber     string `json:"phone_number"`
	Avatar          string `json:"avatar,omitempty"`
	Role            Role   `json:"role"`
	IsApproved      bool   `json:"is_approved"`
	IsPendingAgency bool   `json:"is_pending_agency"`
	AgencyName      string `json:"agency_name,omitempty"`
}

func (u *User) View() UserView {
	return UserView{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name(),
		Username:        u.Username,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		PhoneNumber:     u.PhoneNumber,
		Avatar:          u.Avatar,
		Role:            u.Role,
		IsApproved:      u.IsApproved,
		IsPendingAgency: u.IsPendingAgency,
		AgencyName:      u.AgencyName,
	}
}
