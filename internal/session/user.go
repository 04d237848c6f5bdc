package session

import "strings"

type Role string

const (
	RoleCustomer    Role = "CUSTOMER"
	RoleAgencyAdmin Role = "AGENCY_ADMIN"
	RoleAgencyStaff Role = "AGENCY_STAFF"
)

// IsAgency reports whether the role belongs to an agency account.
func (r Role) IsAgency() bool {
	return r == RoleAgencyAdmin || r == RoleAgencyStaff
}

// Satisfies reports whether r may access something requiring required.
// Agency staff counts as agency admin; an empty requirement admits everyone.
func (r Role) Satisfies(required Role) bool {
	if required == "" || r == required {
		return true
	}
	return required == RoleAgencyAdmin && r == RoleAgencyStaff
}

// User is the profile returned by /api/auth/me/ and by login.
type User struct {
	ID              int64  `json:"id" yaml:"id"`
	Email           string `json:"email" yaml:"email"`
	Name            string `json:"name,omitempty" yaml:"name,omitempty"`
	Username        string `json:"username,omitempty" yaml:"username,omitempty"`
	FirstName       string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	Role            Role   `json:"role" yaml:"role"`
	IsApproved      bool   `json:"is_approved" yaml:"is_approved"`
	IsPendingAgency bool   `json:"is_pending_agency" yaml:"is_pending_agency"`
	AgencyName      string `json:"agency_name,omitempty" yaml:"agency_name,omitempty"`
	Avatar          string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
}

func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
