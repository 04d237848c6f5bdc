package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	msgRequired        = "This field is required."
	msgInvalidEmail    = "Enter a valid email address."
	msgEmailTaken      = "user with this email already exists."
	msgPasswordShort   = "This password is too short. It must contain at least 8 characters."
	msgPasswordWeak    = "This password must contain an uppercase letter, a lowercase letter and a digit."
	msgInvalidPhone    = "Enter a valid phone number."
	msgWrongPassword   = "Old password is not correct."
	msgPasswordsDiffer = "The two password fields didn't match."
)

var phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-]{6,20}$`)

type Storer interface {
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user *User) (*User, error)
	UpdateProfile(ctx context.Context, id int64, req *UpdateProfileRequest) (*User, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	RecordFailedLogin(ctx context.Context, id int64) (int, error)
	ResetFailedLogins(ctx context.Context, id int64) error
}

type Service struct {
	store           Storer
	maxFailedLogins int
	// dummyHash keeps unknown-email logins as slow as wrong-password ones.
	dummyHash []byte
}

func NewService(store Storer, maxFailedLogins int) *Service {
	if maxFailedLogins <= 0 {
		maxFailedLogins = 5
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)
	return &Service{store: store, maxFailedLogins: maxFailedLogins, dummyHash: dummy}
}

// EnsureSeedAccount creates a customer account for local development when
// email is set and no account with that email exists yet.
func (s *Service) EnsureSeedAccount(ctx context.Context, email, password string) error {
	if email == "" {
		return nil
	}
	if _, err := s.store.GetUserByEmail(ctx, normalizeEmail(email)); err == nil {
		return nil
	}
	user, err := s.Register(ctx, &CreateUserRequest{Email: email, Password: password, Name: "Demo Customer"})
	if err != nil {
		return fmt.Errorf("seed account: %w", err)
	}
	log.Info().Str("email", user.Email).Msg("Seeded demo account")
	return nil
}

// Register validates req and creates the account. Validation problems come
// back as *ValidationError keyed by request field.
func (s *Service) Register(ctx context.Context, req *CreateUserRequest) (*User, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	user, err := s.validateRegistration(ctx, req)
	if err != nil {
		return nil, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	return s.store.CreateUser(ctx, user)
}

func (s *Service) validateRegistration(ctx context.Context, req *CreateUserRequest) (*User, error) {
	verr := &ValidationError{}

	email := normalizeEmail(req.Email)
	switch {
	case email == "":
		verr.add("email", msgRequired)
	case !validEmail(email):
		verr.add("email", msgInvalidEmail)
	default:
		if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
			verr.add("email", msgEmailTaken)
		} else if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}

	for _, msg := range passwordProblems(req.Password) {
		verr.add("password", msg)
	}

	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	if first == "" && last == "" {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			verr.add("name", msgRequired)
		}
		first, last, _ = strings.Cut(name, " ")
		last = strings.TrimSpace(last)
	}

	phone := strings.TrimSpace(req.PhoneNumber)
	if phone != "" && !phonePattern.MatchString(phone) {
		verr.add("phone_number", msgInvalidPhone)
	}

	user := &User{
		Email:       email,
		Username:    strings.TrimSpace(req.Username),
		FirstName:   first,
		LastName:    last,
		PhoneNumber: phone,
		Role:        RoleCustomer,
		IsApproved:  true,
	}
	switch req.Role {
	case "", RoleCustomer:
	case RoleAgencyAdmin:
		// agency applicants stay customers until an operator approves them
		user.IsPendingAgency = true
		user.AgencyName = strings.TrimSpace(req.AgencyName)
	default:
		verr.add("role", fmt.Sprintf("%q is not a valid choice.", req.Role))
	}
	if user.Username == "" {
		user.Username, _, _ = strings.Cut(email, "@")
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate checks email and password. Unknown emails and wrong passwords
// yield the same ErrInvalidCredentials; accounts at the failure limit yield
// ErrAccountLocked until a successful login resets them.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if user.FailedLogins >= s.maxFailedLogins {
		return nil, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		failures, rerr := s.store.RecordFailedLogin(ctx, user.ID)
		if rerr != nil {
			return nil, rerr
		}
		log.Warn().Int64("user_id", user.ID).Int("failures", failures).Msg("Failed login")
		return nil, ErrInvalidCredentials
	}

	if user.FailedLogins > 0 {
		if err := s.store.ResetFailedLogins(ctx, user.ID); err != nil {
			return nil, err
		}
		user.FailedLogins = 0
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *Service) GetUserByID(ctx context.Context, id int64) (*User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, id int64, req *UpdateProfileRequest) (*User, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	verr := &ValidationError{}
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		return &v
	}
	req.FirstName, req.LastName, req.PhoneNumber = trim(req.FirstName), trim(req.LastName), trim(req.PhoneNumber)
	if req.PhoneNumber != nil && *req.PhoneNumber != "" && !phonePattern.MatchString(*req.PhoneNumber) {
		verr.add("phone_number", msgInvalidPhone)
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	user, err := s.store.UpdateProfile(ctx, id, req)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, id int64, req *ChangePasswordRequest) error {
	if req == nil {
		return errors.New("request is required")
	}
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	verr := &ValidationError{}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)) != nil {
		verr.add("old_password", msgWrongPassword)
	}
	for _, msg := range passwordProblems(req.NewPassword) {
		verr.add("new_password", msg)
	}
	if req.NewPassword != req.ConfirmNewPassword {
		verr.add("confirm_new_password", msgPasswordsDiffer)
	}
	if err := verr.orNil(); err != nil {
		return err
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.store.SetPasswordHash(ctx, id, hash)
}

func passwordProblems(password string) []string {
	if password == "" {
		return []string{msgRequired}
	}
	var problems []string
	if len([]rune(password)) < 8 {
		problems = append(problems, msgPasswordShort)
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
	if !upper || !lower || !digit {
		problems = append(problems, msgPasswordWeak)
	}
	return problems
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.IndexByte(email, '@')+1:], ".")
}
