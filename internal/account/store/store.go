package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"carrental.app/rentalctl/internal/account"
)

var userColumns = []string{
	"id", "email", "username", "password_hash", "first_name", "last_name", "phone_number", "avatar",
	"role", "is_approved", "is_pending_agency", "agency_name", "failed_logins", "created_at", "updated_at",
}

type Store struct {
	db *sql.DB
	qb sq.StatementBuilderType
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db: db,
		qb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*account.User, error) {
	return s.getUser(ctx, sq.Eq{"id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*account.User, error) {
	return s.getUser(ctx, sq.Eq{"email": email})
}

func (s *Store) getUser(ctx context.Context, where sq.Eq) (*account.User, error) {
	query, args, err := s.qb.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return nil, err
	}

	var user account.User
	var role string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.PhoneNumber, &user.Avatar, &role, &user.IsApproved, &user.IsPendingAgency, &user.AgencyName,
		&user.FailedLogins, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrUserNotFound
		}
		return nil, err
	}
	user.Role = account.Role(role)
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *account.User) (*account.User, error) {
	now := time.Now().UTC()
	query, args, err := s.qb.
		Insert("users").
		Columns("email", "username", "password_hash", "first_name", "last_name", "phone_number", "avatar",
			"role", "is_approved", "is_pending_agency", "agency_name", "created_at", "updated_at").
		Values(user.Email, user.Username, user.PasswordHash, user.FirstName, user.LastName, user.PhoneNumber, user.Avatar,
			string(user.Role), user.IsApproved, user.IsPendingAgency, user.AgencyName, now, now).
		ToSql()
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) UpdateProfile(ctx context.Context, id int64, req *account.UpdateProfileRequest) (*account.User, error) {
	builder := s.qb.Update("users").Set("updated_at", time.Now().UTC()).Where(sq.Eq{"id": id})
	if req.FirstName != nil {
		builder = builder.Set("first_name", *req.FirstName)
	}
	if req.LastName != nil {
		builder = builder.Set("last_name", *req.LastName)
	}
	if req.PhoneNumber != nil {
		builder = builder.Set("phone_number", *req.PhoneNumber)
	}
	if err := s.execOne(ctx, builder); err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.execOne(ctx, s.qb.Update("users").
		Set("password_hash", hash).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}))
}

// RecordFailedLogin increments the failure counter and returns its new value.
func (s *Store) RecordFailedLogin(ctx context.Context, id int64) (int, error) {
	if err := s.execOne(ctx, s.qb.Update("users").
		Set("failed_logins", sq.Expr("failed_logins + 1")).
		Where(sq.Eq{"id": id})); err != nil {
		return 0, err
	}
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return user.FailedLogins, nil
}

func (s *Store) ResetFailedLogins(ctx context.Context, id int64) error {
	return s.execOne(ctx, s.qb.Update("users").Set("failed_logins", 0).Where(sq.Eq{"id": id}))
}

func (s *Store) execOne(ctx context.Context, builder sq.UpdateBuilder) error {
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return account.ErrUserNotFound
	}
	return nil
}
