package store

import (
	"context"
	"database/sql"
	"time"

	"carrental.app/rentalctl/internal/credential"
	sq "github.com/Masterminds/squirrel"
)

// Store persists remember-me cookies in the cookies table.
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

func (s *Store) Load(ctx context.Context, site string) ([]credential.Cookie, error) {
	query, args, err := s.qb.
		Select("name", "value", "expires_at").
		From("cookies").
		Where(sq.Eq{"site": site}).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cookies := []credential.Cookie{}
	for rows.Next() {
		var c credential.Cookie
		var expiresAt int64
		if err := rows.Scan(&c.Name, &c.Value, &expiresAt); err != nil {
			return nil, err
		}
		c.Expires = time.Unix(expiresAt, 0)
		cookies = append(cookies, c)
	}
	return cookies, rows.Err()
}

func (s *Store) Save(ctx context.Context, site string, c credential.Cookie) error {
	query, args, err := s.qb.
		Insert("cookies").
		Columns("site", "name", "value", "expires_at", "updated_at").
		Values(site, c.Name, c.Value, c.Expires.Unix(), time.Now().Unix()).
		Suffix("ON CONFLICT(site, name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) Delete(ctx context.Context, site, name string) error {
	query, args, err := s.qb.
		Delete("cookies").
		Where(sq.Eq{"site": site, "name": name}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// Purge removes every cookie of site, e.g. when the user wipes local state.
func (s *Store) Purge(ctx context.Context, site string) (int64, error) {
	query, args, err := s.qb.Delete("cookies").Where(sq.Eq{"site": site}).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
