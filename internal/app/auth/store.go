package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// userStore is the SQL dialect behind Service.
type userStore interface {
	lookup(ctx context.Context, key string) (username, hash string, found bool, err error)
	insert(ctx context.Context, id uuid.UUID, username, key, hash string) error
	touchLogin(ctx context.Context, key string, at time.Time) error
}

func NewPostgresService(db *pgxpool.Pool, jwtSecret string, jwtTTL time.Duration) *Service {
	return newService(pgUsers{db: db}, jwtSecret, jwtTTL)
}

func NewSQLiteService(db *sql.DB, jwtSecret string, jwtTTL time.Duration) *Service {
	return newService(sqlUsers{db: db}, jwtSecret, jwtTTL)
}

type pgUsers struct {
	db *pgxpool.Pool
}

func (p pgUsers) lookup(ctx context.Context, key string) (string, string, bool, error) {
	var username, hash string
	err := p.db.QueryRow(ctx, `SELECT username, password_hash FROM users WHERE username_key = $1`, key).Scan(&username, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	return username, hash, true, nil
}

func (p pgUsers) insert(ctx context.Context, id uuid.UUID, username, key, hash string) error {
	_, err := p.db.Exec(ctx, `
INSERT INTO users (id, username, username_key, password_hash)
VALUES ($1, $2, $3, $4)
`, id.String(), username, key, hash)
	return err
}

func (p pgUsers) touchLogin(ctx context.Context, key string, at time.Time) error {
	_, err := p.db.Exec(ctx, `UPDATE users SET last_login = $1 WHERE username_key = $2`, at, key)
	return err
}

type sqlUsers struct {
	db *sql.DB
}

func (s sqlUsers) lookup(ctx context.Context, key string) (string, string, bool, error) {
	var username, hash string
	err := s.db.QueryRowContext(ctx, `SELECT username, password_hash FROM users WHERE username_key = ?`, key).Scan(&username, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	return username, hash, true, nil
}

func (s sqlUsers) insert(ctx context.Context, id uuid.UUID, username, key, hash string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, username, username_key, password_hash)
VALUES (?, ?, ?, ?)
`, id.String(), username, key, hash)
	return err
}

func (s sqlUsers) touchLogin(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE username_key = ?`, at, key)
	return err
}
