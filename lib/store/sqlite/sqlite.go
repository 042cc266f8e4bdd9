// Package sqlite stores users in a SQLite database through the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gatekeeper-auth/gatekeeper/lib/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store implements store.Interface on a users table with UNIQUE constraints on
// username and email. Uniqueness is left to the database so that concurrent
// registrations can't both win.
type Store struct {
	db *sql.DB
}

func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)",
		username, email, passwordHash,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, fmt.Errorf("%w: %w", store.ErrDuplicateKey, err)
		}
		return 0, fmt.Errorf("can't insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("can't get id of new user: %w", err)
	}

	return id, nil
}

func (s *Store) FindUserByAccount(ctx context.Context, account string) (*store.User, error) {
	return s.findOne(ctx,
		"SELECT id, username, email, password_hash FROM users WHERE username = ? OR email = ? ORDER BY username = ? DESC LIMIT 1",
		account, account, account,
	)
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (*store.User, error) {
	return s.findOne(ctx,
		"SELECT id, username, email, password_hash FROM users WHERE id = ?",
		id,
	)
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (*store.User, error) {
	var u store.User

	err := s.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %v", store.ErrNotFound, args[0])
	case err != nil:
		return nil, fmt.Errorf("can't query user: %w", err)
	}

	return &u, nil
}

// Ping runs the cheapest possible query against the database.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isConstraintViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}

	return serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
