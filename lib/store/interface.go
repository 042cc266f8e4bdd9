package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the store implementation cannot find the
	// requested user.
	ErrNotFound = errors.New("store: user not found")

	// ErrDuplicateKey is returned when a new user would collide with an existing
	// username or email.
	ErrDuplicateKey = errors.New("store: username or email already taken")

	// ErrCantDecode is returned when a store adaptor cannot decode the store format
	// to a User.
	ErrCantDecode = errors.New("store: can't decode value")

	// ErrCantEncode is returned when a store adaptor cannot encode a User into
	// the format that the store uses.
	ErrCantEncode = errors.New("store: can't encode value")

	// ErrBadConfig is returned when a store adaptor's connection string is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// User is a registered account. PasswordHash is an encoded credential hash and
// must never leave the server.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// Interface defines the calls that Gatekeeper uses to persist user records in a
// local or remote datastore. Usernames and emails are each unique, and ids are
// assigned by the store.
type Interface interface {
	// CreateUser inserts a new user and returns its id. It returns
	// ErrDuplicateKey if the username or email is already taken.
	CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error)

	// FindUserByAccount looks a user up by username or email.
	FindUserByAccount(ctx context.Context, account string) (*User, error)

	// FindUserByID looks a user up by id.
	FindUserByID(ctx context.Context, id int64) (*User, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}
