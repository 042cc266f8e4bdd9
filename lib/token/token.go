// Package token issues and verifies the signed session tokens handed out after
// registration and login.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSignatureInvalid = errors.New("token: signature invalid")
	ErrExpired          = errors.New("token: expired")
	ErrMalformed        = errors.New("token: malformed")
	ErrNoSecret         = errors.New("token: signing secret is empty")
)

// Claims are the verified contents of a token.
type Claims struct {
	SubjectID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs and verifies HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the clock used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// New creates an Issuer whose tokens are valid for ttl.
func New(secret []byte, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}

	i := &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	return i, nil
}

// Issue signs a token for subject with the given secret that expires after ttl.
func Issue(secret []byte, ttl time.Duration, subject int64) (string, error) {
	i, err := New(secret, ttl)
	if err != nil {
		return "", err
	}

	return i.Issue(subject)
}

// Verify checks a token signed with secret against the current time.
func Verify(secret []byte, tokenString string) (*Claims, error) {
	i, err := New(secret, 0)
	if err != nil {
		return nil, err
	}

	return i.Verify(tokenString)
}

// TTL is how long issued tokens stay valid.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for the given user id.
func (i *Issuer) Issue(subject int64) (string, error) {
	now := i.now()

	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(subject, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: can't sign: %w", err)
	}

	return signed, nil
}

// Verify checks the signature before the expiry and returns the claims of a
// valid token. The error is one of ErrSignatureInvalid, ErrExpired or
// ErrMalformed.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	var claims jwt.RegisteredClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrExpired, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: subject %q is not a user id", ErrMalformed, claims.Subject)
	}

	result := &Claims{
		SubjectID: id,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}

	return result, nil
}
