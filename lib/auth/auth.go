// Package auth gates registration and login on captchas and turns credentials
// into session tokens.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gatekeeper-auth/gatekeeper/lib/challenge"
	"github.com/gatekeeper-auth/gatekeeper/lib/password"
	"github.com/gatekeeper-auth/gatekeeper/lib/store"
	"github.com/gatekeeper-auth/gatekeeper/lib/token"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MinPasswordLength = 6
)

// Hasher turns passwords into encoded credential hashes and checks them.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) (bool, error)
}

// Tokens issues and verifies session tokens.
type Tokens interface {
	Issue(subject int64) (string, error)
	Verify(tokenString string) (*token.Claims, error)
}

// Service implements the register, login and whoami flows. Apart from a
// lazily computed decoy hash, all state lives in its collaborators.
type Service struct {
	Challenges *challenge.Store
	Issuer     *challenge.Issuer
	Hasher     Hasher
	Tokens     Tokens
	Users      store.Interface

	decoyOnce sync.Once
	decoyHash string
}

// decoyPassword is hashed once per Service and verified against when a login
// names an unknown account, so both failures cost one password verification.
const decoyPassword = "gatekeeper decoy password"

// New creates a Service that issues image captchas into challenges and hashes
// passwords with the default argon2id parameters.
func New(challenges *challenge.Store, users store.Interface, tokens Tokens) *Service {
	return &Service{
		Challenges: challenges,
		Issuer:     challenge.NewIssuer(challenges),
		Hasher:     password.Default,
		Tokens:     tokens,
		Users:      users,
	}
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	ChallengeID string `json:"captcha_id"`
	Challenge   string `json:"captcha"`
}

type LoginRequest struct {
	Account     string `json:"account"`
	Password    string `json:"password"`
	ChallengeID string `json:"captcha_id"`
	Challenge   string `json:"captcha"`
}

// Identity is the public view of a user.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// IssueChallenge renders a new captcha and makes it answerable.
func (s *Service) IssueChallenge(context.Context) (*challenge.Challenge, error) {
	chall, err := s.Issuer.New()
	if err != nil {
		return nil, internalError(err)
	}

	return chall, nil
}

// VerifyChallenge answers a captcha outside of register or login. A correct
// answer consumes the captcha.
func (s *Service) VerifyChallenge(id, code string) bool {
	return s.Challenges.VerifyAndConsume(id, code)
}

// Register creates an account and returns a session token for it.
//
// The captcha is consumed before anything else is looked at, so a request
// that fails validation still burns its captcha. Validation happens before the
// password is hashed or anything is written. If signing the token fails the
// account still exists and the client can log in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (tok string, err error) {
	defer func() { observe("register", err) }()

	if !s.Challenges.VerifyAndConsume(req.ChallengeID, req.Challenge) {
		return "", newError(BadRequest, MsgInvalidCaptcha, ErrChallengeFailed)
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
		return "", newError(BadRequest, MsgInvalidUsername, ErrInvalidInput)
	}

	if !strings.Contains(email, "@") {
		return "", newError(BadRequest, MsgInvalidEmail, ErrInvalidInput)
	}

	if utf8.RuneCountInString(req.Password) < MinPasswordLength {
		return "", newError(BadRequest, MsgPasswordTooShort, ErrInvalidInput)
	}

	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return "", internalError(err)
	}

	id, err := s.Users.CreateUser(ctx, username, email, hash)
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		return "", newError(Conflict, MsgAccountExists, err)
	case err != nil:
		return "", internalError(err)
	}

	tok, err = s.Tokens.Issue(id)
	if err != nil {
		return "", internalError(err)
	}

	return tok, nil
}

// Login checks a username or email and password pair and returns a session
// token. An unknown account and a wrong password fail identically.
func (s *Service) Login(ctx context.Context, req LoginRequest) (tok string, err error) {
	defer func() { observe("login", err) }()

	if !s.Challenges.VerifyAndConsume(req.ChallengeID, req.Challenge) {
		return "", newError(BadRequest, MsgInvalidCaptcha, ErrChallengeFailed)
	}

	account := strings.TrimSpace(req.Account)
	if account == "" || req.Password == "" {
		return "", newError(BadRequest, MsgMissingCredentials, ErrInvalidInput)
	}

	u, err := s.Users.FindUserByAccount(ctx, account)
	switch {
	case errors.Is(err, store.ErrNotFound):
		_, _ = s.Hasher.Verify(req.Password, s.decoy())
		return "", newError(BadRequest, MsgInvalidCredentials, ErrBadCredentials)
	case err != nil:
		return "", internalError(err)
	}

	ok, err := s.Hasher.Verify(req.Password, u.PasswordHash)
	switch {
	case errors.Is(err, password.ErrFormat):
		return "", newError(BadRequest, MsgInvalidCredentials, errors.Join(ErrBadCredentials, err))
	case err != nil:
		return "", internalError(err)
	}
	if !ok {
		return "", newError(BadRequest, MsgInvalidCredentials, ErrBadCredentials)
	}

	tok, err = s.Tokens.Issue(u.ID)
	if err != nil {
		return "", internalError(err)
	}

	return tok, nil
}

// decoy returns a hash of decoyPassword made with s.Hasher. If hashing fails
// the decoy is empty and verifying against it fails fast.
func (s *Service) decoy() string {
	s.decoyOnce.Do(func() {
		hash, err := s.Hasher.Hash(decoyPassword)
		if err != nil {
			slog.Error("can't hash decoy password", "err", err)
			return
		}
		s.decoyHash = hash
	})

	return s.decoyHash
}

// WhoAmI resolves the value of an Authorization header to the user its
// bearer token was issued for.
func (s *Service) WhoAmI(ctx context.Context, authorization string) (id *Identity, err error) {
	defer func() { observe("whoami", err) }()

	raw, ok := ParseBearer(authorization)
	if !ok {
		return nil, newError(Unauthorized, MsgMissingToken, ErrMissingToken)
	}

	claims, err := s.Tokens.Verify(raw)
	if err != nil {
		return nil, newError(Unauthorized, MsgInvalidToken, err)
	}

	u, err := s.Users.FindUserByID(ctx, claims.SubjectID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, newError(Unauthorized, MsgUnknownUser, errors.Join(ErrUnknownUser, err))
	case err != nil:
		return nil, internalError(err)
	}

	return &Identity{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
	}, nil
}

// Ready reports whether the user store can serve requests.
func (s *Service) Ready(ctx context.Context) error {
	return s.Users.Ping(ctx)
}

// ParseBearer extracts the token from an Authorization header value. The
// scheme is matched case-insensitively and must be followed by whitespace.
func ParseBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)

	const scheme = "bearer"
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", false
	}

	rest := header[len(scheme):]
	if rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}

	tok := strings.TrimSpace(rest)
	if tok == "" {
		return "", false
	}

	return tok, true
}
