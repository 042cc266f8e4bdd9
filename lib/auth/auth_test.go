package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gatekeeper-auth/gatekeeper/lib/challenge"
	"github.com/gatekeeper-auth/gatekeeper/lib/challenge/challengetest"
	"github.com/gatekeeper-auth/gatekeeper/lib/password"
	"github.com/gatekeeper-auth/gatekeeper/lib/store"
	"github.com/gatekeeper-auth/gatekeeper/lib/store/memory"
	"github.com/gatekeeper-auth/gatekeeper/lib/token"
)

const answer = "AB3D9"

// countingHasher stands in for argon2id so tests stay fast and can tell
// whether hashing happened at all.
type countingHasher struct {
	hashes    atomic.Int32
	verifies  atomic.Int32
	err       error
	verifyErr error
}

func (c *countingHasher) Hash(plain string) (string, error) {
	c.hashes.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return "plain$" + plain, nil
}

func (c *countingHasher) Verify(plain, encoded string) (bool, error) {
	c.verifies.Add(1)
	if c.verifyErr != nil {
		return false, c.verifyErr
	}
	stored, ok := strings.CutPrefix(encoded, "plain$")
	if !ok {
		return false, fmt.Errorf("%w: not a test hash", password.ErrFormat)
	}
	return stored == plain, nil
}

// countingStore wraps a real store and counts writes. If err is set, every
// call fails with it.
type countingStore struct {
	store.Interface
	creates atomic.Int32
	err     error
}

func (c *countingStore) CreateUser(ctx context.Context, username, email, hash string) (int64, error) {
	c.creates.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return c.Interface.CreateUser(ctx, username, email, hash)
}

func (c *countingStore) FindUserByAccount(ctx context.Context, account string) (*store.User, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.Interface.FindUserByAccount(ctx, account)
}

type failingTokens struct{}

func (failingTokens) Issue(int64) (string, error) { return "", errors.New("signer on fire") }
func (failingTokens) Verify(string) (*token.Claims, error) { return nil, token.ErrMalformed }

type fixture struct {
	svc    *Service
	hasher *countingHasher
	users  *countingStore
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		hasher: &countingHasher{},
		users:  &countingStore{Interface: memory.New()},
		now:    time.Date(2025, time.March, 14, 15, 9, 26, 0, time.UTC),
	}

	tokens, err := token.New([]byte("hunter2"), time.Hour, token.WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatal(err)
	}

	challenges := challenge.NewStore()
	f.svc = &Service{
		Challenges: challenges,
		Issuer:     challengetest.New(t, challenges, answer),
		Hasher:     f.hasher,
		Tokens:     tokens,
		Users:      f.users,
	}

	return f
}

// captcha issues a fresh captcha and returns its id.
func (f *fixture) captcha(t *testing.T) string {
	t.Helper()

	chall, err := f.svc.IssueChallenge(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	return chall.ID
}

func (f *fixture) register(t *testing.T, username, email, pw string) (string, error) {
	t.Helper()

	return f.svc.Register(t.Context(), RegisterRequest{
		Username:    username,
		Email:       email,
		Password:    pw,
		ChallengeID: f.captcha(t),
		Challenge:   strings.ToLower(answer),
	})
}

func (f *fixture) login(t *testing.T, account, pw string) (string, error) {
	t.Helper()

	return f.svc.Login(t.Context(), LoginRequest{
		Account:     account,
		Password:    pw,
		ChallengeID: f.captcha(t),
		Challenge:   answer,
	})
}

func wantError(t *testing.T, err error, kind Kind, message string) {
	t.Helper()

	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Fatalf("wanted *auth.Error, got: %v", err)
	}

	if aerr.Kind != kind {
		t.Errorf("wanted kind %s, got: %s", kind, aerr.Kind)
	}

	if aerr.Message != message {
		t.Errorf("wanted message %q, got: %q", message, aerr.Message)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	tok, err := f.register(t, "  alice  ", " alice@example.com ", "hunter22")
	if err != nil {
		t.Fatal(err)
	}

	u, err := f.users.FindUserByAccount(t.Context(), "alice")
	if err != nil {
		t.Fatalf("registered user not stored with a trimmed username: %v", err)
	}

	if u.Email != "alice@example.com" {
		t.Errorf("email not trimmed: %q", u.Email)
	}

	if u.PasswordHash == "hunter22" {
		t.Error("password stored in plaintext")
	}

	id, err := f.svc.WhoAmI(t.Context(), "Bearer "+tok)
	if err != nil {
		t.Fatal(err)
	}

	if id.ID != u.ID || id.Username != "alice" {
		t.Errorf("token resolves to the wrong user: %+v", id)
	}
}

func TestRegisterValidation(t *testing.T) {
	for _, tt := range []struct {
		name     string
		username string
		email    string
		password string
		message  string
	}{
		{name: "username too short", username: "ab", email: "ab@example.com", password: "hunter22", message: MsgInvalidUsername},
		{name: "username short after trimming", username: "  ab  ", email: "ab@example.com", password: "hunter22", message: MsgInvalidUsername},
		{name: "username too long", username: strings.Repeat("a", 33), email: "a@example.com", password: "hunter22", message: MsgInvalidUsername},
		{name: "username shortest", username: "abc", email: "abc@example.com", password: "hunter22"},
		{name: "username longest", username: strings.Repeat("a", 32), email: "a@example.com", password: "hunter22"},
		{name: "username counted in runes", username: "小明明", email: "xm@example.com", password: "hunter22"},
		{name: "email without at", username: "alice", email: "alice.example.com", password: "hunter22", message: MsgInvalidEmail},
		{name: "email blank", username: "alice", email: "   ", password: "hunter22", message: MsgInvalidEmail},
		{name: "password too short", username: "alice", email: "alice@example.com", password: "hunte", message: MsgPasswordTooShort},
		{name: "password shortest", username: "alice", email: "alice@example.com", password: "hunter"},
		{name: "password counted in runes", username: "alice", email: "alice@example.com", password: "密码密码密码"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.register(t, tt.username, tt.email, tt.password)
			if tt.message == "" {
				if err != nil {
					t.Fatalf("valid registration rejected: %v", err)
				}
				return
			}

			wantError(t, err, BadRequest, tt.message)

			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("wanted ErrInvalidInput, got: %v", err)
			}

			if n := f.hasher.hashes.Load(); n != 0 {
				t.Errorf("password hashed %d times for invalid input", n)
			}

			if n := f.users.creates.Load(); n != 0 {
				t.Errorf("store written %d times for invalid input", n)
			}
		})
	}
}

func TestRegisterConsumesCaptchaBeforeValidation(t *testing.T) {
	f := newFixture(t)
	id := f.captcha(t)

	_, err := f.svc.Register(t.Context(), RegisterRequest{
		Username:    "ab",
		Email:       "ab@example.com",
		Password:    "hunter22",
		ChallengeID: id,
		Challenge:   answer,
	})
	wantError(t, err, BadRequest, MsgInvalidUsername)

	if f.svc.VerifyChallenge(id, answer) {
		t.Error("captcha still usable after a rejected registration")
	}
}

func TestRegisterBadCaptcha(t *testing.T) {
	for _, tt := range []struct {
		name string
		id   func(f *fixture, t *testing.T) string
		code string
	}{
		{name: "wrong answer", id: (*fixture).captcha, code: "ZZZZZ"},
		{name: "unknown id", id: func(*fixture, *testing.T) string { return "nope" }, code: answer},
		{name: "empty answer", id: (*fixture).captcha, code: ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.Register(t.Context(), RegisterRequest{
				Username:    "alice",
				Email:       "alice@example.com",
				Password:    "hunter22",
				ChallengeID: tt.id(f, t),
				Challenge:   tt.code,
			})
			wantError(t, err, BadRequest, MsgInvalidCaptcha)

			if n := f.hasher.hashes.Load(); n != 0 {
				t.Errorf("password hashed %d times without a valid captcha", n)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	f := newFixture(t)

	if _, err := f.register(t, "alice", "alice@example.com", "hunter22"); err != nil {
		t.Fatal(err)
	}

	_, err := f.register(t, "alice2", "alice@example.com", "hunter22")
	wantError(t, err, Conflict, MsgAccountExists)

	_, err = f.register(t, "alice", "alice2@example.com", "hunter22")
	wantError(t, err, Conflict, MsgAccountExists)
}

func TestRegisterInternalFailures(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		f := newFixture(t)
		f.users.err = errors.New("disk on fire")

		_, err := f.register(t, "alice", "alice@example.com", "hunter22")
		wantError(t, err, Internal, MsgInternal)
	})

	t.Run("hashing", func(t *testing.T) {
		f := newFixture(t)
		f.hasher.err = errors.New("out of memory")

		_, err := f.register(t, "alice", "alice@example.com", "hunter22")
		wantError(t, err, Internal, MsgInternal)

		if n := f.users.creates.Load(); n != 0 {
			t.Errorf("store written %d times after hashing failed", n)
		}
	})

	t.Run("signing keeps the account", func(t *testing.T) {
		f := newFixture(t)
		f.svc.Tokens = failingTokens{}

		_, err := f.register(t, "alice", "alice@example.com", "hunter22")
		wantError(t, err, Internal, MsgInternal)

		if _, err := f.users.FindUserByAccount(t.Context(), "alice"); err != nil {
			t.Errorf("account lost after token signing failed: %v", err)
		}
	})
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	if _, err := f.register(t, "alice", "alice@example.com", "hunter22"); err != nil {
		t.Fatal(err)
	}

	for _, account := range []string{"alice", "alice@example.com", "  alice  "} {
		t.Run(account, func(t *testing.T) {
			tok, err := f.login(t, account, "hunter22")
			if err != nil {
				t.Fatal(err)
			}

			id, err := f.svc.WhoAmI(t.Context(), "Bearer "+tok)
			if err != nil {
				t.Fatal(err)
			}

			if id.Username != "alice" {
				t.Errorf("logged in as the wrong user: %+v", id)
			}
		})
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)

	if _, err := f.register(t, "alice", "alice@example.com", "hunter22"); err != nil {
		t.Fatal(err)
	}

	_, wrongPassword := f.login(t, "alice", "hunter23")
	_, noAccount := f.login(t, "mallory", "hunter22")

	wantError(t, wrongPassword, BadRequest, MsgInvalidCredentials)
	wantError(t, noAccount, BadRequest, MsgInvalidCredentials)

	if !errors.Is(wrongPassword, ErrBadCredentials) || !errors.Is(noAccount, ErrBadCredentials) {
		t.Errorf("wanted both failures to wrap ErrBadCredentials, got: %v and %v", wrongPassword, noAccount)
	}
}

func TestLoginValidation(t *testing.T) {
	for _, tt := range []struct {
		name     string
		account  string
		password string
	}{
		{name: "empty account", account: "", password: "hunter22"},
		{name: "blank account", account: "   ", password: "hunter22"},
		{name: "empty password", account: "alice", password: ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.login(t, tt.account, tt.password)
			wantError(t, err, BadRequest, MsgMissingCredentials)

			if n := f.hasher.verifies.Load(); n != 0 {
				t.Errorf("password verified %d times for empty credentials", n)
			}
		})
	}
}

func TestLoginInternalFailures(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		f := newFixture(t)
		f.users.err = errors.New("connection refused")

		_, err := f.login(t, "alice", "hunter22")
		wantError(t, err, Internal, MsgInternal)
	})

	t.Run("hasher", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.register(t, "alice", "alice@example.com", "hunter22"); err != nil {
			t.Fatal(err)
		}
		f.hasher.verifyErr = errors.New("out of memory")

		_, err := f.login(t, "alice", "hunter22")
		wantError(t, err, Internal, MsgInternal)
	})
}

func TestLoginCorruptHashLooksLikeWrongPassword(t *testing.T) {
	f := newFixture(t)
	if _, err := f.users.Interface.CreateUser(t.Context(), "alice", "alice@example.com", "corrupted-hash"); err != nil {
		t.Fatal(err)
	}

	_, err := f.login(t, "alice", "hunter22")
	wantError(t, err, BadRequest, MsgInvalidCredentials)

	if !errors.Is(err, ErrBadCredentials) {
		t.Errorf("wanted %v, got: %v", ErrBadCredentials, err)
	}

	if !errors.Is(err, password.ErrFormat) {
		t.Errorf("the corrupt hash is not kept for logging: %v", err)
	}
}

func TestLoginUnknownAccountVerifiesPassword(t *testing.T) {
	for _, tt := range []struct {
		name    string
		account string
	}{
		{name: "unknown account", account: "mallory"},
		{name: "wrong password", account: "alice"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if _, err := f.register(t, "alice", "alice@example.com", "hunter22"); err != nil {
				t.Fatal(err)
			}

			_, err := f.login(t, tt.account, "hunter23")
			wantError(t, err, BadRequest, MsgInvalidCredentials)

			if n := f.hasher.verifies.Load(); n != 1 {
				t.Errorf("wanted exactly 1 password verification, got: %d", n)
			}
		})
	}
}

func TestDecoyIsHashedOnce(t *testing.T) {
	f := newFixture(t)

	for range 3 {
		if _, err := f.login(t, "mallory", "hunter22"); err == nil {
			t.Fatal("unknown account logged in")
		}
	}

	if n := f.hasher.hashes.Load(); n != 1 {
		t.Errorf("wanted the decoy to be hashed once, got %d hashes", n)
	}

	if n := f.hasher.verifies.Load(); n != 3 {
		t.Errorf("wanted 3 verifications, got: %d", n)
	}
}

func TestWhoAmI(t *testing.T) {
	f := newFixture(t)

	tok, err := f.register(t, "alice", "alice@example.com", "hunter22")
	if err != nil {
		t.Fatal(err)
	}

	ghost, err := f.svc.Tokens.Issue(999)
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name    string
		header  string
		kind    Kind
		message string
	}{
		{name: "valid", header: "Bearer " + tok},
		{name: "lower case scheme", header: "bearer " + tok},
		{name: "extra whitespace", header: "  BEARER   " + tok + "  "},
		{name: "missing", header: "", kind: Unauthorized, message: MsgMissingToken},
		{name: "scheme only", header: "Bearer", kind: Unauthorized, message: MsgMissingToken},
		{name: "other scheme", header: "Basic YWxpY2U6aHVudGVyMjI=", kind: Unauthorized, message: MsgMissingToken},
		{name: "garbage token", header: "Bearer not-a-token", kind: Unauthorized, message: MsgInvalidToken},
		{name: "deleted user", header: "Bearer " + ghost, kind: Unauthorized, message: MsgUnknownUser},
	} {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.svc.WhoAmI(t.Context(), tt.header)
			if tt.kind == 0 {
				if err != nil {
					t.Fatal(err)
				}
				if id.Username != "alice" || id.Email != "alice@example.com" {
					t.Errorf("wrong identity: %+v", id)
				}
				return
			}

			wantError(t, err, tt.kind, tt.message)
		})
	}
}

func TestWhoAmIExpired(t *testing.T) {
	f := newFixture(t)

	tok, err := f.register(t, "alice", "alice@example.com", "hunter22")
	if err != nil {
		t.Fatal(err)
	}

	f.now = f.now.Add(2 * time.Hour)

	_, err = f.svc.WhoAmI(t.Context(), "Bearer "+tok)
	wantError(t, err, Unauthorized, MsgInvalidToken)

	if !errors.Is(err, token.ErrExpired) {
		t.Errorf("expiry not kept as the private reason: %v", err)
	}
}

func TestVerifyChallenge(t *testing.T) {
	f := newFixture(t)
	id := f.captcha(t)

	if f.svc.VerifyChallenge(id, "wrong") {
		t.Error("wrong answer accepted")
	}

	if !f.svc.VerifyChallenge(id, " ab3d9 ") {
		t.Error("right answer rejected after a wrong attempt")
	}

	if f.svc.VerifyChallenge(id, answer) {
		t.Error("captcha accepted twice")
	}
}

func TestReady(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Ready(t.Context()); err != nil {
		t.Error(err)
	}
}

func TestKindOf(t *testing.T) {
	if k := KindOf(errors.New("plain")); k != Internal {
		t.Errorf("wanted plain errors to be Internal, got: %s", k)
	}

	if k := KindOf(newError(Conflict, MsgAccountExists, nil)); k != Conflict {
		t.Errorf("wanted Conflict, got: %s", k)
	}

	for kind, status := range map[Kind]int{BadRequest: 400, Unauthorized: 401, Conflict: 409, Internal: 500} {
		if got := kind.StatusCode(); got != status {
			t.Errorf("%s: wanted status %d, got: %d", kind, status, got)
		}
	}
}
