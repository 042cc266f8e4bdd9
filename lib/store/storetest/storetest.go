// Package storetest is a conformance suite that every user store backend runs
// in its own tests.
package storetest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gatekeeper-auth/gatekeeper/lib/store"
)

// Common builds a store from dsn with f and checks that it behaves like every
// other backend.
func Common(t *testing.T, f store.Factory, dsn string) {
	t.Helper()

	if err := f.Valid(dsn); err != nil {
		t.Fatal(err)
	}

	s, err := f.Build(t.Context(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("can't close store: %v", err)
		}
	})

	if err := s.Ping(t.Context()); err != nil {
		t.Fatalf("freshly built store can't be pinged: %v", err)
	}

	for _, tt := range []struct {
		name string
		doer func(t *testing.T, s store.Interface) error
		err  error
	}{
		{
			name: "create and find",
			doer: func(t *testing.T, s store.Interface) error {
				username, email := names(t)

				if _, err := s.FindUserByAccount(t.Context(), username); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("wanted %s to not exist in store but it exists anyways: %v", username, err)
				}

				id, err := s.CreateUser(t.Context(), username, email, "$argon2id$hash")
				if err != nil {
					return err
				}

				if id <= 0 {
					t.Errorf("wanted a positive id, got: %d", id)
				}

				for _, lookup := range []struct {
					how  string
					find func() (*store.User, error)
				}{
					{"username", func() (*store.User, error) { return s.FindUserByAccount(t.Context(), username) }},
					{"email", func() (*store.User, error) { return s.FindUserByAccount(t.Context(), email) }},
					{"id", func() (*store.User, error) { return s.FindUserByID(t.Context(), id) }},
				} {
					u, err := lookup.find()
					if err != nil {
						t.Errorf("can't find user by %s: %v", lookup.how, err)
						continue
					}

					want := store.User{ID: id, Username: username, Email: email, PasswordHash: "$argon2id$hash"}
					if *u != want {
						t.Logf("want: %+v", want)
						t.Logf("got:  %+v", *u)
						t.Errorf("wrong user returned when looking up by %s", lookup.how)
					}
				}

				return nil
			},
		},
		{
			name: "ids are distinct",
			doer: func(t *testing.T, s store.Interface) error {
				seen := map[int64]bool{}
				for i := range 5 {
					username, email := names(t)
					id, err := s.CreateUser(t.Context(), fmt.Sprint(username, i), fmt.Sprint(i, email), "hash")
					if err != nil {
						return err
					}

					if seen[id] {
						t.Errorf("id %d assigned twice", id)
					}
					seen[id] = true
				}

				return nil
			},
		},
		{
			name: "duplicate username",
			doer: func(t *testing.T, s store.Interface) error {
				username, email := names(t)
				if _, err := s.CreateUser(t.Context(), username, email, "hash"); err != nil {
					t.Fatal(err)
				}

				_, err := s.CreateUser(t.Context(), username, "other-"+email, "hash")
				return err
			},
			err: store.ErrDuplicateKey,
		},
		{
			name: "duplicate email",
			doer: func(t *testing.T, s store.Interface) error {
				username, email := names(t)
				if _, err := s.CreateUser(t.Context(), username, email, "hash"); err != nil {
					t.Fatal(err)
				}

				_, err := s.CreateUser(t.Context(), "other-"+username, email, "hash")
				return err
			},
			err: store.ErrDuplicateKey,
		},
		{
			name: "rejected user reserves nothing",
			doer: func(t *testing.T, s store.Interface) error {
				username, email := names(t)
				if _, err := s.CreateUser(t.Context(), username, email, "hash"); err != nil {
					t.Fatal(err)
				}

				if _, err := s.CreateUser(t.Context(), username, "other-"+email, "hash"); !errors.Is(err, store.ErrDuplicateKey) {
					t.Fatalf("wanted ErrDuplicateKey, got: %v", err)
				}

				if _, err := s.FindUserByAccount(t.Context(), "other-"+email); !errors.Is(err, store.ErrNotFound) {
					t.Errorf("rejected user can be found by email: %v", err)
				}

				_, err := s.CreateUser(t.Context(), "other-"+username, "other-"+email, "hash")
				return err
			},
		},
		{
			name: "unknown id",
			doer: func(t *testing.T, s store.Interface) error {
				_, err := s.FindUserByID(t.Context(), 1<<62)
				return err
			},
			err: store.ErrNotFound,
		},
		{
			name: "concurrent registration of one username",
			doer: func(t *testing.T, s store.Interface) error {
				username, email := names(t)

				var wins atomic.Int32
				var wg sync.WaitGroup
				for i := range 8 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := s.CreateUser(t.Context(), username, fmt.Sprint(i, email), "hash")
						switch {
						case err == nil:
							wins.Add(1)
						case !errors.Is(err, store.ErrDuplicateKey):
							t.Errorf("unexpected error: %v", err)
						}
					}()
				}
				wg.Wait()

				if n := wins.Load(); n != 1 {
					t.Errorf("username registered %d times, wanted exactly once", n)
				}

				return nil
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.doer(t, s); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func names(t *testing.T) (username, email string) {
	return t.Name(), t.Name() + "@example.com"
}
