package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gatekeeper-auth/gatekeeper/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key Gatekeeper writes.
const DefaultPrefix = "gatekeeper:"

// Store keeps users in Valkey or Redis under these keys:
//
//	<prefix>users:next          INCR counter for ids
//	<prefix>users:<id>          JSON encoded store.User
//	<prefix>username:<username> id
//	<prefix>email:<email>       id
//
// The username key, email key and user record are written by one script, so
// two registrations racing for the same name can't both succeed and a failed
// registration leaves nothing behind.
type Store struct {
	rdb    *valkey.Client
	prefix string
}

// createUser returns 1 if the username is taken, 2 if the email is taken and
// 0 once all three keys are written.
//
//	KEYS: username key, email key, user key
//	ARGV: id, JSON encoded user
var createUser = valkey.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 1
end
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 2
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[1])
redis.call("SET", KEYS[3], ARGV[2])
return 0
`)

func (s *Store) userKey(id int64) string        { return s.prefix + "users:" + strconv.FormatInt(id, 10) }
func (s *Store) usernameKey(name string) string { return s.prefix + "username:" + name }
func (s *Store) emailKey(email string) string   { return s.prefix + "email:" + email }
func (s *Store) sequenceKey() string            { return s.prefix + "users:next" }

// CreateUser allocates an id and then claims the username and email and
// writes the user in one atomic step. Ids burned by rejected registrations
// are not reused.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error) {
	id, err := s.rdb.Incr(ctx, s.sequenceKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("can't allocate user id in valkey: %w", err)
	}

	data, err := json.Marshal(store.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrCantEncode, err)
	}

	keys := []string{s.usernameKey(username), s.emailKey(email), s.userKey(id)}
	result, err := createUser.Run(ctx, s.rdb, keys, id, data).Int()
	if err != nil {
		return 0, fmt.Errorf("can't create user %d in valkey: %w", id, err)
	}

	switch result {
	case 0:
		return id, nil
	case 1:
		return 0, fmt.Errorf("%w: username %q", store.ErrDuplicateKey, username)
	case 2:
		return 0, fmt.Errorf("%w: email %q", store.ErrDuplicateKey, email)
	default:
		return 0, fmt.Errorf("can't create user %d in valkey: unexpected script result %d", id, result)
	}
}

// FindUserByAccount resolves account as a username first, then as an email.
func (s *Store) FindUserByAccount(ctx context.Context, account string) (*store.User, error) {
	for _, key := range []string{s.usernameKey(account), s.emailKey(account)} {
		id, err := s.rdb.Get(ctx, key).Int64()
		switch {
		case errors.Is(err, valkey.Nil):
			continue
		case err != nil:
			return nil, fmt.Errorf("can't fetch from valkey: %w", err)
		}

		return s.FindUserByID(ctx, id)
	}

	return nil, fmt.Errorf("%w: %q", store.ErrNotFound, account)
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (*store.User, error) {
	data, err := s.rdb.Get(ctx, s.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, fmt.Errorf("%w: id %d", store.ErrNotFound, id)
		}

		return nil, fmt.Errorf("can't fetch from valkey: %w", err)
	}

	var u store.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrCantDecode, err)
	}

	return &u, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
