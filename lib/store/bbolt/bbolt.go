package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gatekeeper-auth/gatekeeper/lib/store"
	"go.etcd.io/bbolt"
)

// Sentinel error values used for testing and in admin-visible error messages.
var (
	ErrBucketDoesNotExist = errors.New("bbolt: bucket does not exist")
)

var (
	usersBucket     = []byte("users")
	usernamesBucket = []byte("usernames")
	emailsBucket    = []byte("emails")
)

// Store implements store.Interface backed by bbolt[1].
//
// Users live in three buckets:
//
// 1. users - id (8 byte big endian) to the JSON encoded store.User
// 2. usernames - username to id
// 3. emails - email to id
//
// Ids come from the users bucket sequence. A new user is checked against both
// index buckets and written to all three in a single write transaction, so
// bbolt's one-writer-at-a-time rule makes uniqueness race free.
//
// bbolt is not suitable for environments where multiple instances of
// Gatekeeper need to read from and write to the same backend store. For that,
// use the valkey storage backend.
//
// [1]: https://github.com/etcd-io/bbolt
type Store struct {
	bdb *bbolt.DB
}

func itob(id int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func (s *Store) CreateUser(_ context.Context, username, email, passwordHash string) (int64, error) {
	var id int64

	err := s.bdb.Update(func(tx *bbolt.Tx) error {
		users, usernames, emails := tx.Bucket(usersBucket), tx.Bucket(usernamesBucket), tx.Bucket(emailsBucket)
		if users == nil || usernames == nil || emails == nil {
			return ErrBucketDoesNotExist
		}

		if usernames.Get([]byte(username)) != nil {
			return fmt.Errorf("%w: username %q", store.ErrDuplicateKey, username)
		}

		if emails.Get([]byte(email)) != nil {
			return fmt.Errorf("%w: email %q", store.ErrDuplicateKey, email)
		}

		seq, err := users.NextSequence()
		if err != nil {
			return fmt.Errorf("can't allocate user id: %w", err)
		}
		id = int64(seq)

		data, err := json.Marshal(store.User{
			ID:           id,
			Username:     username,
			Email:        email,
			PasswordHash: passwordHash,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", store.ErrCantEncode, err)
		}

		key := itob(id)
		if err := users.Put(key, data); err != nil {
			return fmt.Errorf("%w: %d (user)", store.ErrCantEncode, id)
		}

		if err := usernames.Put([]byte(username), key); err != nil {
			return fmt.Errorf("%w: %d (username)", store.ErrCantEncode, id)
		}

		if err := emails.Put([]byte(email), key); err != nil {
			return fmt.Errorf("%w: %d (email)", store.ErrCantEncode, id)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// FindUserByAccount resolves account through the usernames index first, then
// the emails index.
func (s *Store) FindUserByAccount(_ context.Context, account string) (*store.User, error) {
	var result *store.User

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		var key []byte
		for _, name := range [][]byte{usernamesBucket, emailsBucket} {
			bkt := tx.Bucket(name)
			if bkt == nil {
				return fmt.Errorf("%w: %s", ErrBucketDoesNotExist, name)
			}

			if key = bkt.Get([]byte(account)); key != nil {
				break
			}
		}

		if key == nil {
			return fmt.Errorf("%w: %q", store.ErrNotFound, account)
		}

		var err error
		result, err = getUser(tx, key)
		return err
	}); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) FindUserByID(_ context.Context, id int64) (*store.User, error) {
	var result *store.User

	if err := s.bdb.View(func(tx *bbolt.Tx) error {
		var err error
		result, err = getUser(tx, itob(id))
		return err
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// getUser decodes the user stored under key. The value is only valid for the
// life of tx, so it is decoded before returning.
func getUser(tx *bbolt.Tx, key []byte) (*store.User, error) {
	users := tx.Bucket(usersBucket)
	if users == nil {
		return nil, fmt.Errorf("%w: %s", ErrBucketDoesNotExist, usersBucket)
	}

	data := users.Get(key)
	if data == nil {
		return nil, fmt.Errorf("%w: id %d", store.ErrNotFound, binary.BigEndian.Uint64(key))
	}

	var u store.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("[unexpected] %w: %w", store.ErrCantDecode, err)
	}

	return &u, nil
}

// Ping checks that the database is still open and its buckets exist.
func (s *Store) Ping(context.Context) error {
	return s.bdb.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(usersBucket) == nil {
			return fmt.Errorf("%w: %s", ErrBucketDoesNotExist, usersBucket)
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.bdb.Close()
}
