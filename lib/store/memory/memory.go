package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/gatekeeper-auth/gatekeeper/lib/store"
)

type factory struct{}

func (factory) Build(context.Context, string) (store.Interface, error) {
	return New(), nil
}

func (factory) Valid(string) error { return nil }

func init() {
	store.Register("memory", factory{})
}

type impl struct {
	lock       sync.RWMutex
	lastID     int64
	users      map[int64]store.User
	byUsername map[string]int64
	byEmail    map[string]int64
}

// New creates a simple in-memory store. Users are lost when the process exits
// and are not shared between Gatekeeper instances.
func New() store.Interface {
	return &impl{
		users:      map[int64]store.User{},
		byUsername: map[string]int64{},
		byEmail:    map[string]int64{},
	}
}

func (i *impl) CreateUser(_ context.Context, username, email, passwordHash string) (int64, error) {
	i.lock.Lock()
	defer i.lock.Unlock()

	if _, ok := i.byUsername[username]; ok {
		return 0, fmt.Errorf("%w: username %q", store.ErrDuplicateKey, username)
	}

	if _, ok := i.byEmail[email]; ok {
		return 0, fmt.Errorf("%w: email %q", store.ErrDuplicateKey, email)
	}

	i.lastID++
	id := i.lastID

	i.users[id] = store.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	i.byUsername[username] = id
	i.byEmail[email] = id

	return id, nil
}

func (i *impl) FindUserByAccount(_ context.Context, account string) (*store.User, error) {
	i.lock.RLock()
	defer i.lock.RUnlock()

	id, ok := i.byUsername[account]
	if !ok {
		id, ok = i.byEmail[account]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, account)
	}

	u := i.users[id]
	return &u, nil
}

func (i *impl) FindUserByID(_ context.Context, id int64) (*store.User, error) {
	i.lock.RLock()
	defer i.lock.RUnlock()

	u, ok := i.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrNotFound, id)
	}

	return &u, nil
}

func (i *impl) Ping(context.Context) error { return nil }

func (i *impl) Close() error { return nil }
