package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registry map[string]Factory = map[string]Factory{}
	regLock  sync.RWMutex
)

// Factory builds a store from a connection string such as
// "sqlite:///var/lib/gatekeeper.db".
type Factory interface {
	Build(ctx context.Context, dsn string) (Interface, error)
	Valid(dsn string) error
}

// Register makes a Factory available for connection strings with the given
// URL scheme.
func Register(scheme string, impl Factory) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[scheme] = impl
}

func Get(scheme string) (Factory, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[scheme]
	return result, ok
}

func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, method)
	}
	sort.Strings(result)
	return result
}

// Scheme returns the URL scheme of a connection string.
func Scheme(dsn string) (string, error) {
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok || scheme == "" {
		return "", fmt.Errorf("%w: %q has no scheme", ErrBadConfig, dsn)
	}

	return scheme, nil
}

// Open picks the Factory registered for the scheme of dsn and builds a store
// with it.
func Open(ctx context.Context, dsn string) (Interface, error) {
	scheme, err := Scheme(dsn)
	if err != nil {
		return nil, err
	}

	f, ok := Get(scheme)
	if !ok {
		return nil, fmt.Errorf("%w: unknown scheme %q, known schemes: %s", ErrBadConfig, scheme, strings.Join(Methods(), ", "))
	}

	if err := f.Valid(dsn); err != nil {
		return nil, err
	}

	return f.Build(ctx, dsn)
}
