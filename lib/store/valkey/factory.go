package valkey

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gatekeeper-auth/gatekeeper/lib/store"
	valkey "github.com/redis/go-redis/v9"
)

var (
	ErrNoURL  = errors.New("valkey.Config: no URL defined")
	ErrBadURL = errors.New("valkey.Config: URL is invalid")
)

func init() {
	for _, scheme := range []string{"redis", "rediss", "valkey", "valkeys"} {
		store.Register(scheme, Factory{})
	}
}

// Factory builds stores backed by Valkey or Redis from connection strings
// such as valkey://host:6379/0.
type Factory struct{}

func (Factory) Build(ctx context.Context, dsn string) (store.Interface, error) {
	config := Config{URL: dsn}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	opts, err := valkey.ParseURL(config.redisURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	rdb := valkey.NewClient(opts)

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("can't ping valkey instance: %w", err)
	}

	return &Store{
		rdb:    rdb,
		prefix: DefaultPrefix,
	}, nil
}

func (Factory) Valid(dsn string) error {
	if err := (Config{URL: dsn}).Valid(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return nil
}

type Config struct {
	URL string
}

// redisURL rewrites valkey:// URLs to the redis:// form the client parses.
func (c Config) redisURL() string {
	if rest, ok := strings.CutPrefix(c.URL, "valkey://"); ok {
		return "redis://" + rest
	}

	if rest, ok := strings.CutPrefix(c.URL, "valkeys://"); ok {
		return "rediss://" + rest
	}

	return c.URL
}

func (c Config) Valid() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, ErrNoURL)
	} else if _, err := valkey.ParseURL(c.redisURL()); err != nil {
		errs = append(errs, ErrBadURL)
	}

	if len(errs) != 0 {
		return fmt.Errorf("valkey.Config: invalid config: %w", errors.Join(errs...))
	}

	return nil
}
