package bbolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gatekeeper-auth/gatekeeper/lib/store"
	"go.etcd.io/bbolt"
)

var (
	ErrMissingPath     = errors.New("bbolt: path is missing from connection string")
	ErrCantWriteToPath = errors.New("bbolt: can't write to path")
)

func init() {
	store.Register("bbolt", Factory{})
}

// Factory builds new instances of the bbolt storage backend from connection
// strings of the form bbolt:///path/to/users.db.
type Factory struct{}

// Build parses and validates the bbolt storage backend Config and creates
// a new instance of it.
func (Factory) Build(_ context.Context, dsn string) (store.Interface, error) {
	config, err := parse(dsn)
	if err != nil {
		return nil, err
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	bdb, err := bbolt.Open(config.Path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("can't open bbolt database %s: %w", config.Path, err)
	}

	if err := bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usersBucket, usernamesBucket, emailsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("can't create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		bdb.Close()
		return nil, err
	}

	return &Store{
		bdb: bdb,
	}, nil
}

// Valid parses and validates the bbolt connection string or returns
// an error.
func (Factory) Valid(dsn string) error {
	config, err := parse(dsn)
	if err != nil {
		return err
	}

	if err := config.Valid(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	return nil
}

// Config is the bbolt storage backend configuration.
type Config struct {
	// Path is the filesystem path of the database. The folder must be writable to Gatekeeper.
	Path string
}

func parse(dsn string) (Config, error) {
	path, ok := strings.CutPrefix(dsn, "bbolt://")
	if !ok {
		return Config{}, fmt.Errorf("%w: %q is not a bbolt:// connection string", store.ErrBadConfig, dsn)
	}

	return Config{Path: path}, nil
}

// Valid validates the configuration including checking if its containing folder is writable.
func (c Config) Valid() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, ErrMissingPath)
	} else {
		dir := filepath.Dir(c.Path)
		if err := os.WriteFile(filepath.Join(dir, ".test-file"), []byte(""), 0600); err != nil {
			errs = append(errs, ErrCantWriteToPath)
		}
		os.Remove(filepath.Join(dir, ".test-file"))
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}

	return nil
}
