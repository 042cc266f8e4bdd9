package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gatekeeper-auth/gatekeeper/lib/store"
	_ "modernc.org/sqlite"
)

var (
	ErrMissingPath     = errors.New("sqlite: path is missing from connection string")
	ErrCantWriteToPath = errors.New("sqlite: can't write to path")
)

const memoryPath = ":memory:"

func init() {
	store.Register("sqlite", Factory{})
}

// Factory builds new instances of the sqlite storage backend from connection
// strings of the form sqlite:///path/to/users.db or sqlite://:memory:.
type Factory struct{}

// Build opens the database, applies any pending migrations and returns a Store.
func (Factory) Build(ctx context.Context, dsn string) (store.Interface, error) {
	config, err := parse(dsn)
	if err != nil {
		return nil, err
	}

	if err := config.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrBadConfig, err)
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("can't open sqlite database %s: %w", config.Path, err)
	}

	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if config.Path != memoryPath {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set journal_mode: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Valid parses and validates the connection string or returns an error.
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

// Config is the sqlite storage backend configuration.
type Config struct {
	// Path is the filesystem path of the database, or ":memory:". The folder
	// must be writable to Gatekeeper.
	Path string
}

func parse(dsn string) (Config, error) {
	path, ok := strings.CutPrefix(dsn, "sqlite://")
	if !ok {
		return Config{}, fmt.Errorf("%w: %q is not a sqlite:// connection string", store.ErrBadConfig, dsn)
	}

	return Config{Path: path}, nil
}

// Valid validates the configuration including checking if its containing folder is writable.
func (c Config) Valid() error {
	var errs []error

	switch c.Path {
	case "":
		errs = append(errs, ErrMissingPath)
	case memoryPath:
	default:
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
