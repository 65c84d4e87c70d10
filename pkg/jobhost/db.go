package jobhost

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

const memoryPath = ":memory:"

const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA temp_store=MEMORY;
`

type dbConfig struct {
	path         string
	pragmas      string
	maxOpenConns int
}

// DBOption configures the job database connection
type DBOption func(*dbConfig)

// WithPragmas replaces the default pragmas
func WithPragmas(pragmas string) DBOption {
	return func(c *dbConfig) {
		c.pragmas = pragmas
	}
}

// WithMaxOpenConns sets the maximum number of open connections
func WithMaxOpenConns(n int) DBOption {
	return func(c *dbConfig) {
		c.maxOpenConns = n
	}
}

// openDB connects to the SQLite database at path. ":memory:" opens a
// private in-memory database limited to one connection.
func openDB(path string, opts ...DBOption) (*sqlx.DB, error) {
	cfg := &dbConfig{
		path:    path,
		pragmas: defaultPragma,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := memoryPath
	if cfg.path == memoryPath {
		cfg.maxOpenConns = 1
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.path), 0755); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", cfg.path)
	}

	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.maxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}

	if _, err := db.Exec(cfg.pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}
