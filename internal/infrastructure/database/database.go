package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600

	// pingTimeout bounds the connectivity check in Open.
	pingTimeout = 5 * time.Second

	connMaxIdleTime = 30 * time.Minute
	connMaxLifetime = time.Hour
)

// ErrEmptyPath is returned by Open when no database path is configured.
var ErrEmptyPath = errors.New("database path is empty")

// DB is the relay's run history store.
//
// The embedded *sql.DB is handed to repositories; DB itself only adds
// lifecycle, migrations and health reporting.
type DB struct {
	*sql.DB
	path string
}

// Config maps to the database section of the relay configuration.
type Config struct {
	// Path is the SQLite file. Missing parent directories are created.
	Path string

	// WALMode lets the API and the CLI read run history while the daemon
	// is recording a run.
	WALMode bool

	// BusyTimeout is how long a connection waits on a lock, in seconds.
	BusyTimeout int
}

// dsn builds the go-sqlite3 connection string for cfg.
// See https://github.com/mattn/go-sqlite3#connection-string.
func (cfg Config) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*1000))
	q.Set("_foreign_keys", "on")
	// A run row is inserted then updated by the same writer; taking the
	// write lock up front avoids SQLITE_BUSY on the upgrade.
	q.Set("_txlock", "immediate")
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens (creating if needed) the run history database and checks it
// answers within ctx.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, ErrEmptyPath
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.Path, err)
	}

	// One connection: SQLite has a single writer and the relay records one
	// run at a time.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // Error path cleanup
		return nil, fmt.Errorf("verifying database %s: %w", cfg.Path, err)
	}

	// Run history includes profiled command lines.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // Best effort

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the database. Closing a DB without a connection is a no-op.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the database answers a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Usage describes the database file and its connection pool.
type Usage struct {
	Path            string `json:"path"`
	JournalMode     string `json:"journal_mode"`
	SizeBytes       int64  `json:"size_bytes"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
}

// Usage reports file size, journal mode and pool counters.
func (db *DB) Usage(ctx context.Context) (Usage, error) {
	pool := db.Stats()
	u := Usage{
		Path:            db.path,
		OpenConnections: pool.OpenConnections,
		InUse:           pool.InUse,
		Idle:            pool.Idle,
		WaitCount:       pool.WaitCount,
	}

	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&u.JournalMode); err != nil {
		return u, fmt.Errorf("reading journal mode: %w", err)
	}

	var pages, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return u, fmt.Errorf("reading page count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return u, fmt.Errorf("reading page size: %w", err)
	}
	u.SizeBytes = pages * pageSize

	return u, nil
}
