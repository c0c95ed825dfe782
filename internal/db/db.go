// Package db is the durable store: the local activity catalogue, the vendor
// sync status table, the flyby queue and the run history. SQLite is the
// default backend; a postgres:// DSN selects Postgres through pgx.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DefaultFile is the database file name inside the data directory.
const DefaultFile = "activities.db"

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	dialect Dialect
	// lockDir holds the cross-process write lock; empty disables it.
	lockDir string
	now     func() time.Time
}

// Open opens the store named by dsn and runs pending migrations. A dsn
// starting with postgres:// or postgresql:// opens Postgres; anything else
// is a SQLite file path whose directory is created if needed.
func Open(dsn string) (*DB, error) {
	if isPostgresDSN(dsn) {
		conn, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("connect database: %w", err)
		}
		return New(conn, DialectPostgres, "")
	}

	if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout as fallback protection (500ms, matches lock timeout)
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	return New(conn, DialectSQLite, filepath.Dir(dsn))
}

// New wraps an already opened connection and brings its schema up to date.
// Tests use it with an in-memory SQLite connection.
func New(conn *sql.DB, dialect Dialect, lockDir string) (*DB, error) {
	db := &DB{conn: conn, dialect: dialect, lockDir: lockDir, now: time.Now}
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// Dialect reports the backend in use.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// SetClock overrides the time source used for updated_at and friends.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// withWriteLock executes fn while holding an exclusive write lock.
// This prevents concurrent writes from multiple processes.
func (db *DB) withWriteLock(fn func() error) error {
	if db.lockDir == "" {
		return fn()
	}
	locker := newWriteLocker(db.lockDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

func (db *DB) exec(query string, args ...any) (sql.Result, error) {
	return db.conn.Exec(db.dialect.rebind(query), args...)
}

func (db *DB) query(query string, args ...any) (*sql.Rows, error) {
	return db.conn.Query(db.dialect.rebind(query), args...)
}

func (db *DB) queryRow(query string, args ...any) *sql.Row {
	return db.conn.QueryRow(db.dialect.rebind(query), args...)
}

func (db *DB) timestamp() string {
	return formatTime(db.now())
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
