// Package store provides the terminal's durable local replica: reference
// records mirrored from the server, the mutation queue table, and the
// singleton sync metadata row, all in one SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dbFile = ".till/till.db"

// ErrStorageUnavailable signals that the persistent store cannot be opened
// or written. Callers decide whether to degrade to network-only mode.
var ErrStorageUnavailable = errors.New("local storage unavailable")

// Store wraps the database connection
type Store struct {
	conn    *sql.DB
	baseDir string
}

// Open opens the database and runs any pending migrations.
// The store must already exist (run 'till init' first).
func Open(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: database not found, run 'till init' first", ErrStorageUnavailable)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s := &Store{conn: conn, baseDir: baseDir}

	if _, err := s.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// A crash mid-cycle can leave the in-progress flag set; no cycle can be
	// running before the store is opened, so reset it here.
	if err := s.clearStaleSyncFlag(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clear stale sync flag: %w", err)
	}

	return s, nil
}

// Initialize creates the database, schema, and metadata row.
func Initialize(baseDir string) (*Store, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %v", ErrStorageUnavailable, err)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{conn: conn, baseDir: baseDir}

	if err := s.ensureMetadataRow(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init metadata: %w", err)
	}

	if _, err := s.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL allows concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Fallback protection, matches the write lock timeout
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	return conn, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.conn.Close()
}

// BaseDir returns the base directory for the store
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Conn returns the underlying *sql.DB connection for use in transactions
// (e.g., by the queue which needs raw DB access).
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// WithWriteLock executes fn while holding an exclusive cross-process write
// lock. This prevents concurrent writes from multiple terminal processes
// (interactive CLI vs the sync daemon).
func (s *Store) WithWriteLock(fn func() error) error {
	locker := newWriteLocker(s.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// TimeLayout is the fixed-width UTC form timestamps are stored in.
// Unlike RFC3339Nano it never trims fractional zeros, so SQL string
// comparison agrees with time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders a timestamp for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// formatTimePtr renders an optional timestamp, returning NULL-able value.
func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(v string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", v)
}

// scanTimePtr converts a nullable column into an optional timestamp.
func scanTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTimestamp(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
