// Package store provides the SQLite-backed relational store for ConnectQ.
// It is the source of truth for Company records and hosts the company_events
// outbox: every Company mutation writes its row and a change event in the same
// transaction, and the outbox consumer drains those events into the vector
// index.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a Company does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateOwner is returned when a user already owns a Company.
	ErrDuplicateOwner = errors.New("store: user already owns a company")
)

// SQLiteStore is the relational store backed by a local SQLite database.
// It is safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the ConnectQ database.
// It resolves to ~/.connectq/connectq.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".connectq")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "connectq.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	// Transactions must therefore never touch s.db while a tx is open.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS companies (
    id                TEXT    PRIMARY KEY,
    user_id           TEXT    NOT NULL UNIQUE,
    name              TEXT    NOT NULL,
    email             TEXT    NOT NULL DEFAULT '',
    description       TEXT    NOT NULL DEFAULT '',
    industry          TEXT    NOT NULL DEFAULT '',
    location          TEXT    NOT NULL DEFAULT '',
    services          TEXT    NOT NULL DEFAULT '[]',  -- JSON array
    technologies      TEXT    NOT NULL DEFAULT '[]',  -- JSON array
    specializations   TEXT    NOT NULL DEFAULT '[]',  -- JSON array
    tagline           TEXT    NOT NULL DEFAULT '',
    cost_range        TEXT    NOT NULL DEFAULT '',
    delivery_duration TEXT    NOT NULL DEFAULT '',
    employee_count    INTEGER NOT NULL DEFAULT 0,
    social_links      TEXT    NOT NULL DEFAULT '{}',  -- JSON object
    logo_url          TEXT    NOT NULL DEFAULT '',
    created_at        INTEGER NOT NULL,               -- Unix timestamp (seconds)
    updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_companies_created ON companies (created_at, id);

CREATE TABLE IF NOT EXISTS company_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    company_id   TEXT    NOT NULL,
    kind         TEXT    NOT NULL CHECK(kind IN ('upserted','deleted')),
    created_at   INTEGER NOT NULL,
    processed_at INTEGER,                             -- NULL while pending
    attempts     INTEGER NOT NULL DEFAULT 0,
    last_error   TEXT    NOT NULL DEFAULT '',
    dead         INTEGER NOT NULL DEFAULT 0           -- 1 once attempts are exhausted
);
CREATE INDEX IF NOT EXISTS idx_company_events_pending
    ON company_events (processed_at, dead, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database connection is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := range n {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}

// int64Args converts ids to a []any suitable for an IN clause.
func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
