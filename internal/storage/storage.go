// Package storage provides the durable per-tenant store.
//
// Each tenant owns exactly one SQLite database; nothing outside that
// tenant's actor ever touches it. Open creates the database on first use
// and applies the schema, which is idempotent. The pure-Go driver
// (modernc.org/sqlite) keeps the binary free of cgo.
//
// Timestamps are stored as Unix milliseconds so visibility and expiry
// comparisons can be done numerically in SQL.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps one tenant's SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the tenant database at path and ensures the
// schema exists. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// A single connection serializes all statements, matching the
	// one-operation-at-a-time contract of the owning actor.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for durability without blocking readers on commit.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS counters (
		name       TEXT PRIMARY KEY,
		value      INTEGER NOT NULL,
		min        INTEGER,
		max        INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locks (
		name         TEXT PRIMARY KEY,
		holder_token TEXT NOT NULL,
		acquired_at  INTEGER NOT NULL,
		expires_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		queue       TEXT NOT NULL,
		payload     TEXT NOT NULL,
		state       TEXT NOT NULL,
		attempt     INTEGER NOT NULL DEFAULT 0,
		lease_token TEXT,
		visible_at  INTEGER NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_queue_state ON jobs(queue, state);
	CREATE INDEX IF NOT EXISTS idx_jobs_queue_created ON jobs(queue, created_at);

	CREATE TABLE IF NOT EXISTS memory (
		key        TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		summary    TEXT NOT NULL DEFAULT '',
		embedding  BLOB NOT NULL,
		tags       TEXT,
		type       TEXT NOT NULL,
		importance INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_type ON memory(type);

	CREATE TABLE IF NOT EXISTS links (
		slug       TEXT PRIMARY KEY,
		url        TEXT NOT NULL,
		title      TEXT,
		clicks     INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS link_clicks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		slug       TEXT NOT NULL REFERENCES links(slug) ON DELETE CASCADE,
		clicked_at INTEGER NOT NULL,
		referrer   TEXT,
		user_agent TEXT,
		country    TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_link_clicks_slug ON link_clicks(slug, clicked_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying handle to the service layers that share this store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path ("" for in-memory stores).
func (s *Store) Path() string {
	if s.path == ":memory:" {
		return ""
	}
	return s.path
}

// Close shuts down the database.
func (s *Store) Close() error {
	return s.db.Close()
}
