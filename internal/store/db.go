// Package store provides SQLite-based persistence for delegate.
// One database lives under the home directory's protected subtree and
// holds teams, agents, tasks, messages, repos, and session state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with delegate-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations in numbered order.
// It is idempotent: already-applied versions are skipped.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Teams},
		{2, migrationV2Tasks},
		{3, migrationV3Messages},
		{4, migrationV4Repos},
		{5, migrationV5Sessions},
		{6, migrationV6Members},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Teams = `
CREATE TABLE IF NOT EXISTS teams (
	name TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	name TEXT PRIMARY KEY,
	team TEXT NOT NULL REFERENCES teams(name) ON DELETE CASCADE,
	role TEXT NOT NULL DEFAULT 'engineer',
	model TEXT NOT NULL DEFAULT '',
	bio TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_agents_team ON agents(team);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	team TEXT NOT NULL REFERENCES teams(name) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	dri TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'unassigned',
	branches TEXT NOT NULL DEFAULT '{}',
	base_shas TEXT NOT NULL DEFAULT '{}',
	merge_tips TEXT NOT NULL DEFAULT '{}',
	merge_attempts INTEGER NOT NULL DEFAULT 0,
	retry_after TEXT,
	rejection_reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_team ON tasks(team);
CREATE INDEX IF NOT EXISTS idx_tasks_team_status ON tasks(team, status);
CREATE INDEX IF NOT EXISTS idx_tasks_team_dri ON tasks(team, dri);
`

const migrationV3Messages = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	team TEXT NOT NULL REFERENCES teams(name) ON DELETE CASCADE,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	body TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'chat',
	created_at TEXT NOT NULL,
	delivered_at TEXT,
	seen_at TEXT,
	processed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_team_recipient ON messages(team, recipient);
CREATE INDEX IF NOT EXISTS idx_messages_team_sender ON messages(team, sender);
`

const migrationV4Repos = `
CREATE TABLE IF NOT EXISTS repos (
	team TEXT NOT NULL REFERENCES teams(name) ON DELETE CASCADE,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	approval TEXT NOT NULL DEFAULT 'auto',
	pipeline TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (team, name)
);
`

const migrationV5Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	team TEXT NOT NULL,
	agent TEXT NOT NULL,
	session_id TEXT NOT NULL,
	generation INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens INTEGER NOT NULL DEFAULT 0,
	cache_write_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0.0,
	turns INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (team, agent)
);
`

const migrationV6Members = `
CREATE TABLE IF NOT EXISTS members (
	name TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
// Nanosecond precision keeps message ordering stable within a second.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
