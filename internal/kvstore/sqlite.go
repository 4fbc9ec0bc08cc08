package kvstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// migration is one schema step, applied once and recorded.
type migration struct {
	Version int
	Name    string
	Apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{Version: 1, Name: "kv_table", Apply: func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE IF NOT EXISTS kv (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			)`)
		return err
	}},
}

// SQLite is a Store backed by a single-table SQLite database.
type SQLite struct {
	db   *sql.DB
	subs subscribers
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path, applies the
// standard pragmas and runs pending migrations. Use ":memory:" in tests.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("kvstore: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes
	// writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("kvstore: %s: %w", p, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("kvstore: create schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&n); err != nil {
			return fmt.Errorf("kvstore: check migration %d: %w", m.Version, err)
		}
		if n > 0 {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("kvstore: begin migration %d: %w", m.Version, err)
		}
		if err := m.Apply(tx); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("kvstore: apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("kvstore: record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("kvstore: commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		var v string
		err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", k).Scan(&v)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("kvstore: get %s: %w", k, err)
		}
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

func (s *SQLite) Set(ctx context.Context, entries map[string]any) error {
	enc, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kvstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UnixMilli()
	var changes []Change
	for k, v := range enc {
		var old []byte
		var oldStr string
		switch err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", k).Scan(&oldStr); err {
		case nil:
			old = []byte(oldStr)
		case sql.ErrNoRows:
		default:
			return fmt.Errorf("kvstore: read %s: %w", k, err)
		}
		if old != nil && bytes.Equal(old, v) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, string(v), now); err != nil {
			return fmt.Errorf("kvstore: write %s: %w", k, err)
		}
		changes = append(changes, Change{Key: k, Old: old, New: v})
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kvstore: commit: %w", err)
	}
	s.subs.notify(changes)
	return nil
}

func (s *SQLite) Remove(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kvstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var changes []Change
	for _, k := range keys {
		var oldStr string
		err := tx.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", k).Scan(&oldStr)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("kvstore: read %s: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", k); err != nil {
			return fmt.Errorf("kvstore: delete %s: %w", k, err)
		}
		changes = append(changes, Change{Key: k, Old: json.RawMessage(oldStr)})
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kvstore: commit: %w", err)
	}
	s.subs.notify(changes)
	return nil
}

func (s *SQLite) Subscribe(fn func([]Change)) func() {
	return s.subs.add(fn)
}

// Keys lists stored keys with their last update time, newest first.
func (s *SQLite) Keys(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, updated_at FROM kv ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("kvstore: list keys: %w", err)
	}
	defer rows.Close()
	out := map[string]time.Time{}
	for rows.Next() {
		var k string
		var ms int64
		if err := rows.Scan(&k, &ms); err != nil {
			return nil, fmt.Errorf("kvstore: scan key: %w", err)
		}
		out[k] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}
