package gate

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Toggle is the stored parse switch for one group.
type Toggle struct {
	GroupID   string
	Enabled   bool
	UpdatedAt time.Time
}

// Store persists per-group toggles in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, pkgerrors.New("gate: empty database path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, pkgerrors.Wrap(err, "gate: create database dir failed")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "gate: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "gate: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	const createTable = `CREATE TABLE IF NOT EXISTS group_toggles (
		group_id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(createTable); err != nil {
		return pkgerrors.Wrap(err, "gate: create group_toggles table failed")
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) SetEnabled(ctx context.Context, groupID string, enabled bool) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return pkgerrors.New("gate: empty group id")
	}
	const stmt = `INSERT INTO group_toggles (group_id, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, stmt, groupID, boolToInt(enabled), time.Now().UnixMilli())
	return pkgerrors.Wrapf(err, "gate: set toggle for group %s", groupID)
}

// Enabled returns the stored toggle; found is false when the group has none.
func (s *Store) Enabled(ctx context.Context, groupID string) (enabled bool, found bool, err error) {
	var v int
	err = s.db.QueryRowContext(ctx, `SELECT enabled FROM group_toggles WHERE group_id = ?`, groupID).Scan(&v)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, pkgerrors.Wrapf(err, "gate: query toggle for group %s", groupID)
	}
	return v != 0, true, nil
}

func (s *Store) List(ctx context.Context) ([]Toggle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, enabled, updated_at FROM group_toggles ORDER BY group_id`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "gate: query toggles failed")
	}
	defer rows.Close()

	var toggles []Toggle
	for rows.Next() {
		var (
			t         Toggle
			enabled   int
			updatedAt int64
		)
		if err := rows.Scan(&t.GroupID, &enabled, &updatedAt); err != nil {
			return nil, pkgerrors.Wrap(err, "gate: scan toggle row failed")
		}
		t.Enabled = enabled != 0
		t.UpdatedAt = time.UnixMilli(updatedAt)
		toggles = append(toggles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "gate: iterate toggle rows failed")
	}
	return toggles, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
