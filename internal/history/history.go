// Package history persists a per-workspace log of tool invocations in a
// SQLite database next to the daemon's other runtime files. The daemon
// records every tool.invoke; the CLI reads it back through tool.history.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leonletto/anvil/internal/protocol"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    tool        TEXT NOT NULL,
    workflow    TEXT NOT NULL,
    args        TEXT NOT NULL DEFAULT '',
    is_error    INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    invoked_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_tool ON invocations(tool);
CREATE INDEX IF NOT EXISTS idx_invocations_invoked_at ON invocations(invoked_at);
`

// DefaultLimit caps tool.history responses when the caller does not ask for
// a specific row count.
const DefaultLimit = 50

// Store is the invocation history database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// The daemon is the only writer; a single connection avoids SQLITE_BUSY
	// under concurrent request handling.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one invocation row.
func (s *Store) Record(entry protocol.ToolHistoryEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO invocations (tool, workflow, args, is_error, duration_ms, invoked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Tool, entry.Workflow, entry.Args,
		boolToInt(entry.IsError), entry.DurationMs,
		entry.InvokedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// List returns the most recent invocations, newest first, optionally
// filtered by tool name. limit <= 0 falls back to DefaultLimit.
func (s *Store) List(tool string, limit int) ([]protocol.ToolHistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, tool, workflow, args, is_error, duration_ms, invoked_at
	          FROM invocations`
	var queryArgs []any
	if tool != "" {
		query += ` WHERE tool = ?`
		queryArgs = append(queryArgs, tool)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	queryArgs = append(queryArgs, limit)

	rows, err := s.db.Query(query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []protocol.ToolHistoryEntry
	for rows.Next() {
		var entry protocol.ToolHistoryEntry
		var isError int
		var invokedAt string
		if err := rows.Scan(&entry.ID, &entry.Tool, &entry.Workflow, &entry.Args,
			&isError, &entry.DurationMs, &invokedAt); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		entry.IsError = isError != 0
		if ts, err := time.Parse(time.RFC3339Nano, invokedAt); err == nil {
			entry.InvokedAt = ts
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}
	return entries, nil
}

// Count returns the total number of recorded invocations.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM invocations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count invocations: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
