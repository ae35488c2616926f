// Package audit persists the engine's observability events to SQLite. It is
// an event sink only: nothing here is ever read back to resume a workflow,
// so a process restart starts from a clean slate by design.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded event row.
type Entry struct {
	WorkflowID string
	TaskID     string
	EventType  string
	Agent      string
	Status     string
	Detail     string
	CreatedAt  time.Time
}

// Store appends and queries audit entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, workflowID string) ([]Entry, error)
	Close() error
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the audit database at dbPath.
// Parent directories are created; WAL mode and a busy timeout are enabled so
// concurrent appends from the recorder don't contend with readers.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL,
		task_id TEXT,
		event_type TEXT NOT NULL,
		agent TEXT,
		status TEXT,
		detail TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_workflow_id ON events(workflow_id);
	CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initializing audit schema: %w", err)
	}
	return nil
}

// Append writes one event row.
func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (workflow_id, task_id, event_type, agent, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.WorkflowID, entry.TaskID, entry.EventType, entry.Agent, entry.Status, entry.Detail, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// List returns all entries for a workflow ID in insertion order.
func (s *SQLiteStore) List(ctx context.Context, workflowID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, task_id, event_type, agent, status, detail, created_at
		FROM events
		WHERE workflow_id = ?
		ORDER BY id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.WorkflowID, &entry.TaskID, &entry.EventType, &entry.Agent, &entry.Status, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
