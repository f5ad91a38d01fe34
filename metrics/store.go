// Package metrics provides the SQLite-backed record of tool executions,
// sessions and workflow runs.
//
// Information Hiding:
// - SQLite connection management and pragmas hidden
// - Schema and timestamp encoding (unix milliseconds) encapsulated
// - Single-writer discipline enforced internally

package metrics

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyCompleted is returned when a completion targets a row that is
// missing or already has a completion time.
var ErrAlreadyCompleted = errors.New("execution not open for completion")

// busyTimeoutMs bounds how long a connection waits on a locked database.
const busyTimeoutMs = 5000

// Store persists execution records.
// Reads run concurrently; writes are serialised by writeMu so the
// database only ever sees one writer from this process.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens or creates a metrics database at path in WAL mode.
// Creates parent directories if they don't exist.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics database: %w", err)
	}

	return newStore(db)
}

// OpenInMemory creates a private in-memory database (useful for testing).
// Each call gets its own database.
func OpenInMemory() (*Store, error) {
	dsn := fmt.Sprintf("file:chronicle-%s?mode=memory&cache=shared&_busy_timeout=%d", uuid.NewString(), busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory metrics database: %w", err)
	}
	// Shared-cache memory databases use table locks that busy_timeout does not
	// cover, and vanish when the last connection closes.
	db.SetMaxOpenConns(1)

	return newStore(db)
}

func newStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tool_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			agent_key TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			call_id TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			duration_ms INTEGER,
			status TEXT NOT NULL CHECK (status IN ('running', 'success', 'error', 'timeout')),
			error_message TEXT,
			input_size INTEGER,
			output_size INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_tool_executions_session
		ON tool_executions(session_id, started_at);

		CREATE INDEX IF NOT EXISTS idx_tool_executions_tool
		ON tool_executions(tool_name, started_at);

		CREATE INDEX IF NOT EXISTS idx_tool_executions_started
		ON tool_executions(started_at DESC);

		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			agent_key TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			total_tools INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			final_result TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_started
		ON sessions(started_at DESC);

		CREATE TABLE IF NOT EXISTS workflow_executions (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			session_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			duration_ms INTEGER,
			status TEXT NOT NULL CHECK (status IN ('running', 'success', 'error')),
			steps_total INTEGER NOT NULL DEFAULT 0,
			steps_completed INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_workflow_executions_started
		ON workflow_executions(started_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
