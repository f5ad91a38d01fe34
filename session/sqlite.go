package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/chronicle/llm"
)

// SQLiteStore implements Store using SQLite.
// Message content blocks are stored as JSON, one row per message.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates a session database at path.
// Creates parent directories if they don't exist.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	return newSQLiteStore(db)
}

// NewSQLiteStoreInMemory creates a private in-memory database (useful for testing).
func NewSQLiteStoreInMemory() (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:sessions-%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	db.SetMaxOpenConns(1)

	return newSQLiteStore(db)
}

func newSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_sessions (
			session_id TEXT PRIMARY KEY,
			agent_key TEXT NOT NULL DEFAULT '',
			max_history INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_index INTEGER NOT NULL,
			role TEXT NOT NULL,
			blocks TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES conversation_sessions(session_id) ON DELETE CASCADE,
			UNIQUE(session_id, message_index)
		);

		CREATE INDEX IF NOT EXISTS idx_conversation_messages_session
		ON conversation_messages(session_id, message_index);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save replaces the stored history of a session in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, sess Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback() }()

	var completed sql.NullInt64
	if sess.CompletedAt != nil {
		completed = sql.NullInt64{Int64: sess.CompletedAt.UnixMilli(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_sessions (session_id, agent_key, max_history, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			agent_key = excluded.agent_key,
			max_history = excluded.max_history,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at`,
		sess.ID, sess.AgentKey, sess.MaxHistory, sess.StartedAt.UnixMilli(), completed, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM conversation_messages WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("failed to clear old messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO conversation_messages (session_id, message_index, role, blocks) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for i, msg := range sess.Messages {
		blocks, err := json.Marshal(msg.Blocks)
		if err != nil {
			return fmt.Errorf("failed to encode message %d: %w", i, err)
		}
		if _, err = stmt.ExecContext(ctx, sess.ID, i, string(msg.Role), string(blocks)); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load returns the stored session.
func (s *SQLiteStore) Load(ctx context.Context, id string) (Session, bool, error) {
	sess := Session{ID: id}
	var started int64
	var completed sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT agent_key, max_history, started_at, completed_at
		FROM conversation_sessions WHERE session_id = ?`, id,
	).Scan(&sess.AgentKey, &sess.MaxHistory, &started, &completed)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to query session: %w", err)
	}
	sess.StartedAt = time.UnixMilli(started)
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		sess.CompletedAt = &t
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, blocks FROM conversation_messages WHERE session_id = ? ORDER BY message_index ASC", id)
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	sess.Messages = []llm.ChatMessage{}
	for rows.Next() {
		var role, blocks string
		if err := rows.Scan(&role, &blocks); err != nil {
			return Session{}, false, fmt.Errorf("failed to scan message: %w", err)
		}
		msg := llm.ChatMessage{Role: llm.Role(role)}
		if err := json.Unmarshal([]byte(blocks), &msg.Blocks); err != nil {
			return Session{}, false, fmt.Errorf("failed to decode message: %w", err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return Session{}, false, fmt.Errorf("error iterating messages: %w", err)
	}

	return sess, true, nil
}

// Delete removes a session and, via cascade, its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversation_sessions WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns stored session ids, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id FROM conversation_sessions ORDER BY updated_at DESC, session_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return ids, nil
}

var _ Store = (*SQLiteStore)(nil)
