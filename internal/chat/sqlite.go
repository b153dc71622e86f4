package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteSessionStore persists chat sessions in SQLite. Messages are stored as
// a JSON document per session; chat histories are read and written whole.
type SQLiteSessionStore struct {
	db *sql.DB
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	messages TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON chat_sessions(updated_at);
`

// NewSQLiteSessionStore opens (or creates) a session store at path. Use
// ":memory:" for an ephemeral store.
func NewSQLiteSessionStore(path string) (*SQLiteSessionStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(sessionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}
	return &SQLiteSessionStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteSessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create stores a new session, assigning an id when missing.
func (s *SQLiteSessionStore) Create(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, title, messages, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Title, string(messages), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *SQLiteSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, messages, created_at, updated_at FROM chat_sessions WHERE id = ?`, id)

	var session Session
	var messages string
	err := row.Scan(&session.ID, &session.Title, &messages, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal([]byte(messages), &session.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return &session, nil
}

// Update replaces a stored session.
func (s *SQLiteSessionStore) Update(ctx context.Context, session *Session) error {
	session.UpdatedAt = time.Now()
	messages, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, messages = ?, updated_at = ? WHERE id = ?`,
		session.Title, string(messages), session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("session %s not found", session.ID)
	}
	return nil
}

// List returns all sessions, most recently updated first.
func (s *SQLiteSessionStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, messages, created_at, updated_at FROM chat_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var session Session
		var messages string
		if err := rows.Scan(&session.ID, &session.Title, &messages, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &session.Messages); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
		out = append(out, &session)
	}
	return out, rows.Err()
}

// Delete removes a session.
func (s *SQLiteSessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
