package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markatally/agentloop/internal/llm"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	tool_calls TEXT,
	tool_id    TEXT NOT NULL DEFAULT '',
	tool_name  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, position);

CREATE TABLE IF NOT EXISTS tool_call_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	tool_name   TEXT NOT NULL,
	parameters  TEXT,
	fingerprint INTEGER NOT NULL DEFAULT 0,
	success     INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tool_call_log_session ON tool_call_log(session_id);
`

// Store persists sessions and the tool-call log in sqlite
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the sqlite database at path, creating
// parent directories as needed.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession writes the session row and rewrites its messages in one
// transaction. Message histories are small enough that a full rewrite is
// simpler and safer than diffing.
func (s *Store) SaveSession(sess *Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO sessions (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		sess.ID, sess.UserID, sess.Title, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sess.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO messages
		(session_id, position, role, content, tool_calls, tool_id, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, msg := range sess.History() {
		var toolCalls sql.NullString
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to encode tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.Exec(sess.ID, i, msg.Role, msg.Content, toolCalls, msg.ToolID, msg.ToolName, msg.Timestamp); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// LoadSession reads one session with its full message history
func (s *Store) LoadSession(id string) (*Session, error) {
	sess := &Session{ID: id}
	err := s.db.QueryRow(`SELECT user_id, title, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.UserID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT role, content, tool_calls, tool_id, tool_name, created_at
		FROM messages WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var msg llm.Message
		var toolCalls sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &toolCalls, &msg.ToolID, &msg.ToolName, &msg.Timestamp); err != nil {
			return nil, err
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls: %w", err)
			}
		}
		sess.Messages = append(sess.Messages, msg)
	}
	return sess, rows.Err()
}

// ListSessions returns metadata ordered by most recent activity
func (s *Store) ListSessions() ([]Metadata, error) {
	rows, err := s.db.Query(`SELECT s.id, s.user_id, s.title, s.created_at, s.updated_at,
		(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var meta Metadata
		if err := rows.Scan(&meta.ID, &meta.UserID, &meta.Title, &meta.CreatedAt, &meta.UpdatedAt, &meta.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// DeleteSession removes a session, its messages and its tool-call log
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM tool_call_log WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// LogToolCall appends one executed tool call to the audit log
func (s *Store) LogToolCall(sessionID, toolName string, parameters map[string]interface{}, fingerprint uint64, success bool, at time.Time) error {
	var params sql.NullString
	if parameters != nil {
		data, err := json.Marshal(parameters)
		if err != nil {
			return fmt.Errorf("failed to encode parameters: %w", err)
		}
		params = sql.NullString{String: string(data), Valid: true}
	}

	// sqlite stores integers as signed 64-bit; the cast is reversed on read.
	_, err := s.db.Exec(`INSERT INTO tool_call_log (session_id, tool_name, parameters, fingerprint, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, toolName, params, int64(fingerprint), success, at)
	return err
}

// ToolCallLogEntry is one row of the audit log
type ToolCallLogEntry struct {
	ToolName    string                 `json:"tool_name"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Fingerprint uint64                 `json:"fingerprint"`
	Success     bool                   `json:"success"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ToolCallLog returns the session's tool calls in execution order
func (s *Store) ToolCallLog(sessionID string) ([]ToolCallLogEntry, error) {
	rows, err := s.db.Query(`SELECT tool_name, parameters, fingerprint, success, created_at
		FROM tool_call_log WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolCallLogEntry
	for rows.Next() {
		var entry ToolCallLogEntry
		var params sql.NullString
		var fingerprint int64
		if err := rows.Scan(&entry.ToolName, &params, &fingerprint, &entry.Success, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Fingerprint = uint64(fingerprint)
		if params.Valid {
			if err := json.Unmarshal([]byte(params.String), &entry.Parameters); err != nil {
				return nil, fmt.Errorf("failed to decode parameters: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
