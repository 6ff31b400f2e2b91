package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	user TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

CREATE TABLE IF NOT EXISTS tool_calls (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	name TEXT NOT NULL,
	server TEXT NOT NULL DEFAULT '',
	input TEXT NOT NULL DEFAULT '',
	call_id TEXT NOT NULL DEFAULT '',
	output TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_message ON tool_calls(message_id);
`

// SQLiteStore implements Store on an embedded SQLite database. Writes are
// serialized through an internal mutex; SQLite itself is single-writer.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use
// ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreateMessage inserts one message row.
func (s *SQLiteStore) CreateMessage(ctx context.Context, conversationID, role, content, user string) (*MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		User:           user,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, user, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ConversationID, rec.Role, rec.Content, rec.User, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return rec, nil
}

// CreateToolCall inserts one tool-call row in pending status.
func (s *SQLiteStore) CreateToolCall(ctx context.Context, messageID, name, server, input, callID string) (*ToolCallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec := &ToolCallRecord{
		ID:        uuid.NewString(),
		MessageID: messageID,
		Name:      name,
		Server:    server,
		Input:     input,
		CallID:    callID,
		Status:    "pending",
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, message_id, name, server, input, call_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MessageID, rec.Name, rec.Server, rec.Input, rec.CallID, rec.Status, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert tool call: %w", err)
	}
	return rec, nil
}

// UpdateToolCall records the outcome of a tool call.
func (s *SQLiteStore) UpdateToolCall(ctx context.Context, toolCallID, output, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_calls SET output = ?, status = ?, updated_at = ? WHERE id = ?`,
		output, status, time.Now().UTC(), toolCallID,
	)
	if err != nil {
		return fmt.Errorf("update tool call: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tool call %s not found", toolCallID)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
