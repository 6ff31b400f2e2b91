// Package storage persists conversation messages and tool calls. The core
// only writes during a turn; reads happen out of band.
package storage

import "context"

// MessageRecord is a persisted conversation message.
type MessageRecord struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	User           string
}

// ToolCallRecord is a persisted tool invocation.
type ToolCallRecord struct {
	ID        string
	MessageID string
	Name      string
	Server    string
	Input     string
	CallID    string
	Output    string
	Status    string
}

// Store is the persistence contract. Implementations serialize writes
// internally; callers treat them as single-writer.
type Store interface {
	CreateMessage(ctx context.Context, conversationID, role, content, user string) (*MessageRecord, error)
	CreateToolCall(ctx context.Context, messageID, name, server, input, callID string) (*ToolCallRecord, error)
	UpdateToolCall(ctx context.Context, toolCallID, output, status string) error
	Close() error
}
