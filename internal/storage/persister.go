package storage

import (
	"context"
	"log/slog"

	"github.com/anteroomhq/anteroom/internal/events"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// Persister consumes the event stream and writes assistant messages and tool
// calls to the store. It runs on its own goroutine so the agent loop never
// blocks on persistence.
type Persister struct {
	store          Store
	conversationID string
	logger         *slog.Logger

	// lastMessageID anchors tool calls to their assistant message.
	lastMessageID string
}

// NewPersister builds a persister for one conversation.
func NewPersister(store Store, conversationID string, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		store:          store,
		conversationID: conversationID,
		logger:         logger.With("component", "persister"),
	}
}

// Run drains the subscription until it closes. Persistence errors are logged
// and skipped; a failed write never stops the turn.
func (p *Persister) Run(ctx context.Context, sub *events.Subscription) {
	if sub == nil {
		return
	}
	for ev := range sub.Events() {
		switch ev.Kind {
		case models.EventAssistantMessage:
			rec, err := p.store.CreateMessage(ctx, p.conversationID, string(models.RoleAssistant), ev.Message, "")
			if err != nil {
				p.logger.Warn("persist assistant message", "error", err)
				continue
			}
			p.lastMessageID = rec.ID
		case models.EventQueuedMessage:
			if _, err := p.store.CreateMessage(ctx, p.conversationID, string(models.RoleUser), ev.Message, ""); err != nil {
				p.logger.Warn("persist queued message", "error", err)
			}
		case models.EventToolCallEnd:
			if ev.ToolResult == nil {
				continue
			}
			res := ev.ToolResult
			rec, err := p.store.CreateToolCall(ctx, p.lastMessageID, res.ToolName, "", "", res.ID)
			if err != nil {
				p.logger.Warn("persist tool call", "error", err)
				continue
			}
			if err := p.store.UpdateToolCall(ctx, rec.ID, res.OutputJSON(), string(res.Status)); err != nil {
				p.logger.Warn("update tool call", "error", err)
			}
		}
	}
}
