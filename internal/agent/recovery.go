package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anteroomhq/anteroom/pkg/models"
)

const (
	compactionMaxTokens  = 1000
	compactionTextClip   = 400
	compactionArgPreview = 80
	compactionSnippet    = 120
)

// recover applies the context-recovery strategies in order: truncation first,
// compaction if truncation found nothing to cut. Returns true when the
// iteration should be retried. Emits user-visible note tokens so the front
// end can explain the pause.
func (l *Loop) recover(ctx context.Context, st *runState, out chan<- models.AgentEvent) bool {
	if truncateToolOutputs(st.history, l.cfg.ToolOutputMaxChars) {
		l.logger.Info("context recovery: truncated oversized tool outputs")
		l.emit(out, models.AgentEvent{
			Kind:  models.EventToken,
			Token: "\n[Context limit reached; tool output was too large, truncated and retrying]\n",
		})
		return true
	}

	summary, err := l.compactHistory(ctx, st.history)
	if err != nil {
		l.logger.Warn("context recovery: compaction failed", "error", err)
		return false
	}
	st.history = []models.Message{{
		Role:    models.RoleSystem,
		Content: "Conversation summary (earlier history was compacted to fit the context window):\n\n" + summary,
	}}
	l.emit(out, models.AgentEvent{
		Kind:  models.EventToken,
		Token: "\n[Context limit reached; conversation history was summarized, retrying]\n",
	})
	return true
}

// truncationMark opens the hint appended to every truncated tool output. Its
// presence tells a later pass the message has already been cut.
const truncationMark = "\n...[truncated: original output was "

// truncateToolOutputs trims tool-role messages longer than maxChars in place,
// appending a retry hint naming the original length and the tool. Returns
// true when anything changed; a second pass over already-truncated history is
// a no-op.
func truncateToolOutputs(history []models.Message, maxChars int) bool {
	changed := false
	for i := range history {
		msg := &history[i]
		if msg.Role != models.RoleTool || len(msg.Content) <= maxChars {
			continue
		}
		if strings.Contains(msg.Content, truncationMark) {
			continue
		}
		toolName := toolNameFor(history[:i], msg.ToolCallID)
		hint := fmt.Sprintf(
			truncationMark+"%d chars from tool %s; re-run the tool with narrower arguments if the full output is needed]",
			len(msg.Content), toolName,
		)
		msg.Content = msg.Content[:maxChars] + hint
		changed = true
	}
	return changed
}

// toolNameFor finds the tool name for a call id in earlier assistant messages.
func toolNameFor(history []models.Message, callID string) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != models.RoleAssistant {
			continue
		}
		for _, tc := range history[i].ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	return "unknown"
}

// compactionPrompt tells the model what the summary must preserve.
const compactionPrompt = `Summarize the conversation below for continued work. Preserve:
- decisions made and their reasons
- every file path touched
- plan steps completed vs remaining
- the current state of the task
- errors encountered and how they were handled
Be concise. Output only the summary.`

// compactHistory asks the LLM for a structured summary of the whole history.
func (l *Loop) compactHistory(ctx context.Context, history []models.Message) (string, error) {
	var b strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			fmt.Fprintf(&b, "USER: %s\n", clipText(msg.Content, compactionTextClip))
		case models.RoleAssistant:
			if msg.Content != "" {
				fmt.Fprintf(&b, "ASSISTANT: %s\n", clipText(msg.Content, compactionTextClip))
			}
			for _, tc := range msg.ToolCalls {
				fmt.Fprintf(&b, "TOOL CALL: %s(%s)\n", tc.Name, clipText(tc.RawArgs, compactionArgPreview))
			}
		case models.RoleTool:
			status := "SUCCESS"
			if strings.Contains(msg.Content, `"error"`) {
				status = "ERROR"
			}
			fmt.Fprintf(&b, "TOOL RESULT [%s]: %s\n", status, clipText(msg.Content, compactionSnippet))
		}
	}

	request := []models.Message{
		{Role: models.RoleSystem, Content: compactionPrompt},
		{Role: models.RoleUser, Content: b.String()},
	}
	summary, err := l.client.Complete(ctx, request, compactionMaxTokens)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("compaction produced an empty summary")
	}
	return summary, nil
}

func clipText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
