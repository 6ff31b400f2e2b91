// Package subagent implements the run_agent tool: bounded-concurrency
// spawning of isolated child agent sessions with depth and total caps.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/anteroomhq/anteroom/internal/agent"
	"github.com/anteroomhq/anteroom/internal/llm"
	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// MaxDepth is the deepest sub-agent nesting allowed. Spawning at this depth
// is rejected, and the schemas handed to a child one level above it already
// exclude run_agent so its model never sees the tool.
const MaxDepth = 3

const (
	maxPromptChars     = 32 * 1024
	maxOutputChars     = 4 * 1024
	childMaxIterations = 25
)

// modelPattern restricts model overrides to safe identifier strings.
var modelPattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]{1,128}$`)

// childSystemPrompt reminds the sub-agent that the same policies apply.
const childSystemPrompt = "You are a sub-agent completing a delegated task. " +
	"All safety policies of the parent session apply to you: destructive commands " +
	"require the same approvals, and sensitive paths remain off limits. " +
	"Complete the task and report your result concisely."

// SchemaProvider returns the tool declarations for a child at the given
// depth. The registry's Schemas method, with run_agent excluded near the
// depth cap, satisfies it.
type SchemaProvider func(childDepth int) []llm.ToolSchema

// SpawnTool runs an isolated child agent loop.
type SpawnTool struct {
	client   *llm.Client
	executor agent.ToolExecutor
	schemas  SchemaProvider
	logger   *slog.Logger

	mu       sync.Mutex
	children map[string]int
}

// NewSpawnTool builds the tool. client is the parent's chat client; children
// are cloned from it and share its token provider.
func NewSpawnTool(client *llm.Client, executor agent.ToolExecutor, schemas SchemaProvider, logger *slog.Logger) *SpawnTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpawnTool{
		client:   client,
		executor: executor,
		schemas:  schemas,
		logger:   logger.With("component", "subagent"),
		children: make(map[string]int),
	}
}

func (t *SpawnTool) Name() string { return "run_agent" }

func (t *SpawnTool) Description() string {
	return "Delegate a task to an isolated sub-agent with its own conversation. Use for parallelizable or self-contained work."
}

func (t *SpawnTool) Tier() safety.Tier { return safety.TierExecute }

func (t *SpawnTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "Task description for the sub-agent.",
			},
			"model": map[string]any{
				"type":        "string",
				"description": "Optional model override for the sub-agent.",
			},
		},
		"required": []string{"prompt"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute admits, runs, and reports one sub-agent session. Failures inside
// the child surface as a generic error message: child exception text can
// contain secrets and never reaches the parent.
func (t *SpawnTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return map[string]any{"error": "prompt is required"}, nil
	}
	if len(prompt) > maxPromptChars {
		return map[string]any{"error": fmt.Sprintf("prompt exceeds %d chars", maxPromptChars)}, nil
	}

	modelOverride, _ := args["model"].(string)
	if modelOverride != "" && !modelPattern.MatchString(modelOverride) {
		return map[string]any{"error": "invalid model identifier"}, nil
	}

	depth := 0
	if inv != nil {
		depth = inv.Depth
	}
	if depth >= MaxDepth {
		return map[string]any{"error": "depth limit exceeded"}, nil
	}

	if inv == nil || inv.Limiter == nil {
		return map[string]any{"error": "sub-agent limiter unavailable"}, nil
	}
	if err := inv.Limiter.Acquire(ctx); err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	defer inv.Limiter.Release()

	agentID := t.childID(inv.AgentID)
	childDepth := depth + 1

	childClient := t.client.Clone(modelOverride)
	childSchemas := t.schemas(childDepth)

	childInv := &tools.Invocation{
		ConversationID: inv.ConversationID,
		AgentID:        agentID,
		Depth:          childDepth,
		Limiter:        inv.Limiter,
		Sink:           inv.Sink,
		Cancel:         inv.Cancel,
		Approve:        inv.Approve,
	}

	loop := agent.NewLoop(childClient, t.executor, childSchemas, nil, agent.LoopConfig{
		MaxIterations:     childMaxIterations,
		ExtraSystemPrompt: childSystemPrompt,
		AgentID:           agentID,
	}, t.logger)

	history := []models.Message{{Role: models.RoleUser, Content: prompt}}

	if inv.Sink != nil {
		inv.Sink.Publish(models.AgentEvent{
			Kind:    models.EventSubagentStart,
			AgentID: agentID,
			Data:    map[string]any{"model": childClient.Model(), "depth": childDepth},
			Time:    time.Now().UTC(),
		})
	}

	start := time.Now()
	var output strings.Builder
	truncated := false
	failed := false
	toolNames := []string{}
	seenTools := map[string]struct{}{}

	for ev := range loop.Run(ctx, inv.Cancel, history, childInv) {
		if inv.Sink != nil {
			inv.Sink.Publish(ev)
		}
		switch ev.Kind {
		case models.EventToken:
			if output.Len() < maxOutputChars {
				room := maxOutputChars - output.Len()
				if len(ev.Token) > room {
					output.WriteString(ev.Token[:room])
					truncated = true
				} else {
					output.WriteString(ev.Token)
				}
			} else {
				truncated = true
			}
		case models.EventToolCallStart:
			if ev.ToolCall != nil {
				if _, seen := seenTools[ev.ToolCall.Name]; !seen {
					seenTools[ev.ToolCall.Name] = struct{}{}
					toolNames = append(toolNames, ev.ToolCall.Name)
				}
			}
		case models.EventError:
			failed = true
			t.logger.Warn("sub-agent failed", "agent_id", agentID, "code", ev.ErrCode)
		}
	}

	elapsed := time.Since(start)

	if inv.Sink != nil {
		inv.Sink.Publish(models.AgentEvent{
			Kind:    models.EventSubagentEnd,
			AgentID: agentID,
			Data:    map[string]any{"elapsed_seconds": math.Round(elapsed.Seconds()*10) / 10},
			Time:    time.Now().UTC(),
		})
	}

	result := map[string]any{
		"output":          output.String(),
		"elapsed_seconds": math.Round(elapsed.Seconds()*10) / 10,
		"tool_calls_made": toolNames,
		"model_used":      childClient.Model(),
	}
	if truncated {
		result["truncated"] = true
	}
	if failed {
		result["error"] = "Sub-agent execution failed"
	}
	return result, nil
}

// childID derives the next `<parent>.<n>` id. Each parent numbers its own
// children from 1, so a parent's first child is always `<parent>.1` no matter
// what other agents have spawned.
func (t *SpawnTool) childID(parent string) string {
	if parent == "" {
		parent = "root"
	}
	t.mu.Lock()
	t.children[parent]++
	n := t.children[parent]
	t.mu.Unlock()
	return fmt.Sprintf("%s.%d", parent, n)
}
