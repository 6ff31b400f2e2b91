// Package models defines the shared value types exchanged between the agent
// loop, the safety gate, the tool registry, and the front-ends.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem is a system instruction message.
	RoleSystem Role = "system"
	// RoleUser is a message from the human operator.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleTool is a tool execution result fed back to the model.
	RoleTool Role = "tool"
)

// Message is one ordered element of conversation history.
//
// Invariant: every RoleTool message references a ToolCallID present in an
// earlier RoleAssistant message's ToolCalls list within the same history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls holds pending tool-call requests (assistant role only).
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role result back to its request.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCallRequest is an atomic LLM-issued function-call intent.
// The ID is opaque and unique within a single LLM turn.
type ToolCallRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`

	// RawArgs preserves the exact JSON argument string as streamed,
	// used when replaying the call back to the upstream API.
	RawArgs string `json:"-"`
}

// ToolCallStatus classifies the outcome of a dispatched tool call.
type ToolCallStatus string

const (
	StatusSuccess   ToolCallStatus = "success"
	StatusError     ToolCallStatus = "error"
	StatusCancelled ToolCallStatus = "cancelled"
)

// ToolCallResult is the outcome of dispatching a ToolCallRequest.
//
// Output shipped back to the LLM must not contain internal bookkeeping keys;
// the registry strips any key starting with "_" before serialization.
type ToolCallResult struct {
	ID       string         `json:"id"`
	ToolName string         `json:"tool_name"`
	Output   map[string]any `json:"output"`
	Status   ToolCallStatus `json:"status"`
}

// OutputJSON serializes the result output for inclusion in history.
func (r ToolCallResult) OutputJSON() string {
	if r.Output == nil {
		return "{}"
	}
	data, err := json.Marshal(r.Output)
	if err != nil {
		return `{"error":"unserializable tool output"}`
	}
	return string(data)
}

// EventKind discriminates AgentEvent payloads.
type EventKind string

const (
	EventThinking          EventKind = "thinking"
	EventPhase             EventKind = "phase"
	EventToken             EventKind = "token"
	EventToolCallArgsDelta EventKind = "tool_call_args_delta"
	EventToolCallStart     EventKind = "tool_call_start"
	EventToolCallEnd       EventKind = "tool_call_end"
	EventAssistantMessage  EventKind = "assistant_message"
	EventQueuedMessage     EventKind = "queued_message"
	EventAutoPlanSuggest   EventKind = "auto_plan_suggest"
	EventError             EventKind = "error"
	EventDone              EventKind = "done"
	EventSubagentStart     EventKind = "subagent_start"
	EventSubagentEnd       EventKind = "subagent_end"
	EventRetrying          EventKind = "retrying"

	// EventApprovalRequired is emitted only on the web event channel when a
	// gated tool call awaits a user decision.
	EventApprovalRequired EventKind = "approval_required"
)

// AgentEvent is a typed record emitted by the agent loop. Exactly one of the
// payload fields relevant to Kind is populated; the rest are zero.
type AgentEvent struct {
	Kind EventKind `json:"kind"`

	// Token carries a streamed text delta (token, tool_call_args_delta).
	Token string `json:"token,omitempty"`

	// Phase names the current stream phase (connecting, waiting, streaming).
	Phase string `json:"phase,omitempty"`

	// Message carries the full assistant text, a queued user message, or an
	// error description depending on Kind.
	Message string `json:"message,omitempty"`

	// ToolCall is set on tool_call_start and tool_call_args_delta.
	ToolCall *ToolCallRequest `json:"tool_call,omitempty"`

	// ToolResult is set on tool_call_end.
	ToolResult *ToolCallResult `json:"tool_result,omitempty"`

	// AgentID tags events forwarded from sub-agents (e.g. "root.1.2").
	AgentID string `json:"agent_id,omitempty"`

	// ErrCode is a structured error code on error/retrying events.
	ErrCode string `json:"err_code,omitempty"`

	// Retryable marks errors the front-end may countdown-retry.
	Retryable bool `json:"retryable,omitempty"`

	// Data carries kind-specific extras (auto_plan_suggest tool_calls count,
	// retrying wait seconds, subagent timing).
	Data map[string]any `json:"data,omitempty"`

	Time time.Time `json:"time,omitzero"`
}

// ApprovalMode is the user-configured policy governing which tool tiers
// require human confirmation.
type ApprovalMode string

const (
	ApprovalAuto         ApprovalMode = "auto"
	ApprovalAskDangerous ApprovalMode = "ask_for_dangerous"
	ApprovalAskWrites    ApprovalMode = "ask_for_writes"
	ApprovalAsk          ApprovalMode = "ask"
)
