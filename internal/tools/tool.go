// Package tools implements the tool registry and the invocation pipeline
// that routes every tool call through the safety gate.
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anteroomhq/anteroom/internal/cancel"
	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// Handler is an executable tool. Handlers receive decoded arguments plus an
// Invocation carrying the per-call context that the registry threads through
// (bypass flags, sub-agent depth, shared limiter, event sink).
type Handler interface {
	// Name returns the function-calling name (alphanumeric, underscores).
	Name() string

	// Description helps the model decide when to use the tool.
	Description() string

	// Tier is the risk classification consulted by the safety gate.
	Tier() safety.Tier

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Normal tool failures are returned as a result
	// map with an "error" key; the error return is reserved for
	// catastrophic conditions.
	Execute(ctx context.Context, args map[string]any, inv *Invocation) (map[string]any, error)
}

// EventSink receives agent events from tools that stream progress, such as
// the sub-agent scheduler.
type EventSink interface {
	Publish(ev models.AgentEvent)
}

// ApprovalResponse is the user's answer to an approval prompt.
type ApprovalResponse struct {
	Approved bool

	// ForSession grants the tool for the rest of the session.
	ForSession bool
}

// ApprovalFunc asks the user to approve a gated tool call. A nil func means
// no approval channel exists (non-interactive mode).
type ApprovalFunc func(ctx context.Context, v safety.Verdict) (ApprovalResponse, error)

// Invocation carries per-call context through the registry into handlers.
// It replaces ad-hoc hidden arguments with one explicit parameter.
type Invocation struct {
	// ConversationID scopes canvas artifacts and persistence.
	ConversationID string

	// AgentID identifies the calling agent ("root", "root.1", ...).
	AgentID string

	// Depth is the sub-agent nesting depth of the caller.
	Depth int

	// BypassHardBlock is set by the registry only after the user explicitly
	// approved a hard-blocked pattern.
	BypassHardBlock bool

	// Limiter is the shared sub-agent admission record for this root turn.
	Limiter *Limiter

	// Sink receives forwarded events (sub-agent streams). May be nil.
	Sink EventSink

	// Cancel is the turn's cancellation token. May be nil.
	Cancel *cancel.Token

	// Approve is the approval channel. Nil in non-interactive mode.
	Approve ApprovalFunc
}

// child returns a copy for handler execution with the bypass flag set.
func (inv *Invocation) withBypass(bypass bool) *Invocation {
	if inv == nil {
		return &Invocation{BypassHardBlock: bypass}
	}
	c := *inv
	c.BypassHardBlock = bypass
	return &c
}

// decisionKey tags results with the gate outcome for audit. It is internal
// bookkeeping and is stripped before the result reaches the model.
const decisionKey = "_decision"

// Decision values recorded under decisionKey.
const (
	DecisionAuto        = "auto"
	DecisionAllowedOnce = "allowed_once"
	DecisionDenied      = "denied"
	DecisionHardDenied  = "hard_denied"
)

// StripInternal returns a copy of the result map without internal keys
// (any key starting with "_"). The original map is not modified.
func StripInternal(output map[string]any) map[string]any {
	if output == nil {
		return nil
	}
	clean := make(map[string]any, len(output))
	for k, v := range output {
		if strings.HasPrefix(k, "_") {
			continue
		}
		clean[k] = v
	}
	return clean
}

// errResult builds an error-shaped tool output.
func errResult(msg string, extra map[string]any) map[string]any {
	out := map[string]any{"error": msg}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// statusFor derives the result status from the output shape.
func statusFor(output map[string]any) models.ToolCallStatus {
	if _, ok := output["error"]; ok {
		return models.StatusError
	}
	return models.StatusSuccess
}
