package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
)

// remoteHandler adapts one MCP tool to the registry's Handler interface.
// Remote tools default to the EXECUTE tier: their effects are unknown, so
// they sit above reads and writes in the approval ordering.
type remoteHandler struct {
	manager *Manager
	tool    RemoteTool
}

func (h *remoteHandler) Name() string {
	return fmt.Sprintf("mcp:%s:%s", h.tool.Server, h.tool.Name)
}

func (h *remoteHandler) Description() string {
	desc := h.tool.Description
	if desc == "" {
		desc = "Remote tool " + h.tool.Name
	}
	return fmt.Sprintf("%s (via MCP server %s)", desc, h.tool.Server)
}

func (h *remoteHandler) Tier() safety.Tier { return safety.DefaultTier }

func (h *remoteHandler) Schema() json.RawMessage {
	if len(h.tool.Schema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return h.tool.Schema
}

func (h *remoteHandler) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	out, err := h.manager.CallTool(ctx, h.tool.Name, args)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	return out, nil
}

// RegisterAll registers every connected server's tools on the registry under
// mcp:<server>:<name> names so they ride the same safety pipeline as the
// built-ins.
func RegisterAll(manager *Manager, registry *tools.Registry) error {
	for _, t := range manager.GetTools() {
		h := &remoteHandler{manager: manager, tool: t}
		if err := registry.Register(h); err != nil {
			return fmt.Errorf("register %s: %w", h.Name(), err)
		}
	}
	return nil
}
