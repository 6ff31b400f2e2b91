// Package mcp connects external MCP tool servers over stdio and exposes
// their tools through the same registry and safety pipeline as built-ins.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// ServerConfig describes one stdio MCP server.
type ServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// RemoteTool is one tool offered by a connected server.
type RemoteTool struct {
	Server      string
	Name        string
	Description string
	Schema      json.RawMessage
}

type connection struct {
	cfg    ServerConfig
	client *client.Client
	tools  []RemoteTool
}

// Manager owns the server connections. Connect at startup, Close at exit.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*connection
	// byTool maps a tool name to its owning server.
	byTool map[string]string
	logger *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		servers: make(map[string]*connection),
		byTool:  make(map[string]string),
		logger:  logger.With("component", "mcp"),
	}
}

// Connect starts a server subprocess, initializes the protocol, and lists
// its tools. A server that fails to connect is skipped, not fatal.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" || cfg.Command == "" {
		return fmt.Errorf("mcp server needs a name and a command")
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return fmt.Errorf("start mcp server %s: %w", cfg.Name, err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "anteroom", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize mcp server %s: %w", cfg.Name, err)
	}

	listResp, err := c.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("list tools on %s: %w", cfg.Name, err)
	}

	conn := &connection{cfg: cfg, client: c}
	for _, t := range listResp.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		conn.tools = append(conn.tools, RemoteTool{
			Server:      cfg.Name,
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, exists := m.servers[cfg.Name]; exists {
		old.client.Close()
	}
	m.servers[cfg.Name] = conn
	for _, t := range conn.tools {
		m.byTool[t.Name] = cfg.Name
	}
	m.logger.Info("mcp server connected", "server", cfg.Name, "tools", len(conn.tools))
	return nil
}

// GetTools returns every tool offered across connected servers.
func (m *Manager) GetTools() []RemoteTool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RemoteTool
	for _, conn := range m.servers {
		out = append(out, conn.tools...)
	}
	return out
}

// GetToolServerName reports which server owns the named tool.
func (m *Manager) GetToolServerName(tool string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byTool[tool]
}

// CallTool invokes a remote tool and flattens its text content into a result
// map following the standard error-result shape.
func (m *Manager) CallTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	m.mu.RLock()
	server := m.byTool[tool]
	conn := m.servers[server]
	m.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("no mcp server offers tool %s", tool)
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := conn.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call %s on %s: %w", tool, server, err)
	}
	return parseResult(resp), nil
}

// Close shuts every server connection down.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, conn := range m.servers {
		if err := conn.client.Close(); err != nil {
			m.logger.Warn("closing mcp server", "server", name, "error", err)
		}
	}
	m.servers = make(map[string]*connection)
	m.byTool = make(map[string]string)
}

func parseResult(resp *mcpgo.CallToolResult) map[string]any {
	result := make(map[string]any)
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcpgo.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if resp.IsError {
		if len(texts) > 0 {
			result["error"] = texts[0]
		} else {
			result["error"] = "mcp tool reported an error"
		}
		return result
	}
	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result
}
