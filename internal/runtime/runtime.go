// Package runtime wires the agent core together: safety gate, tool registry,
// chat client, canvas store, MCP servers, and per-conversation state. The
// REPL and the web server both drive turns through it.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anteroomhq/anteroom/internal/agent"
	"github.com/anteroomhq/anteroom/internal/cancel"
	"github.com/anteroomhq/anteroom/internal/canvas"
	"github.com/anteroomhq/anteroom/internal/config"
	"github.com/anteroomhq/anteroom/internal/events"
	"github.com/anteroomhq/anteroom/internal/llm"
	"github.com/anteroomhq/anteroom/internal/mcp"
	"github.com/anteroomhq/anteroom/internal/observability"
	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/storage"
	"github.com/anteroomhq/anteroom/internal/tools"
	canvastools "github.com/anteroomhq/anteroom/internal/tools/canvas"
	"github.com/anteroomhq/anteroom/internal/tools/files"
	"github.com/anteroomhq/anteroom/internal/tools/shell"
	"github.com/anteroomhq/anteroom/internal/tools/subagent"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// Runtime is the process-wide agent core.
type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	client   *llm.Client
	gate     *safety.Gate
	registry *tools.Registry
	canvases *canvas.MemoryStore
	store    storage.Store
	mcp      *mcp.Manager

	mu    sync.Mutex
	convs map[string]*Conversation
}

// New builds the runtime and registers every built-in tool. store may be nil
// when persistence is disabled (exec mode).
func New(ctx context.Context, cfg config.Config, store storage.Store, logger *slog.Logger, metrics *observability.Metrics) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gate := safety.NewGate(cfg.Safety, logger)
	registry := tools.NewRegistry(gate, logger, metrics)
	client := llm.NewClient(cfg.LLM, nil, logger, metrics)
	canvases := canvas.NewMemoryStore()

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		client:   client,
		gate:     gate,
		registry: registry,
		canvases: canvases,
		store:    store,
		mcp:      mcp.NewManager(logger),
		convs:    make(map[string]*Conversation),
	}

	fileCfg := files.Config{Workspace: cfg.Workspace}
	builtins := []tools.Handler{
		files.NewReadTool(fileCfg),
		files.NewWriteTool(fileCfg),
		files.NewEditTool(fileCfg),
		files.NewGlobTool(fileCfg),
		files.NewGrepTool(fileCfg),
		shell.NewBashTool(cfg.Workspace),
		canvastools.NewCreateTool(canvases),
		canvastools.NewUpdateTool(canvases),
		canvastools.NewPatchTool(canvases),
		subagent.NewSpawnTool(client, registry, rt.childSchemas, logger),
	}
	for _, h := range builtins {
		if err := registry.Register(h); err != nil {
			return nil, fmt.Errorf("register builtin: %w", err)
		}
	}

	for _, server := range cfg.MCP {
		if err := rt.mcp.Connect(ctx, server); err != nil {
			logger.Warn("skipping mcp server", "server", server.Name, "error", err)
		}
	}
	if err := mcp.RegisterAll(rt.mcp, registry); err != nil {
		return nil, err
	}

	return rt, nil
}

// childSchemas builds the tool list for a sub-agent at childDepth. One level
// above the depth cap, run_agent disappears from the child's schemas so its
// model never attempts to nest further.
func (rt *Runtime) childSchemas(childDepth int) []llm.ToolSchema {
	if childDepth+1 >= subagent.MaxDepth {
		return rt.registry.Schemas("run_agent")
	}
	return rt.registry.Schemas()
}

// Registry exposes the tool registry.
func (rt *Runtime) Registry() *tools.Registry { return rt.registry }

// Gate exposes the safety gate for hot reload and session grants.
func (rt *Runtime) Gate() *safety.Gate { return rt.gate }

// Canvases exposes the canvas store.
func (rt *Runtime) Canvases() canvas.Store { return rt.canvases }

// Client exposes the chat client.
func (rt *Runtime) Client() *llm.Client { return rt.client }

// Close shuts down external collaborators.
func (rt *Runtime) Close() {
	rt.mcp.Close()
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, conv := range rt.convs {
		conv.broadcaster.Close()
	}
}

// Conversation holds the per-conversation mutable state: history, follow-up
// queue, event fan-out, and the current turn's cancel token.
type Conversation struct {
	ID string

	mu          sync.Mutex
	history     []models.Message
	queue       *agent.MessageQueue
	broadcaster *events.Broadcaster
	token       *cancel.Token
	running     bool
}

// Conversation returns (creating on first use) the named conversation.
func (rt *Runtime) Conversation(id string) *Conversation {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if conv, ok := rt.convs[id]; ok {
		return conv
	}
	conv := &Conversation{
		ID:          id,
		queue:       agent.NewMessageQueue(),
		broadcaster: events.NewBroadcaster(rt.logger, rt.metrics),
	}
	rt.convs[id] = conv

	if rt.store != nil {
		sub := conv.broadcaster.Subscribe("persister")
		persister := storage.NewPersister(rt.store, id, rt.logger)
		go persister.Run(context.Background(), sub)
	}
	return conv
}

// Subscribe attaches a named consumer to the conversation's event stream.
func (c *Conversation) Subscribe(name string) *events.Subscription {
	return c.broadcaster.Subscribe(name)
}

// Unsubscribe detaches a consumer.
func (c *Conversation) Unsubscribe(sub *events.Subscription) {
	c.broadcaster.Unsubscribe(sub)
}

// Broadcast publishes an event to every subscriber, for front-end
// synthesized frames such as approval prompts.
func (c *Conversation) Broadcast(ev models.AgentEvent) {
	c.broadcaster.Publish(ev)
}

// Running reports whether a turn is in flight.
func (c *Conversation) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop cancels the current turn. Returns false when idle.
func (c *Conversation) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.token == nil {
		return false
	}
	c.token.Cancel()
	return true
}

// Enqueue adds a follow-up message to a running turn's mailbox.
func (c *Conversation) Enqueue(content string) error {
	return c.queue.Enqueue(content)
}

// TurnOptions configures one StartTurn call.
type TurnOptions struct {
	// Approve handles approval prompts. Nil means non-interactive: gated
	// calls are denied.
	Approve tools.ApprovalFunc

	// Token overrides the turn's cancel token; a fresh one is created when
	// nil.
	Token *cancel.Token
}

// Turn is a handle on one in-flight user turn.
type Turn struct {
	// Token cancels the turn.
	Token *cancel.Token

	// Done closes when the turn's event stream has drained.
	Done <-chan struct{}
}

// StartTurn appends the user message and runs the agent loop on its own
// goroutine, publishing every event to the conversation's broadcaster. When
// a turn is already running the message goes to the follow-up queue instead
// and the returned turn is nil.
func (rt *Runtime) StartTurn(ctx context.Context, conv *Conversation, userMessage string, opts TurnOptions) (*Turn, error) {
	conv.mu.Lock()
	if conv.running {
		conv.mu.Unlock()
		if err := conv.Enqueue(userMessage); err != nil {
			return nil, err
		}
		return nil, nil
	}

	conv.history = append(conv.history, models.Message{Role: models.RoleUser, Content: userMessage})
	turn := rt.startLocked(ctx, conv, opts)

	if rt.store != nil {
		if _, err := rt.store.CreateMessage(ctx, conv.ID, string(models.RoleUser), userMessage, ""); err != nil {
			rt.logger.Warn("persist user message", "error", err)
		}
	}
	return turn, nil
}

// Resume re-runs the agent loop over the conversation's existing history,
// used by the countdown retry after a retryable stream error. The user
// message is already in history so nothing is appended.
func (rt *Runtime) Resume(ctx context.Context, conv *Conversation, opts TurnOptions) *Turn {
	conv.mu.Lock()
	if conv.running {
		conv.mu.Unlock()
		return nil
	}
	return rt.startLocked(ctx, conv, opts)
}

// startLocked spins up the loop goroutine. Caller holds conv.mu; it is
// released here.
func (rt *Runtime) startLocked(ctx context.Context, conv *Conversation, opts TurnOptions) *Turn {
	tok := opts.Token
	if tok == nil {
		tok = cancel.NewToken()
	}
	conv.token = tok
	conv.running = true
	history := append([]models.Message(nil), conv.history...)
	conv.mu.Unlock()

	limiter := tools.NewLimiter(int64(rt.cfg.Limits.MaxConcurrentSubs), rt.cfg.Limits.MaxTotalSubs)
	inv := &tools.Invocation{
		ConversationID: conv.ID,
		AgentID:        "root",
		Limiter:        limiter,
		Sink:           conv.broadcaster,
		Cancel:         tok,
		Approve:        opts.Approve,
	}

	loop := agent.NewLoop(rt.client, rt.registry, rt.registry.Schemas(), conv.queue, agent.LoopConfig{
		MaxIterations:      rt.cfg.Limits.MaxIterations,
		NarrationCadence:   rt.cfg.Limits.NarrationCadence,
		ToolOutputMaxChars: rt.cfg.Limits.ToolOutputMaxChars,
		AutoPlanThreshold:  rt.cfg.Limits.AutoPlanThreshold,
		AgentID:            "root",
	}, rt.logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range loop.Run(ctx, tok, history, inv) {
			conv.broadcaster.Publish(ev)
		}
		conv.mu.Lock()
		if final := loop.History(); final != nil {
			conv.history = final
		}
		conv.running = false
		conv.token = nil
		conv.mu.Unlock()
	}()

	return &Turn{Token: tok, Done: done}
}
