// Package llm wraps an OpenAI-compatible chat completions endpoint behind a
// typed streaming event interface.
package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/anteroomhq/anteroom/internal/cancel"
	"github.com/anteroomhq/anteroom/internal/observability"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// ToolSchema describes one callable function in the wire format the
// upstream accepts.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// EventType discriminates StreamEvent payloads.
type EventType string

const (
	EventToken     EventType = "token"
	EventArgsDelta EventType = "tool_call_args_delta"
	EventToolCall  EventType = "tool_call"
	EventPhase     EventType = "phase"
	EventRetrying  EventType = "retrying"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// StreamEvent is one element of the lazy event sequence produced by
// StreamChat. The sequence is finite and not restartable.
type StreamEvent struct {
	Type EventType

	// Token is a text delta (EventToken).
	Token string

	// Index, Name, and ArgsDelta describe an argument fragment for the
	// tool call at that index (EventArgsDelta).
	Index     int
	Name      string
	ArgsDelta string

	// ToolCall is an aggregated call with parsed arguments (EventToolCall).
	ToolCall *models.ToolCallRequest

	// Phase names the connection phase (EventPhase).
	Phase string

	// Err carries the structured failure (EventError).
	Err *StreamError
}

// TokenProvider supplies and refreshes the upstream API key. Refresh is
// invoked once on auth failure before the call is retried.
type TokenProvider interface {
	APIKey(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticKey is a TokenProvider for a fixed API key.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error)  { return string(k), nil }
func (k StaticKey) Refresh(context.Context) (string, error) { return string(k), nil }

// Config holds the upstream connection settings.
type Config struct {
	// BaseURL points at any OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey is used when no TokenProvider is installed.
	APIKey string `yaml:"api_key"`

	// Model is the default model identifier.
	Model string `yaml:"model"`

	// SystemPrompt is the base system prompt prepended to every call.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps response length; 0 uses the provider default.
	MaxTokens int `yaml:"max_tokens"`
}

// Client is a streaming chat client. Safe for concurrent use; the inner SDK
// client is rebuilt under lock on token refresh.
type Client struct {
	mu       sync.Mutex
	cfg      Config
	api      *openai.Client
	provider TokenProvider
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewClient builds a client. A nil provider falls back to cfg.APIKey.
func NewClient(cfg Config, provider TokenProvider, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil && cfg.APIKey != "" {
		provider = StaticKey(cfg.APIKey)
	}
	c := &Client{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With("component", "llm"),
		metrics:  metrics,
	}
	c.rebuild(cfg.APIKey)
	return c
}

// Clone returns a client with the same connection settings and token
// provider, optionally overriding the model. Used for sub-agent sessions.
func (c *Client) Clone(modelOverride string) *Client {
	c.mu.Lock()
	cfg := c.cfg
	provider := c.provider
	c.mu.Unlock()
	if modelOverride != "" {
		cfg.Model = modelOverride
	}
	return NewClient(cfg, provider, c.logger, c.metrics)
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Model
}

func (c *Client) rebuild(apiKey string) {
	conf := openai.DefaultConfig(apiKey)
	if c.cfg.BaseURL != "" {
		conf.BaseURL = c.cfg.BaseURL
	}
	c.api = openai.NewClientWithConfig(conf)
}

func (c *Client) apiClient() *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.api
}

// refreshAuth asks the provider for a fresh key and swaps the SDK client.
// Returns false when no provider is configured.
func (c *Client) refreshAuth(ctx context.Context) bool {
	c.mu.Lock()
	provider := c.provider
	c.mu.Unlock()
	if provider == nil {
		return false
	}
	key, err := provider.Refresh(ctx)
	if err != nil || key == "" {
		c.logger.Warn("token refresh failed", "error", err)
		return false
	}
	c.mu.Lock()
	c.rebuild(key)
	c.mu.Unlock()
	return true
}

// StreamChat starts a streaming completion and returns the event sequence.
// The channel is closed after a terminal event (done or error). Every chunk
// boundary is a cancellation point for tok.
func (c *Client) StreamChat(ctx context.Context, tok *cancel.Token, history []models.Message, tools []ToolSchema, extraSystem string) <-chan StreamEvent {
	out := make(chan StreamEvent, 32)
	go c.stream(ctx, tok, history, tools, extraSystem, out)
	return out
}

func (c *Client) stream(ctx context.Context, tok *cancel.Token, history []models.Message, tools []ToolSchema, extraSystem string, out chan<- StreamEvent) {
	defer close(out)

	req := c.buildRequest(history, tools, extraSystem, true)
	out <- StreamEvent{Type: EventPhase, Phase: "connecting"}

	start := time.Now()
	stream, err := c.apiClient().CreateChatCompletionStream(ctx, req)
	if err != nil && isAuthError(err) && c.refreshAuth(ctx) {
		stream, err = c.apiClient().CreateChatCompletionStream(ctx, req)
	}
	if err != nil {
		c.observe(req.Model, "error", start)
		out <- StreamEvent{Type: EventError, Err: classifyError(err)}
		return
	}
	defer stream.Close()

	out <- StreamEvent{Type: EventPhase, Phase: "streaming"}

	// Tool-call fragments accumulate per index until a finish reason
	// flushes them as aggregated calls.
	type partial struct {
		id   string
		name string
		args []byte
	}
	partials := make(map[int]*partial)

	flush := func() {
		indices := make([]int, 0, len(partials))
		for i := range partials {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		for _, i := range indices {
			p := partials[i]
			if p.id == "" || p.name == "" {
				continue
			}
			args := map[string]any{}
			if len(p.args) > 0 {
				if err := json.Unmarshal(p.args, &args); err != nil {
					args = map[string]any{}
				}
			}
			out <- StreamEvent{Type: EventToolCall, ToolCall: &models.ToolCallRequest{
				ID:      p.id,
				Name:    p.name,
				Args:    args,
				RawArgs: string(p.args),
			}}
		}
		partials = make(map[int]*partial)
	}

	for {
		if tok != nil && tok.Cancelled() {
			c.observe(req.Model, "cancelled", start)
			out <- StreamEvent{Type: EventDone}
			return
		}

		resp, err := stream.Recv()
		if err == io.EOF {
			flush()
			c.observe(req.Model, "success", start)
			out <- StreamEvent{Type: EventDone}
			return
		}
		if err != nil {
			c.observe(req.Model, "error", start)
			out <- StreamEvent{Type: EventError, Err: classifyError(err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			out <- StreamEvent{Type: EventToken, Token: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			p := partials[index]
			if p == nil {
				p = &partial{}
				partials[index] = p
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				p.args = append(p.args, tc.Function.Arguments...)
				out <- StreamEvent{
					Type:      EventArgsDelta,
					Index:     index,
					Name:      p.name,
					ArgsDelta: tc.Function.Arguments,
				}
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			flush()
		case openai.FinishReasonStop:
			c.observe(req.Model, "success", start)
			out <- StreamEvent{Type: EventDone}
			return
		}
	}
}

// Complete performs a non-streaming completion, used by history compaction.
func (c *Client) Complete(ctx context.Context, history []models.Message, maxTokens int) (string, error) {
	req := c.buildRequest(history, nil, "", false)
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	start := time.Now()
	resp, err := c.apiClient().CreateChatCompletion(ctx, req)
	if err != nil && isAuthError(err) && c.refreshAuth(ctx) {
		resp, err = c.apiClient().CreateChatCompletion(ctx, req)
	}
	if err != nil {
		c.observe(req.Model, "error", start)
		return "", classifyError(err)
	}
	c.observe(req.Model, "success", start)
	if len(resp.Choices) == 0 {
		return "", &StreamError{Code: CodeGeneric, Message: "empty completion response"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) buildRequest(history []models.Message, tools []ToolSchema, extraSystem string, streaming bool) openai.ChatCompletionRequest {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	system := cfg.SystemPrompt
	if extraSystem != "" {
		if system != "" {
			system = extraSystem + "\n\n" + system
		} else {
			system = extraSystem
		}
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range history {
		msgs = append(msgs, toWireMessage(m))
	}

	req := openai.ChatCompletionRequest{
		Model:    cfg.Model,
		Messages: msgs,
		Stream:   streaming,
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	for _, t := range tools {
		var params map[string]any
		if err := json.Unmarshal(t.Parameters, &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return req
}

func toWireMessage(m models.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:    string(m.Role),
		Content: m.Content,
	}
	if m.Role == models.RoleTool {
		msg.ToolCallID = m.ToolCallID
	}
	for _, tc := range m.ToolCalls {
		args := tc.RawArgs
		if args == "" {
			data, err := json.Marshal(tc.Args)
			if err != nil {
				data = []byte("{}")
			}
			args = string(data)
		}
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return msg
}

func (c *Client) observe(model, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.LLMRequests.WithLabelValues(model, status).Inc()
	c.metrics.LLMRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
}
