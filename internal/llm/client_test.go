package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anteroomhq/anteroom/internal/cancel"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// sseServer streams the given chunk payloads as an OpenAI-style SSE response.
func sseServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL: baseURL + "/v1",
		APIKey:  "test-key",
		Model:   "test-model",
	}, nil, nil, nil)
}

func drain(ch <-chan StreamEvent) []StreamEvent {
	var evs []StreamEvent
	for ev := range ch {
		evs = append(evs, ev)
	}
	return evs
}

func TestStreamChatTokens(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	evs := drain(c.StreamChat(context.Background(), cancel.NewToken(),
		[]models.Message{{Role: models.RoleUser, Content: "hi"}}, nil, ""))

	var text string
	for _, ev := range evs {
		if ev.Type == EventToken {
			text += ev.Token
		}
	}
	if text != "Hello" {
		t.Fatalf("text = %q", text)
	}
	if evs[len(evs)-1].Type != EventDone {
		t.Fatalf("last event = %+v", evs[len(evs)-1])
	}
}

func TestStreamChatAccumulatesToolCalls(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"read_file","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.txt\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	evs := drain(c.StreamChat(context.Background(), cancel.NewToken(),
		[]models.Message{{Role: models.RoleUser, Content: "read it"}}, nil, ""))

	var call *models.ToolCallRequest
	var deltas int
	for _, ev := range evs {
		switch ev.Type {
		case EventArgsDelta:
			deltas++
		case EventToolCall:
			call = ev.ToolCall
		}
	}
	if deltas != 2 {
		t.Fatalf("args_delta events = %d, want 2", deltas)
	}
	if call == nil {
		t.Fatal("no aggregated tool call")
	}
	if call.ID != "call_9" || call.Name != "read_file" {
		t.Fatalf("call = %+v", call)
	}
	if call.Args["path"] != "a.txt" {
		t.Fatalf("args = %v", call.Args)
	}
	if call.RawArgs != `{"path":"a.txt"}` {
		t.Fatalf("raw args = %q", call.RawArgs)
	}
}

func TestStreamChatInvalidArgsBecomeEmptyMap(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"bash","arguments":"{not json"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	c := newTestClient(srv.URL)
	evs := drain(c.StreamChat(context.Background(), cancel.NewToken(),
		[]models.Message{{Role: models.RoleUser, Content: "go"}}, nil, ""))

	var call *models.ToolCallRequest
	for _, ev := range evs {
		if ev.Type == EventToolCall {
			call = ev.ToolCall
		}
	}
	if call == nil {
		t.Fatal("no aggregated tool call")
	}
	if len(call.Args) != 0 {
		t.Fatalf("args = %v, want empty", call.Args)
	}
	if call.RawArgs != "{not json" {
		t.Fatalf("raw args = %q", call.RawArgs)
	}
}

func TestStreamChatUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded", "type": "requests"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	evs := drain(c.StreamChat(context.Background(), cancel.NewToken(),
		[]models.Message{{Role: models.RoleUser, Content: "hi"}}, nil, ""))

	last := evs[len(evs)-1]
	if last.Type != EventError || last.Err == nil {
		t.Fatalf("last event = %+v", last)
	}
	if last.Err.Code != CodeRateLimit {
		t.Fatalf("code = %s", last.Err.Code)
	}
	if !last.Err.Retryable() {
		t.Fatal("rate limit should be retryable")
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "1", "object": "chat.completion",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "a summary"}, "finish_reason": "stop"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, err := c.Complete(context.Background(), []models.Message{{Role: models.RoleUser, Content: "summarize"}}, 500)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a summary" {
		t.Fatalf("got %q", got)
	}
}

func TestCloneOverridesModel(t *testing.T) {
	c := NewClient(Config{Model: "base-model", APIKey: "k"}, nil, nil, nil)

	child := c.Clone("other-model")
	if child.Model() != "other-model" {
		t.Fatalf("child model = %q", child.Model())
	}
	if c.Model() != "base-model" {
		t.Fatalf("parent model mutated to %q", c.Model())
	}

	same := c.Clone("")
	if same.Model() != "base-model" {
		t.Fatalf("empty override changed model to %q", same.Model())
	}
}

func TestBuildRequestSystemPromptOrder(t *testing.T) {
	c := NewClient(Config{Model: "m", APIKey: "k", SystemPrompt: "base prompt"}, nil, nil, nil)

	req := c.buildRequest([]models.Message{{Role: models.RoleUser, Content: "hi"}}, nil, "extra prompt", true)
	if len(req.Messages) != 2 {
		t.Fatalf("messages = %d", len(req.Messages))
	}
	if req.Messages[0].Content != "extra prompt\n\nbase prompt" {
		t.Fatalf("system = %q", req.Messages[0].Content)
	}
}

func TestToWireMessageToolRole(t *testing.T) {
	msg := toWireMessage(models.Message{
		Role:       models.RoleTool,
		ToolCallID: "call_3",
		Content:    `{"ok":true}`,
	})
	if msg.ToolCallID != "call_3" || msg.Role != "tool" {
		t.Fatalf("msg = %+v", msg)
	}

	asst := toWireMessage(models.Message{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCallRequest{
			{ID: "c1", Name: "bash", Args: map[string]any{"command": "ls"}},
			{ID: "c2", Name: "bash", RawArgs: `{"command":"pwd"}`},
		},
	})
	if len(asst.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d", len(asst.ToolCalls))
	}
	if asst.ToolCalls[0].Function.Arguments != `{"command":"ls"}` {
		t.Fatalf("marshaled args = %q", asst.ToolCalls[0].Function.Arguments)
	}
	if asst.ToolCalls[1].Function.Arguments != `{"command":"pwd"}` {
		t.Fatalf("raw args = %q", asst.ToolCalls[1].Function.Arguments)
	}
}
