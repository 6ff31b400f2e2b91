package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// fakeTool is a scripted handler for registry tests.
type fakeTool struct {
	name   string
	tier   safety.Tier
	schema string

	output  map[string]any
	execErr error

	calls   int
	lastInv *Invocation
}

func (f *fakeTool) Name() string            { return f.name }
func (f *fakeTool) Description() string     { return "test tool" }
func (f *fakeTool) Tier() safety.Tier       { return f.tier }
func (f *fakeTool) Schema() json.RawMessage { return json.RawMessage(f.schema) }

func (f *fakeTool) Execute(ctx context.Context, args map[string]any, inv *Invocation) (map[string]any, error) {
	f.calls++
	f.lastInv = inv
	if f.execErr != nil {
		return nil, f.execErr
	}
	out := make(map[string]any, len(f.output))
	for k, v := range f.output {
		out[k] = v
	}
	return out, nil
}

const echoSchema = `{
	"type": "object",
	"properties": {"text": {"type": "string"}},
	"required": ["text"]
}`

func newTestRegistry(t *testing.T, cfg safety.Config) *Registry {
	t.Helper()
	return NewRegistry(safety.NewGate(cfg, nil), nil, nil)
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t, safety.DefaultConfig())
	h := &fakeTool{name: "echo", schema: echoSchema}
	if err := r.Register(h); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(h); err == nil {
		t.Fatal("duplicate register should fail")
	}
}

func TestRegisterInvalidSchema(t *testing.T) {
	r := newTestRegistry(t, safety.DefaultConfig())
	h := &fakeTool{name: "broken", schema: `{"type": ["not a valid`}
	if err := r.Register(h); err == nil {
		t.Fatal("invalid schema should fail registration")
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	r := newTestRegistry(t, safety.DefaultConfig())

	res := r.Invoke(context.Background(), models.ToolCallRequest{ID: "1", Name: "nope"}, nil)
	if res.Status != models.StatusError {
		t.Fatalf("status = %s", res.Status)
	}
	if msg, _ := res.Output["error"].(string); !strings.Contains(msg, "unknown tool") {
		t.Fatalf("error = %v", res.Output["error"])
	}
}

func TestInvokeInvalidArguments(t *testing.T) {
	r := newTestRegistry(t, safety.DefaultConfig())
	h := &fakeTool{name: "echo", tier: safety.TierRead, schema: echoSchema, output: map[string]any{"ok": true}}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}

	res := r.Invoke(context.Background(), models.ToolCallRequest{
		ID: "1", Name: "echo", Args: map[string]any{"text": 42},
	}, nil)
	if res.Status != models.StatusError {
		t.Fatalf("status = %s", res.Status)
	}
	if h.calls != 0 {
		t.Fatal("handler must not run on invalid arguments")
	}
}

func TestInvokeSuccessStripsDecisionKey(t *testing.T) {
	r := newTestRegistry(t, safety.DefaultConfig())
	h := &fakeTool{name: "echo", tier: safety.TierRead, schema: echoSchema, output: map[string]any{"ok": true}}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}

	res := r.Invoke(context.Background(), models.ToolCallRequest{
		ID: "1", Name: "echo", Args: map[string]any{"text": "hi"},
	}, nil)
	if res.Status != models.StatusSuccess {
		t.Fatalf("status = %s, output = %v", res.Status, res.Output)
	}
	if res.Output[decisionKey] != DecisionAuto {
		t.Fatalf("decision = %v", res.Output[decisionKey])
	}

	clean := StripInternal(res.Output)
	if _, ok := clean[decisionKey]; ok {
		t.Fatal("internal key survived StripInternal")
	}
	if clean["ok"] != true {
		t.Fatalf("payload lost: %v", clean)
	}
}

func TestInvokeHardDenied(t *testing.T) {
	cfg := safety.DefaultConfig()
	cfg.DeniedTools = []string{"echo"}
	r := newTestRegistry(t, cfg)
	h := &fakeTool{name: "echo", tier: safety.TierRead, schema: echoSchema}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}

	res := r.Invoke(context.Background(), models.ToolCallRequest{
		ID: "1", Name: "echo", Args: map[string]any{"text": "hi"},
	}, nil)
	if res.Status != models.StatusError {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Output["safety_blocked"] != true {
		t.Fatalf("output = %v", res.Output)
	}
	if res.Output[decisionKey] != DecisionHardDenied {
		t.Fatalf("decision = %v", res.Output[decisionKey])
	}
	if h.calls != 0 {
		t.Fatal("hard-denied tool must not execute")
	}
}

func TestInvokeApprovalDenied(t *testing.T) {
	cfg := safety.DefaultConfig()
	cfg.ApprovalMode = models.ApprovalAsk
	r := newTestRegistry(t, cfg)
	h := &fakeTool{name: "echo", tier: safety.TierWrite, schema: echoSchema}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}

	inv := &Invocation{
		Approve: func(ctx context.Context, v safety.Verdict) (ApprovalResponse, error) {
			return ApprovalResponse{Approved: false}, nil
		},
	}
	res := r.Invoke(context.Background(), models.ToolCallRequest{
		ID: "1", Name: "echo", Args: map[string]any{"text": "hi"},
	}, inv)
	if msg, _ := res.Output["error"].(string); msg != "Denied by user" {
		t.Fatalf("error = %v", res.Output["error"])
	}
	if res.Output["safety_blocked"] != true {
		t.Fatalf("output = %v", res.Output)
	}
	if h.calls != 0 {
		t.Fatal("denied tool must not execute")
	}
}

func TestInvokeNoApprovalChannelDenies(t *testing.T) {
	cfg := safety.DefaultConfig()
	cfg.ApprovalMode = models.ApprovalAsk
	r := newTestRegistry(t, cfg)
	h := &fakeTool{name: "echo", tier: safety.TierWrite, schema: echoSchema}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}

	res := r.Invoke(context.Background(), models.ToolCallRequest{
		ID: "1", Name: "echo", Args: map[string]any{"text": "hi"},
	}, nil)
	if res.Output[decisionKey] != DecisionDenied {
		t.Fatalf("decision = %v", res.Output[decisionKey])
	}
	if h.calls != 0 {
		t.Fatal("tool must not execute without an approval channel")
	}
}

func TestInvokeApprovedRunsWithBypassForHardBlocked(t *testing.T) {
	cfg := safety.DefaultConfig()
	r := newTestRegistry(t, cfg)
	h := &fakeTool{name: "bash", tier: safety.TierExecute, schema: `{
		"type": "object",
		"properties": {"command": {"type": "string"}},
		"required": ["command"]
	}`, output: map[string]any{"exit_code": 0}}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}

	inv := &Invocation{
		Approve: func(ctx context.Context, v safety.Verdict) (ApprovalResponse, error) {
			return ApprovalResponse{Approved: true}, nil
		},
	}
	res := r.Invoke(context.Background(), models.ToolCallRequest{
		ID: "1", Name: "bash", Args: map[string]any{"command": "rm -rf build/"},
	}, inv)
	if res.Status != models.StatusSuccess {
		t.Fatalf("status = %s, output = %v", res.Status, res.Output)
	}
	if h.lastInv == nil || !h.lastInv.BypassHardBlock {
		t.Fatal("approval of a hard-blocked pattern must thread the bypass flag")
	}
	if res.Output[decisionKey] != DecisionAllowedOnce {
		t.Fatalf("decision = %v", res.Output[decisionKey])
	}
}

func TestInvokeApprovedWithoutHardBlockDoesNotBypass(t *testing.T) {
	cfg := safety.DefaultConfig()
	r := newTestRegistry(t, cfg)
	h := &fakeTool{name: "bash", tier: safety.TierExecute, schema: `{
		"type": "object",
		"properties": {"command": {"type": "string"}},
		"required": ["command"]
	}`, output: map[string]any{"exit_code": 0}}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}

	inv := &Invocation{
		Approve: func(ctx context.Context, v safety.Verdict) (ApprovalResponse, error) {
			return ApprovalResponse{Approved: true}, nil
		},
	}
	r.Invoke(context.Background(), models.ToolCallRequest{
		ID: "1", Name: "bash", Args: map[string]any{"command": "rm old.log"},
	}, inv)
	if h.lastInv == nil || h.lastInv.BypassHardBlock {
		t.Fatal("bypass must stay false for non-hard-blocked approvals")
	}
}

func TestInvokeForSessionGrants(t *testing.T) {
	cfg := safety.DefaultConfig()
	cfg.ApprovalMode = models.ApprovalAsk
	r := newTestRegistry(t, cfg)
	h := &fakeTool{name: "echo", tier: safety.TierWrite, schema: echoSchema, output: map[string]any{"ok": true}}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}

	prompts := 0
	inv := &Invocation{
		Approve: func(ctx context.Context, v safety.Verdict) (ApprovalResponse, error) {
			prompts++
			return ApprovalResponse{Approved: true, ForSession: true}, nil
		},
	}

	call := models.ToolCallRequest{ID: "1", Name: "echo", Args: map[string]any{"text": "hi"}}
	r.Invoke(context.Background(), call, inv)
	r.Invoke(context.Background(), call, inv)

	if prompts != 1 {
		t.Fatalf("prompted %d times, want 1 (session grant)", prompts)
	}
	if h.calls != 2 {
		t.Fatalf("handler ran %d times, want 2", h.calls)
	}
}

func TestInvokeExecuteError(t *testing.T) {
	r := newTestRegistry(t, safety.DefaultConfig())
	h := &fakeTool{name: "echo", tier: safety.TierRead, schema: echoSchema, execErr: errors.New("boom")}
	if err := r.Register(h); err != nil {
		t.Fatal(err)
	}

	res := r.Invoke(context.Background(), models.ToolCallRequest{
		ID: "1", Name: "echo", Args: map[string]any{"text": "hi"},
	}, nil)
	if res.Status != models.StatusError {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Output["error"] != "boom" {
		t.Fatalf("output = %v", res.Output)
	}
}

func TestSchemasExclude(t *testing.T) {
	r := newTestRegistry(t, safety.DefaultConfig())
	for _, name := range []string{"b_tool", "a_tool", "run_agent"} {
		if err := r.Register(&fakeTool{name: name, schema: `{"type":"object"}`}); err != nil {
			t.Fatal(err)
		}
	}

	schemas := r.Schemas("run_agent")
	if len(schemas) != 2 {
		t.Fatalf("got %d schemas", len(schemas))
	}
	if schemas[0].Name != "a_tool" || schemas[1].Name != "b_tool" {
		t.Fatalf("schemas not sorted: %v, %v", schemas[0].Name, schemas[1].Name)
	}
}
