package subagent

import (
	"context"
	"strings"
	"testing"

	"github.com/anteroomhq/anteroom/internal/llm"
	"github.com/anteroomhq/anteroom/internal/tools"
	"github.com/anteroomhq/anteroom/pkg/models"
)

type nopExecutor struct{}

func (nopExecutor) Invoke(ctx context.Context, call models.ToolCallRequest, inv *tools.Invocation) models.ToolCallResult {
	return models.ToolCallResult{ID: call.ID, ToolName: call.Name, Status: models.StatusSuccess}
}

func newSpawn() *SpawnTool {
	client := llm.NewClient(llm.Config{Model: "m", APIKey: "k"}, nil, nil, nil)
	return NewSpawnTool(client, nopExecutor{}, func(int) []llm.ToolSchema { return nil }, nil)
}

func TestExecuteRejectsEmptyPrompt(t *testing.T) {
	s := newSpawn()
	out, err := s.Execute(context.Background(), map[string]any{"prompt": "   "}, &tools.Invocation{})
	if err != nil {
		t.Fatal(err)
	}
	if out["error"] != "prompt is required" {
		t.Fatalf("error = %v", out["error"])
	}
}

func TestExecuteRejectsOversizedPrompt(t *testing.T) {
	s := newSpawn()
	out, err := s.Execute(context.Background(), map[string]any{
		"prompt": strings.Repeat("p", maxPromptChars+1),
	}, &tools.Invocation{})
	if err != nil {
		t.Fatal(err)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "prompt exceeds") {
		t.Fatalf("error = %v", out["error"])
	}
}

func TestExecuteRejectsInvalidModel(t *testing.T) {
	s := newSpawn()
	out, err := s.Execute(context.Background(), map[string]any{
		"prompt": "do something",
		"model":  "model; rm -rf /",
	}, &tools.Invocation{})
	if err != nil {
		t.Fatal(err)
	}
	if out["error"] != "invalid model identifier" {
		t.Fatalf("error = %v", out["error"])
	}
}

func TestExecuteRejectsDepthLimit(t *testing.T) {
	s := newSpawn()
	inv := &tools.Invocation{Depth: MaxDepth, Limiter: tools.NewLimiter(5, 10)}
	out, err := s.Execute(context.Background(), map[string]any{"prompt": "go"}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if out["error"] != "depth limit exceeded" {
		t.Fatalf("error = %v", out["error"])
	}
}

func TestExecuteRejectsWithoutLimiter(t *testing.T) {
	s := newSpawn()
	out, err := s.Execute(context.Background(), map[string]any{"prompt": "go"}, &tools.Invocation{})
	if err != nil {
		t.Fatal(err)
	}
	if out["error"] != "sub-agent limiter unavailable" {
		t.Fatalf("error = %v", out["error"])
	}
}

func TestExecuteRejectsExhaustedBudget(t *testing.T) {
	s := newSpawn()
	limiter := tools.NewLimiter(5, 1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	limiter.Release()

	inv := &tools.Invocation{Limiter: limiter}
	out, err := s.Execute(context.Background(), map[string]any{"prompt": "go"}, inv)
	if err != nil {
		t.Fatal(err)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "budget exhausted") {
		t.Fatalf("error = %v", out["error"])
	}
}

// Child counters are kept per parent: every parent's first child is
// `<parent>.1` regardless of what other agents have already spawned.
func TestChildIDDerivation(t *testing.T) {
	s := newSpawn()
	if got := s.childID("root"); got != "root.1" {
		t.Fatalf("first root child id = %q", got)
	}
	if got := s.childID("root"); got != "root.2" {
		t.Fatalf("second root child id = %q", got)
	}
	if got := s.childID("root.1"); got != "root.1.1" {
		t.Fatalf("first nested child id = %q", got)
	}
	if got := s.childID("root.1"); got != "root.1.2" {
		t.Fatalf("second nested child id = %q", got)
	}
	if got := s.childID(""); got != "root.3" {
		t.Fatalf("empty parent id = %q", got)
	}
}
