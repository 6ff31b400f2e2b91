package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/anteroomhq/anteroom/internal/llm"
	"github.com/anteroomhq/anteroom/internal/observability"
	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// Registry holds the available tools and dispatches calls through the safety
// gate. Registration happens at startup; lookup and dispatch are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  map[string]*jsonschema.Schema

	gate    *safety.Gate
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRegistry builds an empty registry bound to a safety gate.
func NewRegistry(gate *safety.Gate, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		schemas:  make(map[string]*jsonschema.Schema),
		gate:     gate,
		logger:   logger.With("component", "tools"),
		metrics:  metrics,
	}
}

// Gate exposes the registry's safety gate for session grant management.
func (r *Registry) Gate() *safety.Gate { return r.gate }

// Register adds a handler, compiling its parameter schema for argument
// validation. Registering a duplicate name or an invalid schema is a
// programming error.
func (r *Registry) Register(h Handler) error {
	name := h.Name()
	compiled, err := jsonschema.CompileString(name+".json", string(h.Schema()))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.handlers[name] = h
	r.schemas[name] = compiled
	return nil
}

// Unregister removes a handler. Used when an MCP server goes away.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
	delete(r.schemas, name)
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the wire-format tool declarations for the upstream API,
// sorted by name for deterministic requests. Tools named in exclude are
// omitted.
func (r *Registry) Schemas(exclude ...string) []llm.ToolSchema {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolSchema, 0, len(r.handlers))
	for name, h := range r.handlers {
		if _, ok := skip[name]; ok {
			continue
		}
		out = append(out, llm.ToolSchema{
			Name:        name,
			Description: h.Description(),
			Parameters:  h.Schema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs one tool call end to end: lookup, argument validation, safety
// gate, optional user approval, execution. It never returns a Go error; all
// failures become error-shaped results so the model can react to them.
func (r *Registry) Invoke(ctx context.Context, call models.ToolCallRequest, inv *Invocation) models.ToolCallResult {
	result := func(output map[string]any) models.ToolCallResult {
		return models.ToolCallResult{
			ID:       call.ID,
			ToolName: call.Name,
			Output:   output,
			Status:   statusFor(output),
		}
	}

	r.mu.RLock()
	h, ok := r.handlers[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()
	if !ok {
		return result(errResult(fmt.Sprintf("unknown tool: %s", call.Name), nil))
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	if schema != nil {
		if err := schema.Validate(anyify(args)); err != nil {
			return result(errResult(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err), nil))
		}
	}

	verdict := r.gate.Evaluate(call.Name, h.Tier(), args)
	decision := DecisionAuto
	bypass := false

	switch {
	case verdict.HardDenied:
		r.observeVerdict(call.Name, DecisionHardDenied)
		r.logger.Warn("tool hard denied", "tool", call.Name, "reason", verdict.Reason)
		out := errResult("Blocked by safety policy: "+verdict.Reason, map[string]any{"safety_blocked": true})
		out[decisionKey] = DecisionHardDenied
		return result(out)

	case verdict.NeedsApproval:
		resp, err := r.askApproval(ctx, verdict, inv)
		if err != nil || !resp.Approved {
			r.observeVerdict(call.Name, DecisionDenied)
			r.logger.Info("tool denied by user", "tool", call.Name, "reason", verdict.Reason)
			out := errResult("Denied by user", map[string]any{"safety_blocked": true})
			out[decisionKey] = DecisionDenied
			return result(out)
		}
		if resp.ForSession {
			r.gate.GrantSession(call.Name)
		}
		decision = DecisionAllowedOnce
		// Approval of a hard-blocked pattern threads the explicit bypass so
		// the handler's own guard stands down for this one call.
		bypass = verdict.IsHardBlocked
	}

	r.observeVerdict(call.Name, decision)

	start := time.Now()
	output, err := h.Execute(ctx, args, inv.withBypass(bypass))
	elapsed := time.Since(start)

	if err != nil {
		r.observeExec(call.Name, "error", elapsed)
		r.logger.Error("tool execution failed", "tool", call.Name, "error", err)
		out := errResult(err.Error(), nil)
		out[decisionKey] = decision
		return result(out)
	}
	if output == nil {
		output = map[string]any{}
	}
	output[decisionKey] = decision

	status := "success"
	if _, failed := output["error"]; failed {
		status = "error"
	}
	r.observeExec(call.Name, status, elapsed)
	r.logger.Debug("tool executed", "tool", call.Name, "status", status, "duration_ms", elapsed.Milliseconds())

	res := result(output)
	if inv != nil && inv.Cancel != nil && inv.Cancel.Cancelled() && res.Status == models.StatusError {
		res.Status = models.StatusCancelled
	}
	return res
}

// askApproval routes the verdict to the invocation's approval channel. With
// no channel available, hard-blocked calls are silently denied and everything
// else is denied with a reason the model can see.
func (r *Registry) askApproval(ctx context.Context, v safety.Verdict, inv *Invocation) (ApprovalResponse, error) {
	if inv == nil || inv.Approve == nil {
		return ApprovalResponse{}, nil
	}
	return inv.Approve(ctx, v)
}

func (r *Registry) observeVerdict(tool, decision string) {
	if r.metrics != nil {
		r.metrics.SafetyVerdicts.WithLabelValues(tool, decision).Inc()
	}
}

func (r *Registry) observeExec(tool, status string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.ToolExecutions.WithLabelValues(tool, status).Inc()
		r.metrics.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// anyify converts map[string]any into the plain-interface tree the schema
// validator expects.
func anyify(m map[string]any) any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
