// Package agent implements the streaming tool-calling loop that drives one
// user turn to completion, including context-window recovery, follow-up
// queuing, and bounded parallel tool dispatch.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anteroomhq/anteroom/internal/cancel"
	"github.com/anteroomhq/anteroom/internal/llm"
	"github.com/anteroomhq/anteroom/internal/tools"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// Streamer is the LLM client surface the loop needs. *llm.Client satisfies
// it; tests substitute fakes.
type Streamer interface {
	StreamChat(ctx context.Context, tok *cancel.Token, history []models.Message, schemas []llm.ToolSchema, extraSystem string) <-chan llm.StreamEvent
	Complete(ctx context.Context, history []models.Message, maxTokens int) (string, error)
}

// ToolExecutor dispatches one tool call. *tools.Registry satisfies it.
type ToolExecutor interface {
	Invoke(ctx context.Context, call models.ToolCallRequest, inv *tools.Invocation) models.ToolCallResult
}

// LoopConfig tunes one Run invocation.
type LoopConfig struct {
	// MaxIterations caps LLM calls per turn.
	MaxIterations int

	// NarrationCadence injects a progress-summary prompt every N tool calls.
	// 0 disables narration.
	NarrationCadence int

	// ToolOutputMaxChars is the truncation limit applied during context
	// recovery.
	ToolOutputMaxChars int

	// AutoPlanThreshold emits a one-shot planning hint once cumulative tool
	// calls cross it. 0 disables the hint.
	AutoPlanThreshold int

	// ExtraSystemPrompt is prepended to the configured base system prompt.
	ExtraSystemPrompt string

	// AgentID tags emitted events ("root" for the top-level loop).
	AgentID string

	// ToolWaitGrace bounds how long cancelled tool executions are awaited.
	ToolWaitGrace time.Duration
}

// DefaultLoopConfig returns the standard limits.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:      50,
		ToolOutputMaxChars: 2048,
		AgentID:            "root",
		ToolWaitGrace:      5 * time.Second,
	}
}

func sanitize(cfg LoopConfig) LoopConfig {
	def := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.ToolOutputMaxChars <= 0 {
		cfg.ToolOutputMaxChars = def.ToolOutputMaxChars
	}
	if cfg.AgentID == "" {
		cfg.AgentID = def.AgentID
	}
	if cfg.ToolWaitGrace <= 0 {
		cfg.ToolWaitGrace = def.ToolWaitGrace
	}
	return cfg
}

// Loop drives the LLM through tool use until a stop finish with no pending
// calls. One Loop value serves one turn.
type Loop struct {
	client   Streamer
	executor ToolExecutor
	schemas  []llm.ToolSchema
	queue    *MessageQueue
	cfg      LoopConfig
	logger   *slog.Logger

	mu    sync.Mutex
	final []models.Message
}

// NewLoop builds a loop. queue may be nil when follow-ups are not supported
// (sub-agents, exec mode).
func NewLoop(client Streamer, executor ToolExecutor, schemas []llm.ToolSchema, queue *MessageQueue, cfg LoopConfig, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		client:   client,
		executor: executor,
		schemas:  schemas,
		queue:    queue,
		cfg:      sanitize(cfg),
		logger:   logger.With("component", "agent", "agent_id", sanitize(cfg).AgentID),
	}
}

// runState is the per-turn mutable state. The loop goroutine owns it
// exclusively; history is never shared.
type runState struct {
	history          []models.Message
	iterations       int
	recoveryAttempts int
	totalToolCalls   int
	planSuggested    bool
}

// Run executes the turn. The returned channel carries the event sequence and
// closes after the terminal event. The loop takes ownership of history for
// the duration of the turn.
func (l *Loop) Run(ctx context.Context, tok *cancel.Token, history []models.Message, inv *tools.Invocation) <-chan models.AgentEvent {
	out := make(chan models.AgentEvent, 32)
	go func() {
		defer close(out)
		st := &runState{history: history}
		l.run(ctx, tok, st, inv, out)
		l.mu.Lock()
		l.final = st.history
		l.mu.Unlock()
	}()
	return out
}

// History returns the final history after the event channel closes. Calling
// it before the turn finishes returns nil.
func (l *Loop) History() []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.final
}

func (l *Loop) emit(out chan<- models.AgentEvent, ev models.AgentEvent) {
	ev.AgentID = l.cfg.AgentID
	ev.Time = time.Now().UTC()
	out <- ev
}

func (l *Loop) run(ctx context.Context, tok *cancel.Token, st *runState, inv *tools.Invocation, out chan<- models.AgentEvent) {
	for {
		if st.iterations >= l.cfg.MaxIterations {
			l.emit(out, models.AgentEvent{
				Kind:    models.EventError,
				Message: fmt.Sprintf("Max iterations (%d) reached", l.cfg.MaxIterations),
				ErrCode: "max_iterations",
			})
			return
		}
		st.iterations++

		l.emit(out, models.AgentEvent{Kind: models.EventThinking})

		text, calls, streamErr := l.streamOnce(ctx, tok, st.history, l.schemas, out)
		if streamErr != nil {
			if streamErr.Code == llm.CodeContextLength && st.recoveryAttempts < 2 {
				st.recoveryAttempts++
				if l.recover(ctx, st, out) {
					continue
				}
				l.emit(out, models.AgentEvent{
					Kind:    models.EventError,
					Message: "context recovery failed",
					ErrCode: string(llm.CodeContextLength),
				})
				return
			}
			l.emit(out, models.AgentEvent{
				Kind:      models.EventError,
				Message:   streamErr.Message,
				ErrCode:   string(streamErr.Code),
				Retryable: streamErr.Retryable(),
			})
			return
		}

		if len(calls) == 0 {
			l.emit(out, models.AgentEvent{Kind: models.EventAssistantMessage, Message: text})
			st.history = append(st.history, models.Message{Role: models.RoleAssistant, Content: text})
			l.emit(out, models.AgentEvent{Kind: models.EventDone})

			if l.queue != nil {
				if followUp, ok := l.queue.Dequeue(); ok {
					st.history = append(st.history, models.Message{Role: models.RoleUser, Content: followUp})
					l.emit(out, models.AgentEvent{Kind: models.EventQueuedMessage, Message: followUp})
					continue
				}
			}
			return
		}

		l.emit(out, models.AgentEvent{Kind: models.EventAssistantMessage, Message: text})
		st.history = append(st.history, models.Message{
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})

		if terminal := l.dispatchTools(ctx, tok, st, calls, inv, out); terminal {
			l.emit(out, models.AgentEvent{Kind: models.EventDone})
			return
		}

		st.totalToolCalls += len(calls)

		if l.cfg.AutoPlanThreshold > 0 && !st.planSuggested && st.totalToolCalls >= l.cfg.AutoPlanThreshold {
			st.planSuggested = true
			l.emit(out, models.AgentEvent{
				Kind: models.EventAutoPlanSuggest,
				Data: map[string]any{"tool_calls": st.totalToolCalls},
			})
		}

		if l.cfg.NarrationCadence > 0 && st.totalToolCalls > 0 && st.totalToolCalls%l.cfg.NarrationCadence == 0 {
			l.narrate(ctx, tok, st, out)
		}
	}
}

// streamOnce runs one LLM call, forwarding stream events and collecting the
// assistant text and pending tool calls.
func (l *Loop) streamOnce(ctx context.Context, tok *cancel.Token, history []models.Message, schemas []llm.ToolSchema, out chan<- models.AgentEvent) (string, []models.ToolCallRequest, *llm.StreamError) {
	var text strings.Builder
	var calls []models.ToolCallRequest

	for ev := range l.client.StreamChat(ctx, tok, history, schemas, l.cfg.ExtraSystemPrompt) {
		switch ev.Type {
		case llm.EventToken:
			text.WriteString(ev.Token)
			l.emit(out, models.AgentEvent{Kind: models.EventToken, Token: ev.Token})
		case llm.EventArgsDelta:
			l.emit(out, models.AgentEvent{
				Kind:  models.EventToolCallArgsDelta,
				Token: ev.ArgsDelta,
				ToolCall: &models.ToolCallRequest{
					ID:   fmt.Sprintf("%d", ev.Index),
					Name: ev.Name,
				},
			})
		case llm.EventToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, *ev.ToolCall)
			}
		case llm.EventPhase:
			l.emit(out, models.AgentEvent{Kind: models.EventPhase, Phase: ev.Phase})
		case llm.EventRetrying:
			l.emit(out, models.AgentEvent{Kind: models.EventRetrying})
		case llm.EventError:
			return text.String(), nil, ev.Err
		case llm.EventDone:
			return text.String(), calls, nil
		}
	}
	return text.String(), calls, nil
}

// dispatchTools runs the pending calls in parallel and appends one tool-role
// message per call to history in request order, regardless of completion
// order. Returns true when the turn must terminate (cancellation).
func (l *Loop) dispatchTools(ctx context.Context, tok *cancel.Token, st *runState, calls []models.ToolCallRequest, inv *tools.Invocation, out chan<- models.AgentEvent) bool {
	results := make([]*models.ToolCallResult, len(calls))

	cancelled := tok != nil && tok.Cancelled()
	if cancelled {
		for i, call := range calls {
			res := cancelledResult(call)
			results[i] = &res
			l.emit(out, models.AgentEvent{Kind: models.EventToolCallEnd, ToolResult: &res})
		}
		l.appendResults(st, calls, results)
		return true
	}

	for i := range calls {
		l.emit(out, models.AgentEvent{Kind: models.EventToolCallStart, ToolCall: &calls[i]})
	}

	type completion struct {
		idx int
		res models.ToolCallResult
	}
	done := make(chan completion, len(calls))
	for i, call := range calls {
		go func(idx int, call models.ToolCallRequest) {
			done <- completion{idx: idx, res: l.executor.Invoke(ctx, call, inv)}
		}(i, call)
	}

	pending := len(calls)
	var cancelCh <-chan struct{}
	if tok != nil {
		cancelCh = tok.Done()
	}

	for pending > 0 {
		select {
		case c := <-done:
			pending--
			res := c.res
			results[c.idx] = &res
			l.emit(out, models.AgentEvent{Kind: models.EventToolCallEnd, ToolResult: &res})
		case <-cancelCh:
			cancelCh = nil
			cancelled = true
			// Bounded wait for in-flight handlers; whatever does not finish
			// in time gets a synthesized cancellation result.
			grace := time.NewTimer(l.cfg.ToolWaitGrace)
			for pending > 0 {
				select {
				case c := <-done:
					pending--
					res := c.res
					results[c.idx] = &res
					l.emit(out, models.AgentEvent{Kind: models.EventToolCallEnd, ToolResult: &res})
				case <-grace.C:
					pending = 0
				}
			}
			grace.Stop()
		}
	}

	for i, call := range calls {
		if results[i] == nil {
			res := cancelledResult(call)
			results[i] = &res
			l.emit(out, models.AgentEvent{Kind: models.EventToolCallEnd, ToolResult: &res})
		}
	}

	l.appendResults(st, calls, results)
	return cancelled || (tok != nil && tok.Cancelled())
}

// appendResults serializes tool outputs into history in request order,
// stripping internal bookkeeping keys.
func (l *Loop) appendResults(st *runState, calls []models.ToolCallRequest, results []*models.ToolCallResult) {
	for i, call := range calls {
		res := results[i]
		clean := models.ToolCallResult{
			ID:       res.ID,
			ToolName: res.ToolName,
			Output:   tools.StripInternal(res.Output),
			Status:   res.Status,
		}
		st.history = append(st.history, models.Message{
			Role:       models.RoleTool,
			ToolCallID: call.ID,
			Content:    clean.OutputJSON(),
		})
	}
}

func cancelledResult(call models.ToolCallRequest) models.ToolCallResult {
	return models.ToolCallResult{
		ID:       call.ID,
		ToolName: call.Name,
		Output:   map[string]any{"error": "Cancelled by user"},
		Status:   models.StatusCancelled,
	}
}

// narrationPrompt is injected every NarrationCadence tool calls.
const narrationPrompt = "Briefly summarize your progress so far in one or two sentences, then continue."

// narrate injects a temporary user message, streams just the response, and
// removes the injected message by index so later turns are unaffected.
// Removal is by index, not value, so identical user messages elsewhere in
// history are untouched.
func (l *Loop) narrate(ctx context.Context, tok *cancel.Token, st *runState, out chan<- models.AgentEvent) {
	idx := len(st.history)
	st.history = append(st.history, models.Message{Role: models.RoleUser, Content: narrationPrompt})

	// Narration is best effort; errors do not fail the turn.
	for ev := range l.client.StreamChat(ctx, tok, st.history, nil, l.cfg.ExtraSystemPrompt) {
		if ev.Type == llm.EventToken {
			l.emit(out, models.AgentEvent{Kind: models.EventToken, Token: ev.Token})
		}
		if ev.Type == llm.EventError || ev.Type == llm.EventDone {
			break
		}
	}

	if idx < len(st.history) {
		st.history = append(st.history[:idx], st.history[idx+1:]...)
	}
}
