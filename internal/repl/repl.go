// Package repl is the interactive terminal front end: a readline prompt over
// the runtime, with escape-key cancellation, approval prompts, and countdown
// retries.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/anteroomhq/anteroom/internal/cancel"
	"github.com/anteroomhq/anteroom/internal/llm"
	"github.com/anteroomhq/anteroom/internal/runtime"
	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
	"github.com/anteroomhq/anteroom/pkg/models"
)

const retryWaitSeconds = 5

// REPL drives one interactive conversation.
type REPL struct {
	rt     *runtime.Runtime
	conv   *runtime.Conversation
	logger *slog.Logger
	out    io.Writer

	escMu sync.Mutex
	esc   *cancel.EscapeWatcher
}

// New builds a REPL bound to one conversation.
func New(rt *runtime.Runtime, conversationID string, logger *slog.Logger) *REPL {
	if logger == nil {
		logger = slog.Default()
	}
	return &REPL{
		rt:     rt,
		conv:   rt.Conversation(conversationID),
		logger: logger.With("component", "repl"),
		out:    os.Stdout,
	}
}

// Run reads prompts until EOF or the exit command.
func (r *REPL) Run(ctx context.Context) error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".anteroom_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(r.out, "anteroom: type a prompt, /help for commands, Esc to cancel a running turn")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if r.conv.Stop() {
				fmt.Fprintln(r.out, "[cancelling]")
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if r.command(line) {
				return nil
			}
			continue
		}

		if r.conv.Running() {
			if err := r.conv.Enqueue(line); err != nil {
				fmt.Fprintf(r.out, "[%v]\n", err)
			} else {
				fmt.Fprintln(r.out, "[queued for after the current turn]")
			}
			continue
		}

		if err := r.turn(ctx, line); err != nil {
			fmt.Fprintf(r.out, "[error: %v]\n", err)
		}
	}
}

// command handles slash commands. Returns true to exit.
func (r *REPL) command(line string) bool {
	switch strings.Fields(line)[0] {
	case "/exit", "/quit":
		return true
	case "/tools":
		for _, name := range r.rt.Registry().Names() {
			fmt.Fprintln(r.out, "  "+name)
		}
	case "/help":
		fmt.Fprintln(r.out, "  /tools  list available tools")
		fmt.Fprintln(r.out, "  /exit   quit")
		fmt.Fprintln(r.out, "  Esc     cancel the running turn")
	default:
		fmt.Fprintf(r.out, "[unknown command %s]\n", line)
	}
	return false
}

// turn runs one user turn to completion, rendering events as they arrive.
func (r *REPL) turn(ctx context.Context, prompt string) error {
	tok := cancel.NewToken()

	esc, err := cancel.WatchEscape(tok)
	if err == nil {
		r.setEscape(esc)
		defer func() {
			r.setEscape(nil)
			esc.Stop()
		}()
	}

	sub := r.conv.Subscribe("terminal")
	if sub == nil {
		return errors.New("conversation closed")
	}
	defer r.conv.Unsubscribe(sub)

	turn, err := r.rt.StartTurn(ctx, r.conv, prompt, runtime.TurnOptions{
		Approve: r.approve,
		Token:   tok,
	})
	if err != nil {
		return err
	}
	if turn == nil {
		fmt.Fprintln(r.out, "[queued for after the current turn]")
		return nil
	}

	retry := false
	for {
		var ev models.AgentEvent
		var open bool
		select {
		case ev, open = <-sub.Events():
			if !open {
				return nil
			}
		case <-turn.Done:
			// Drain whatever is still buffered, then finish the turn.
			drained := false
			for !drained {
				select {
				case ev, open = <-sub.Events():
					if !open {
						return nil
					}
					if r.render(ev, tok) {
						retry = true
					}
				default:
					drained = true
				}
			}
			if retry && !tok.Cancelled() {
				retry = false
				turn = r.rt.Resume(ctx, r.conv, runtime.TurnOptions{Approve: r.approve, Token: tok})
				if turn != nil {
					continue
				}
			}
			fmt.Fprintln(r.out)
			return nil
		}
		if r.render(ev, tok) {
			retry = true
		}
	}
}

// render writes one event to the terminal. The return value asks the caller
// to resume the turn after a retryable error's countdown completed.
func (r *REPL) render(ev models.AgentEvent, tok *cancel.Token) bool {
	switch ev.Kind {
	case models.EventThinking:
		fmt.Fprint(r.out, "[thinking]")
	case models.EventPhase:
		fmt.Fprintf(r.out, "\r[%s]   ", ev.Phase)
		if ev.Phase == "streaming" {
			fmt.Fprintln(r.out)
		}
	case models.EventToken:
		if ev.AgentID == "root" {
			fmt.Fprint(r.out, ev.Token)
		}
	case models.EventToolCallStart:
		if ev.ToolCall != nil {
			fmt.Fprintf(r.out, "\n[%s] %s\n", ev.AgentID, tools.DisplaySummary(ev.ToolCall.Name, ev.ToolCall.Args))
		}
	case models.EventToolCallEnd:
		if ev.ToolResult != nil && ev.ToolResult.Status != models.StatusSuccess {
			fmt.Fprintf(r.out, "[%s: %s]\n", ev.ToolResult.ToolName, ev.ToolResult.Status)
		}
	case models.EventSubagentStart:
		fmt.Fprintf(r.out, "[sub-agent %s started]\n", ev.AgentID)
	case models.EventSubagentEnd:
		fmt.Fprintf(r.out, "[sub-agent %s finished]\n", ev.AgentID)
	case models.EventQueuedMessage:
		fmt.Fprintf(r.out, "\n> %s\n", ev.Message)
	case models.EventAutoPlanSuggest:
		fmt.Fprintln(r.out, "\n[hint: this task is growing; consider asking for a plan]")
	case models.EventError:
		return r.handleError(ev, tok)
	case models.EventDone:
		if ev.AgentID == "root" {
			fmt.Fprintln(r.out)
		}
	}
	return false
}

// handleError renders an error event and, for retryable ones, runs a
// cancellable countdown. Returns true when the caller should retry.
func (r *REPL) handleError(ev models.AgentEvent, tok *cancel.Token) bool {
	fmt.Fprintf(r.out, "\n[error (%s): %s]\n", ev.ErrCode, ev.Message)
	if !ev.Retryable {
		return false
	}
	ok := cancel.Countdown(tok, retryWaitSeconds, func(remaining int) {
		fmt.Fprintf(r.out, "\r[retrying in %ds] ", remaining)
	})
	if !ok {
		fmt.Fprintln(r.out, "\n[cancelled]")
		return false
	}
	fmt.Fprintln(r.out)
	return true
}

func (r *REPL) setEscape(esc *cancel.EscapeWatcher) {
	r.escMu.Lock()
	r.esc = esc
	r.escMu.Unlock()
}

func (r *REPL) escape() *cancel.EscapeWatcher {
	r.escMu.Lock()
	defer r.escMu.Unlock()
	return r.esc
}

// approve prompts on the terminal for a gated tool call. While the escape
// watcher holds stdin in raw mode the answer is read through it, so the
// prompt and the watcher never compete for keystrokes.
func (r *REPL) approve(ctx context.Context, v safety.Verdict) (tools.ApprovalResponse, error) {
	fmt.Fprintf(r.out, "\n[approval required] %s: %s\n", v.Tool, v.Reason)
	fmt.Fprint(r.out, "  allow? [y]es / [n]o / [a]lways this session: ")

	if esc := r.escape(); esc != nil {
		s, err := esc.ReadLine(ctx, r.out)
		if err != nil {
			return tools.ApprovalResponse{}, err
		}
		return parseApproval(s), nil
	}

	// Cooked-mode fallback for non-terminal stdin.
	answer := make(chan string, 1)
	go func() {
		var s string
		if _, err := fmt.Fscanln(os.Stdin, &s); err != nil {
			s = "n"
		}
		answer <- s
	}()

	select {
	case <-ctx.Done():
		return tools.ApprovalResponse{}, ctx.Err()
	case s := <-answer:
		return parseApproval(s), nil
	}
}

// parseApproval maps a typed answer onto an approval decision. Anything not
// recognised denies.
func parseApproval(s string) tools.ApprovalResponse {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return tools.ApprovalResponse{Approved: true}
	case "a", "always":
		return tools.ApprovalResponse{Approved: true, ForSession: true}
	default:
		return tools.ApprovalResponse{}
	}
}

// FormatStreamError renders an llm error for exec mode output.
func FormatStreamError(err *llm.StreamError) string {
	if err == nil {
		return ""
	}
	return "error (" + string(err.Code) + "): " + err.Message + " retryable=" + strconv.FormatBool(err.Retryable())
}
