package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anteroomhq/anteroom/internal/canvas"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// tokenThrottle limits token frame rate for clients that did not originate
// the turn. The originating client sees every token verbatim.
const tokenThrottle = 100 * time.Millisecond

var canvasToolFrames = map[string]string{
	"create_canvas": "canvas_created",
	"update_canvas": "canvas_updated",
	"patch_canvas":  "canvas_patched",
}

// sseWriter translates agent events into SSE frames for one connection,
// synthesizing the canvas streaming frames from argument deltas.
type sseWriter struct {
	w          http.ResponseWriter
	flusher    http.Flusher
	originator bool

	lastToken time.Time
	// accums tracks in-flight canvas tool calls by argument stream id.
	accums  map[string]*canvas.Accumulator
	started map[string]bool
}

func newSSEWriter(w http.ResponseWriter, originator bool) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{
		w:          w,
		flusher:    flusher,
		originator: originator,
		accums:     make(map[string]*canvas.Accumulator),
		started:    make(map[string]bool),
	}, nil
}

func (s *sseWriter) frame(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event:%s\ndata:%s\n\n", event, data)
	s.flusher.Flush()
}

// write emits the frames for one agent event.
func (s *sseWriter) write(ev models.AgentEvent) {
	switch ev.Kind {
	case models.EventToken:
		if !s.originator {
			now := time.Now()
			if now.Sub(s.lastToken) < tokenThrottle {
				return
			}
			s.lastToken = now
		}
		s.frame(string(ev.Kind), ev)

	case models.EventToolCallArgsDelta:
		s.frame(string(ev.Kind), ev)
		s.canvasDelta(ev)

	case models.EventToolCallEnd:
		s.frame(string(ev.Kind), ev)
		s.canvasComplete(ev)

	default:
		s.frame(string(ev.Kind), ev)
	}
}

// canvasDelta feeds canvas tool argument fragments through the incremental
// decoder and emits canvas_stream_start / canvas_streaming frames.
func (s *sseWriter) canvasDelta(ev models.AgentEvent) {
	if ev.ToolCall == nil {
		return
	}
	name := ev.ToolCall.Name
	if !strings.HasSuffix(name, "_canvas") {
		return
	}
	if _, known := canvasToolFrames[name]; !known {
		return
	}

	key := ev.AgentID + "/" + ev.ToolCall.ID
	acc := s.accums[key]
	if acc == nil {
		acc = &canvas.Accumulator{}
		s.accums[key] = acc
	}
	delta := acc.Feed(ev.Token)
	if delta == "" {
		return
	}
	if !s.started[key] {
		s.started[key] = true
		s.frame("canvas_stream_start", map[string]any{"tool": name})
	}
	s.frame("canvas_streaming", map[string]any{"content_delta": delta})
}

// canvasComplete emits the post-completion snapshot frame for canvas tools.
func (s *sseWriter) canvasComplete(ev models.AgentEvent) {
	if ev.ToolResult == nil {
		return
	}
	frameName, ok := canvasToolFrames[ev.ToolResult.ToolName]
	if !ok {
		return
	}
	// Argument streaming finished before any tool dispatched, so every
	// accumulator from this iteration is complete by now.
	s.accums = make(map[string]*canvas.Accumulator)
	s.started = make(map[string]bool)
	if ev.ToolResult.Status != models.StatusSuccess {
		return
	}
	s.frame(frameName, ev.ToolResult.Output)
}
