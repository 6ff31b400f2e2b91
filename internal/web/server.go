// Package web serves the HTTP/SSE front end: message posting, event
// streaming, stop, and the approval channel.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anteroomhq/anteroom/internal/runtime"
	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
	"github.com/anteroomhq/anteroom/pkg/models"
)

// Server is the HTTP front end over one Runtime.
type Server struct {
	rt        *runtime.Runtime
	approvals *approvalHub
	logger    *slog.Logger

	// origins tracks which client started the current turn per conversation
	// so SSE token throttling can spare the originator.
	origins syncMap
}

// NewServer builds the server.
func NewServer(rt *runtime.Runtime, approvalTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		rt:        rt,
		approvals: newApprovalHub(approvalTimeout),
		logger:    logger.With("component", "web"),
	}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/conversations/{id}/messages", s.handlePostMessage)
		r.Get("/conversations/{id}/events", s.handleEvents)
		r.Post("/conversations/{id}/stop", s.handleStop)
		r.Get("/conversations/{id}/canvases", s.handleListCanvases)
		r.Post("/approvals/{id}", s.handleApproval)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// ListenAndServe runs the server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	s.logger.Info("http server listening", "addr", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type postMessageRequest struct {
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	conv := s.rt.Conversation(convID)
	s.origins.store(convID, req.ClientID)

	approve := s.approvalFunc(convID, conv)
	turn, err := s.rt.StartTurn(context.Background(), conv, req.Message, runtime.TurnOptions{Approve: approve})
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if turn == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// approvalFunc bridges the registry's approval callback onto the SSE channel
// and the approval REST endpoint.
func (s *Server) approvalFunc(convID string, conv *runtime.Conversation) tools.ApprovalFunc {
	return func(ctx context.Context, v safety.Verdict) (tools.ApprovalResponse, error) {
		return s.approvals.request(ctx, convID, v, func(p *pendingApproval) {
			conv.Broadcast(models.AgentEvent{
				Kind:    models.EventApprovalRequired,
				Message: v.Reason,
				Data: map[string]any{
					"approval_id": p.ID,
					"tool":        v.Tool,
					"verdict":     v,
				},
				Time: time.Now().UTC(),
			})
		})
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	clientID := r.URL.Query().Get("client_id")
	conv := s.rt.Conversation(convID)

	originator := clientID != "" && s.origins.load(convID) == clientID
	writer, err := newSSEWriter(w, originator)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	sub := conv.Subscribe("sse:" + clientID)
	if sub == nil {
		return
	}
	defer conv.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writer.write(ev)
		}
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	conv := s.rt.Conversation(convID)
	if conv.Stop() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}

type approvalRequest struct {
	Approved   bool `json:"approved"`
	ForSession bool `json:"for_session"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if !s.approvals.resolve(id, tools.ApprovalResponse{Approved: req.Approved, ForSession: req.ForSession}) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown or expired approval id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	list, err := s.rt.Canvases().List(r.Context(), convID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canvases": list})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// syncMap is a tiny string-to-string concurrent map.
type syncMap struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *syncMap) store(k, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]string)
	}
	s.m[k] = v
}

func (s *syncMap) load(k string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[k]
}
