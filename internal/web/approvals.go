package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
)

// maxPendingApprovals caps the pending map so disconnected clients cannot
// grow it without bound. Excess requests auto-deny.
const maxPendingApprovals = 100

type pendingApproval struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Verdict        safety.Verdict `json:"verdict"`

	reply chan tools.ApprovalResponse
}

// approvalHub mints approval ids, publishes approval_required frames, and
// waits for the REST endpoint to feed the user's answer back.
type approvalHub struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	timeout time.Duration
}

func newApprovalHub(timeout time.Duration) *approvalHub {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &approvalHub{
		pending: make(map[string]*pendingApproval),
		timeout: timeout,
	}
}

// request registers a pending approval and blocks for the answer, the
// timeout, or cancellation. Timeouts and overflow deny.
func (h *approvalHub) request(ctx context.Context, conversationID string, v safety.Verdict, notify func(*pendingApproval)) (tools.ApprovalResponse, error) {
	p := &pendingApproval{
		ID:             newApprovalID(),
		ConversationID: conversationID,
		Verdict:        v,
		reply:          make(chan tools.ApprovalResponse, 1),
	}

	h.mu.Lock()
	if len(h.pending) >= maxPendingApprovals {
		h.mu.Unlock()
		return tools.ApprovalResponse{}, nil
	}
	h.pending[p.ID] = p
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, p.ID)
		h.mu.Unlock()
	}()

	notify(p)

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case resp := <-p.reply:
		return resp, nil
	case <-timer.C:
		return tools.ApprovalResponse{}, nil
	case <-ctx.Done():
		return tools.ApprovalResponse{}, ctx.Err()
	}
}

// resolve feeds the user's answer to the waiting request. Returns false for
// unknown or already-resolved ids.
func (h *approvalHub) resolve(id string, resp tools.ApprovalResponse) bool {
	h.mu.Lock()
	p, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	p.reply <- resp
	return true
}

func newApprovalID() string {
	return "appr-" + uuid.NewString()[:8]
}
