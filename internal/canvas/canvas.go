// Package canvas manages rich content artifacts produced by the canvas tools
// and the incremental decoder that streams their content while the model is
// still generating it.
package canvas

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Canvas is one artifact (code file, document) rendered alongside chat.
type Canvas struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Language       string    `json:"language,omitempty"`
	Content        string    `json:"content"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists canvases for the lifetime of the process.
type Store interface {
	Create(ctx context.Context, c *Canvas) error
	Update(ctx context.Context, id, content string) (*Canvas, error)
	Patch(ctx context.Context, id, oldStr, newStr string) (*Canvas, error)
	Get(ctx context.Context, id string) (*Canvas, error)
	List(ctx context.Context, conversationID string) ([]*Canvas, error)
}

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	canvases map[string]*Canvas
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{canvases: make(map[string]*Canvas)}
}

// Create inserts a canvas, assigning id and version.
func (s *MemoryStore) Create(_ context.Context, c *Canvas) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.canvases[c.ID]; exists {
		return fmt.Errorf("canvas %s already exists", c.ID)
	}
	s.canvases[c.ID] = clone(c)
	return nil
}

// Update replaces the full content, bumping the version.
func (s *MemoryStore) Update(_ context.Context, id, content string) (*Canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.canvases[id]
	if !ok {
		return nil, fmt.Errorf("canvas %s not found", id)
	}
	c.Content = content
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	return clone(c), nil
}

// Patch replaces the first occurrence of oldStr with newStr.
func (s *MemoryStore) Patch(_ context.Context, id, oldStr, newStr string) (*Canvas, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.canvases[id]
	if !ok {
		return nil, fmt.Errorf("canvas %s not found", id)
	}
	if oldStr == "" || !strings.Contains(c.Content, oldStr) {
		return nil, fmt.Errorf("patch target not found in canvas %s", id)
	}
	c.Content = strings.Replace(c.Content, oldStr, newStr, 1)
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	return clone(c), nil
}

// Get returns a copy of the canvas.
func (s *MemoryStore) Get(_ context.Context, id string) (*Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.canvases[id]
	if !ok {
		return nil, fmt.Errorf("canvas %s not found", id)
	}
	return clone(c), nil
}

// List returns the canvases belonging to a conversation.
func (s *MemoryStore) List(_ context.Context, conversationID string) ([]*Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Canvas
	for _, c := range s.canvases {
		if c.ConversationID == conversationID {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func clone(c *Canvas) *Canvas {
	cp := *c
	return &cp
}
