// Package canvastools exposes the canvas store as the create_canvas,
// update_canvas, and patch_canvas tools.
package canvastools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anteroomhq/anteroom/internal/canvas"
	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
)

func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func errOut(msg string) map[string]any {
	return map[string]any{"error": msg}
}

func snapshot(c *canvas.Canvas) map[string]any {
	return map[string]any{
		"canvas_id": c.ID,
		"title":     c.Title,
		"language":  c.Language,
		"version":   c.Version,
		"content":   c.Content,
	}
}

// CreateTool creates a new canvas artifact.
type CreateTool struct {
	store canvas.Store
}

// NewCreateTool builds the tool on a shared store.
func NewCreateTool(store canvas.Store) *CreateTool {
	return &CreateTool{store: store}
}

func (t *CreateTool) Name() string { return "create_canvas" }

func (t *CreateTool) Description() string {
	return "Create a canvas artifact (code or document) rendered alongside chat."
}

func (t *CreateTool) Tier() safety.Tier { return safety.TierWrite }

func (t *CreateTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short title, typically a file name.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full canvas content.",
			},
			"language": map[string]any{
				"type":        "string",
				"description": "Language hint for syntax highlighting.",
			},
		},
		"required": []string{"title", "content"},
	})
}

func (t *CreateTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	title, _ := args["title"].(string)
	content, _ := args["content"].(string)
	language, _ := args["language"].(string)
	if strings.TrimSpace(title) == "" {
		return errOut("title is required"), nil
	}

	c := &canvas.Canvas{
		Title:    title,
		Language: language,
		Content:  content,
	}
	if inv != nil {
		c.ConversationID = inv.ConversationID
	}
	if err := t.store.Create(ctx, c); err != nil {
		return errOut("create canvas: " + err.Error()), nil
	}
	return snapshot(c), nil
}

// UpdateTool replaces a canvas's full content.
type UpdateTool struct {
	store canvas.Store
}

// NewUpdateTool builds the tool on a shared store.
func NewUpdateTool(store canvas.Store) *UpdateTool {
	return &UpdateTool{store: store}
}

func (t *UpdateTool) Name() string { return "update_canvas" }

func (t *UpdateTool) Description() string {
	return "Replace the full content of an existing canvas."
}

func (t *UpdateTool) Tier() safety.Tier { return safety.TierWrite }

func (t *UpdateTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"canvas_id": map[string]any{
				"type":        "string",
				"description": "Canvas to update.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "New full content.",
			},
		},
		"required": []string{"canvas_id", "content"},
	})
}

func (t *UpdateTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	id, _ := args["canvas_id"].(string)
	content, _ := args["content"].(string)
	if id == "" {
		return errOut("canvas_id is required"), nil
	}
	c, err := t.store.Update(ctx, id, content)
	if err != nil {
		return errOut(err.Error()), nil
	}
	return snapshot(c), nil
}

// PatchTool applies a targeted string replacement to a canvas.
type PatchTool struct {
	store canvas.Store
}

// NewPatchTool builds the tool on a shared store.
func NewPatchTool(store canvas.Store) *PatchTool {
	return &PatchTool{store: store}
}

func (t *PatchTool) Name() string { return "patch_canvas" }

func (t *PatchTool) Description() string {
	return "Replace the first occurrence of a string within a canvas."
}

func (t *PatchTool) Tier() safety.Tier { return safety.TierWrite }

func (t *PatchTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"canvas_id": map[string]any{
				"type":        "string",
				"description": "Canvas to patch.",
			},
			"old_string": map[string]any{
				"type":        "string",
				"description": "Exact text to replace.",
			},
			"new_string": map[string]any{
				"type":        "string",
				"description": "Replacement text.",
			},
		},
		"required": []string{"canvas_id", "old_string", "new_string"},
	})
}

func (t *PatchTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	id, _ := args["canvas_id"].(string)
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)
	if id == "" {
		return errOut("canvas_id is required"), nil
	}
	if oldStr == "" {
		return errOut("old_string is required"), nil
	}
	c, err := t.store.Patch(ctx, id, oldStr, newStr)
	if err != nil {
		return errOut(err.Error()), nil
	}
	return snapshot(c), nil
}
