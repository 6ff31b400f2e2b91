package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
)

// WriteTool implements file writes.
type WriteTool struct {
	workspace string
}

// NewWriteTool creates a write tool scoped to the workspace.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{workspace: cfg.Workspace}
}

func (t *WriteTool) Name() string { return "write_file" }

func (t *WriteTool) Description() string {
	return "Write content to a file (overwrites by default)."
}

func (t *WriteTool) Tier() safety.Tier { return safety.TierWrite }

func (t *WriteTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to write.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "File contents to write.",
			},
			"append": map[string]any{
				"type":        "boolean",
				"description": "Append instead of overwrite (default: false).",
			},
		},
		"required": []string{"path", "content"},
	})
}

// Execute writes file contents.
func (t *WriteTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	path, bad := requirePath(args)
	if bad != nil {
		return bad, nil
	}
	resolved := t.resolve(path)
	if err := safety.CheckPath(resolved); err != nil {
		return errOut(err.Error()), nil
	}

	content, ok := args["content"].(string)
	if !ok {
		return errOut("content is required"), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return errOut(fmt.Sprintf("create directory: %v", err)), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if boolArg(args, "append") {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return errOut(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	n, err := file.WriteString(content)
	if err != nil {
		return errOut(fmt.Sprintf("write file: %v", err)), nil
	}

	return map[string]any{
		"path":          path,
		"bytes_written": n,
		"append":        boolArg(args, "append"),
	}, nil
}

func (t *WriteTool) resolve(path string) string {
	if filepath.IsAbs(path) || t.workspace == "" {
		return path
	}
	return filepath.Join(t.workspace, path)
}
