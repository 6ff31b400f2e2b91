package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
)

// ReadTool implements a safe file reader.
type ReadTool struct {
	workspace  string
	maxReadLen int
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	return &ReadTool{workspace: cfg.Workspace, maxReadLen: limit}
}

func (t *ReadTool) Name() string { return "read_file" }

func (t *ReadTool) Description() string {
	return "Read a file with optional byte offset and limit."
}

func (t *ReadTool) Tier() safety.Tier { return safety.TierRead }

func (t *ReadTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file.",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "Byte offset to start reading from (default: 0).",
				"minimum":     0,
			},
			"max_bytes": map[string]any{
				"type":        "integer",
				"description": "Maximum bytes to read (capped by tool default).",
				"minimum":     0,
			},
		},
		"required": []string{"path"},
	})
}

// Execute reads the file with safety limits.
func (t *ReadTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	path, bad := requirePath(args)
	if bad != nil {
		return bad, nil
	}
	resolved := t.resolve(path)
	if err := safety.CheckPath(resolved); err != nil {
		return errOut(err.Error()), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return errOut(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errOut(fmt.Sprintf("stat file: %v", err)), nil
	}
	if info.IsDir() {
		return errOut(fmt.Sprintf("%s is a directory", path)), nil
	}

	offset := int64(intArg(args, "offset"))
	if offset < 0 {
		return errOut("offset must be >= 0"), nil
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return errOut(fmt.Sprintf("seek file: %v", err)), nil
		}
	}

	limit := t.maxReadLen
	if max := intArg(args, "max_bytes"); max > 0 && max < limit {
		limit = max
	}

	buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
	if err != nil {
		return errOut(fmt.Sprintf("read file: %v", err)), nil
	}

	truncated := offset+int64(len(buf)) < info.Size()
	return map[string]any{
		"path":      path,
		"content":   string(buf),
		"offset":    offset,
		"bytes":     len(buf),
		"truncated": truncated,
	}, nil
}

func (t *ReadTool) resolve(path string) string {
	if filepath.IsAbs(path) || t.workspace == "" {
		return path
	}
	return filepath.Join(t.workspace, path)
}
