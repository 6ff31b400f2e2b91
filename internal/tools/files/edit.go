package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
)

// EditTool performs exact string replacement inside a file.
type EditTool struct {
	workspace string
}

// NewEditTool creates an edit tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	return &EditTool{workspace: cfg.Workspace}
}

func (t *EditTool) Name() string { return "edit_file" }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. The old string must appear exactly once unless replace_all is set."
}

func (t *EditTool) Tier() safety.Tier { return safety.TierWrite }

func (t *EditTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to edit.",
			},
			"old_string": map[string]any{
				"type":        "string",
				"description": "Exact text to replace.",
			},
			"new_string": map[string]any{
				"type":        "string",
				"description": "Replacement text.",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace every occurrence (default: false).",
			},
		},
		"required": []string{"path", "old_string", "new_string"},
	})
}

// Execute applies the replacement.
func (t *EditTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	path, bad := requirePath(args)
	if bad != nil {
		return bad, nil
	}
	resolved := t.resolve(path)
	if err := safety.CheckPath(resolved); err != nil {
		return errOut(err.Error()), nil
	}

	oldStr := stringArg(args, "old_string")
	newStr := stringArg(args, "new_string")
	if oldStr == "" {
		return errOut("old_string is required"), nil
	}
	if oldStr == newStr {
		return errOut("old_string and new_string are identical"), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return errOut(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)

	count := strings.Count(content, oldStr)
	if count == 0 {
		return errOut("old_string not found in file"), nil
	}

	replaceAll := boolArg(args, "replace_all")
	if count > 1 && !replaceAll {
		return errOut(fmt.Sprintf("old_string appears %d times; pass replace_all or make it unique", count)), nil
	}

	replaced := count
	if replaceAll {
		content = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		content = strings.Replace(content, oldStr, newStr, 1)
		replaced = 1
	}

	info, err := os.Stat(resolved)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(resolved, []byte(content), mode); err != nil {
		return errOut(fmt.Sprintf("write file: %v", err)), nil
	}

	return map[string]any{
		"path":         path,
		"replacements": replaced,
	}, nil
}

func (t *EditTool) resolve(path string) string {
	if filepath.IsAbs(path) || t.workspace == "" {
		return path
	}
	return filepath.Join(t.workspace, path)
}
