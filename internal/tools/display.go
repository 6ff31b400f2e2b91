package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxDetailLen = 80

// displaySpec names the human label and the argument keys worth surfacing
// for one tool.
type displaySpec struct {
	Label      string
	DetailKeys []string
}

var displaySpecs = map[string]displaySpec{
	"bash":          {Label: "Running", DetailKeys: []string{"command"}},
	"read_file":     {Label: "Reading", DetailKeys: []string{"path"}},
	"write_file":    {Label: "Writing", DetailKeys: []string{"path"}},
	"edit_file":     {Label: "Editing", DetailKeys: []string{"path"}},
	"glob_files":    {Label: "Finding", DetailKeys: []string{"pattern"}},
	"grep":          {Label: "Searching", DetailKeys: []string{"pattern", "path"}},
	"run_agent":     {Label: "Delegating", DetailKeys: []string{"task", "prompt"}},
	"create_canvas": {Label: "Drawing", DetailKeys: []string{"title"}},
	"update_canvas": {Label: "Redrawing", DetailKeys: []string{"id"}},
	"patch_canvas":  {Label: "Patching", DetailKeys: []string{"id"}},
}

// DisplaySummary renders a one-line human description of a tool call for
// terminal output, e.g. `Running: go test ./...` or `Reading: ~/notes.md`.
// Unknown tools (including MCP-namespaced ones) fall back to the bare name.
func DisplaySummary(name string, args map[string]any) string {
	spec, ok := displaySpecs[normalizeToolName(name)]
	if !ok {
		return name
	}
	detail := resolveDetail(args, spec.DetailKeys)
	if detail == "" {
		return spec.Label
	}
	return spec.Label + ": " + detail
}

// normalizeToolName strips MCP server namespaces, e.g. "mcp:files:read_file"
// resolves to "read_file".
func normalizeToolName(name string) string {
	n := strings.ToLower(name)
	if i := strings.LastIndex(n, ":"); i >= 0 {
		n = n[i+1:]
	}
	if i := strings.LastIndex(n, "."); i >= 0 {
		n = n[i+1:]
	}
	return n
}

func resolveDetail(args map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := args[key]
		if !ok {
			continue
		}
		s := coerceDisplayValue(v)
		if s == "" {
			continue
		}
		s = shortenHomePath(s)
		if len(s) > maxDetailLen {
			s = s[:maxDetailLen] + "..."
		}
		return s
	}
	return ""
}

func coerceDisplayValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		return fmt.Sprintf("%t", x)
	default:
		return ""
	}
}

func shortenHomePath(s string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return s
	}
	clean := filepath.Clean(s)
	if clean == filepath.Clean(home) || strings.HasPrefix(clean, filepath.Clean(home)+string(filepath.Separator)) {
		return "~" + clean[len(filepath.Clean(home)):]
	}
	return s
}
