// Package files implements the filesystem tools: read_file, write_file,
// edit_file, glob_files, and grep. Every path input passes through the
// traversal guard before any filesystem access.
package files

import (
	"encoding/json"
	"strings"
)

// Config controls filesystem tool defaults.
type Config struct {
	// Workspace anchors relative paths. Empty means the process working dir.
	Workspace string

	// MaxReadBytes caps read_file output.
	MaxReadBytes int
}

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

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func requirePath(args map[string]any) (string, map[string]any) {
	path := strings.TrimSpace(stringArg(args, "path"))
	if path == "" {
		return "", errOut("path is required")
	}
	return path, nil
}
