package files

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
)

const globMaxResults = 500

// GlobTool lists files matching a glob pattern. Supports ** for recursive
// matching against path suffixes.
type GlobTool struct {
	workspace string
}

// NewGlobTool creates a glob tool scoped to the workspace.
func NewGlobTool(cfg Config) *GlobTool {
	return &GlobTool{workspace: cfg.Workspace}
}

func (t *GlobTool) Name() string { return "glob_files" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern, e.g. '*.go' or 'src/**/*.ts'."
}

func (t *GlobTool) Tier() safety.Tier { return safety.TierRead }

func (t *GlobTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Glob pattern to match file paths against.",
			},
			"root": map[string]any{
				"type":        "string",
				"description": "Directory to search in (default: workspace).",
			},
		},
		"required": []string{"pattern"},
	})
}

// Execute walks the root and collects matching files.
func (t *GlobTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	pattern := strings.TrimSpace(stringArg(args, "pattern"))
	if pattern == "" {
		return errOut("pattern is required"), nil
	}

	root := strings.TrimSpace(stringArg(args, "root"))
	if root == "" {
		root = t.workspace
	}
	if root == "" {
		root = "."
	}
	if err := safety.CheckPath(root); err != nil {
		return errOut(err.Error()), nil
	}

	var matches []string
	truncated := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		if !matchGlob(pattern, rel) {
			return nil
		}
		if len(matches) >= globMaxResults {
			truncated = true
			return filepath.SkipAll
		}
		matches = append(matches, rel)
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return errOut("glob walk failed: " + err.Error()), nil
	}

	sort.Strings(matches)
	out := map[string]any{
		"pattern": pattern,
		"files":   matches,
		"count":   len(matches),
	}
	if truncated {
		out["truncated"] = true
	}
	return out, nil
}

// matchGlob extends path.Match with ** support by also matching the pattern
// tail against path suffixes.
func matchGlob(pattern, rel string) bool {
	rel = filepath.ToSlash(rel)
	pattern = filepath.ToSlash(pattern)

	if !strings.Contains(pattern, "**") {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		// Bare filename patterns match at any depth.
		if !strings.Contains(pattern, "/") {
			ok, _ := filepath.Match(pattern, filepath.Base(rel))
			return ok
		}
		return false
	}

	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")

	if prefix != "" {
		if !strings.HasPrefix(rel, prefix+"/") && rel != prefix {
			return false
		}
		rel = strings.TrimPrefix(strings.TrimPrefix(rel, prefix), "/")
	}
	if suffix == "" {
		return true
	}

	segments := strings.Split(rel, "/")
	for i := range segments {
		candidate := strings.Join(segments[i:], "/")
		if ok, _ := filepath.Match(suffix, candidate); ok {
			return true
		}
	}
	return false
}
