package files

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
)

const (
	grepMaxMatches  = 200
	grepMaxLineLen  = 512
	grepMaxFileSize = 4 << 20
)

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	workspace string
}

// NewGrepTool creates a grep tool scoped to the workspace.
func NewGrepTool(cfg Config) *GrepTool {
	return &GrepTool{workspace: cfg.Workspace}
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression, returning matching lines with file and line number."
}

func (t *GrepTool) Tier() safety.Tier { return safety.TierRead }

func (t *GrepTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "File or directory to search (default: workspace).",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Only search files matching this glob, e.g. '*.go'.",
			},
			"case_insensitive": map[string]any{
				"type":        "boolean",
				"description": "Case-insensitive matching (default: false).",
			},
		},
		"required": []string{"pattern"},
	})
}

// Execute runs the search.
func (t *GrepTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return errOut("pattern is required"), nil
	}
	if boolArg(args, "case_insensitive") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errOut("invalid regex: " + err.Error()), nil
	}

	root := strings.TrimSpace(stringArg(args, "path"))
	if root == "" {
		root = t.workspace
	}
	if root == "" {
		root = "."
	}
	if err := safety.CheckPath(root); err != nil {
		return errOut(err.Error()), nil
	}

	fileGlob := stringArg(args, "glob")

	type match struct {
		File string `json:"file"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var matches []match
	truncated := false

	searchFile := func(path, rel string) error {
		if info, err := os.Stat(path); err != nil || info.Size() > grepMaxFileSize {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if strings.ContainsRune(line, 0) {
				return nil // binary file
			}
			if !re.MatchString(line) {
				continue
			}
			if len(line) > grepMaxLineLen {
				line = line[:grepMaxLineLen] + "..."
			}
			if len(matches) >= grepMaxMatches {
				truncated = true
				return filepath.SkipAll
			}
			matches = append(matches, match{File: rel, Line: lineNo, Text: line})
		}
		return nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return errOut("stat path: " + err.Error()), nil
	}
	if !info.IsDir() {
		if err := searchFile(root, root); err != nil && err != filepath.SkipAll {
			return errOut(err.Error()), nil
		}
	} else {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
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
			if fileGlob != "" {
				if ok, _ := filepath.Match(fileGlob, filepath.Base(path)); !ok {
					return nil
				}
			}
			return searchFile(path, rel)
		})
		if err != nil && err != filepath.SkipAll {
			return errOut("search walk failed: " + err.Error()), nil
		}
	}

	out := map[string]any{
		"pattern": stringArg(args, "pattern"),
		"matches": matches,
		"count":   len(matches),
	}
	if truncated {
		out["truncated"] = true
	}
	return out, nil
}
