package tools

import (
	"strings"
	"testing"
)

func TestDisplaySummary(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"bash", map[string]any{"command": "go test ./..."}, "Running: go test ./..."},
		{"read_file", map[string]any{"path": "notes.md"}, "Reading: notes.md"},
		{"grep", map[string]any{"pattern": "TODO", "path": "src"}, "Searching: TODO"},
		{"grep", map[string]any{"path": "src"}, "Searching: src"},
		{"glob_files", nil, "Finding"},
		{"create_canvas", map[string]any{"title": "Plan"}, "Drawing: Plan"},
		{"files.read_file", map[string]any{"path": "a.txt"}, "Reading: a.txt"},
		{"mcp:files:read_file", map[string]any{"path": "a.txt"}, "Reading: a.txt"},
		{"mcp:notes:list_notes", map[string]any{"x": 1}, "mcp:notes:list_notes"},
	}
	for _, tc := range tests {
		if got := DisplaySummary(tc.name, tc.args); got != tc.want {
			t.Errorf("DisplaySummary(%q, %v) = %q, want %q", tc.name, tc.args, got, tc.want)
		}
	}
}

func TestDisplaySummaryClipsLongDetail(t *testing.T) {
	got := DisplaySummary("bash", map[string]any{"command": strings.Repeat("x", 200)})
	if len(got) > len("Running: ")+maxDetailLen+3 {
		t.Fatalf("summary not clipped: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("summary = %q", got)
	}
}

func TestShortenHomePath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := shortenHomePath("/home/tester/docs/a.md"); got != "~/docs/a.md" {
		t.Fatalf("got %q", got)
	}
	if got := shortenHomePath("/var/log/syslog"); got != "/var/log/syslog" {
		t.Fatalf("got %q", got)
	}
	if got := shortenHomePath("/home/testerx/a.md"); got != "/home/testerx/a.md" {
		t.Fatalf("sibling dir must not shorten, got %q", got)
	}
}
