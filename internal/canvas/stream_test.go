package canvas

import (
	"strings"
	"testing"
)

func TestExtractContent(t *testing.T) {
	tests := []struct {
		name    string
		partial string
		want    string
	}{
		{"no content key yet", `{"title": "demo"`, ""},
		{"key without colon", `{"content"`, ""},
		{"key without opening quote", `{"content": `, ""},
		{"empty value started", `{"content": "`, ""},
		{"partial value", `{"content": "hello wo`, "hello wo"},
		{"complete value", `{"content": "hello", "language": "go"}`, "hello"},
		{"newline escape", `{"content": "line1\nline2`, "line1\nline2"},
		{"tab and quote escapes", `{"content": "a\tb\"c`, "a\tb\"c"},
		{"backslash escape", `{"content": "a\\b`, `a\b`},
		{"slash escape", `{"content": "a\/b`, "a/b"},
		{"trailing backslash waits", `{"content": "abc\`, "abc"},
		{"unicode escape", `{"content": "pi: \u03c0!`, "pi: π!"},
		{"incomplete unicode waits", `{"content": "x\u03`, "x"},
		{"key after other fields", `{"title": "t", "content": "body`, "body"},
		{"whitespace around colon", `{"content"  :  "v`, "v"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractContent(tc.partial); got != tc.want {
				t.Errorf("ExtractContent(%q) = %q, want %q", tc.partial, got, tc.want)
			}
		})
	}
}

// The decoded output for a growing input must be prefix-monotone: extending
// the partial JSON never rewrites text already produced.
func TestExtractContentPrefixMonotone(t *testing.T) {
	full := `{"title": "t", "content": "def f():\n\tprint(\"hi ✓\")\n", "language": "python"}`

	prev := ""
	for i := 0; i <= len(full); i++ {
		got := ExtractContent(full[:i])
		if !strings.HasPrefix(got, prev) && !strings.HasPrefix(prev, got) {
			t.Fatalf("at %d: %q does not extend %q", i, got, prev)
		}
		if len(got) >= len(prev) {
			prev = got
		}
	}
	if want := "def f():\n\tprint(\"hi ✓\")\n"; prev != want {
		t.Fatalf("final content = %q, want %q", prev, want)
	}
}

func TestAccumulatorDeltas(t *testing.T) {
	a := &Accumulator{}

	fragments := []string{
		`{"title": "demo", `,
		`"content": "print(\"`,
		`hi`,
		`\")", "language": "python"}`,
	}
	var deltas []string
	for _, f := range fragments {
		deltas = append(deltas, a.Feed(f))
	}

	want := []string{"", `print("`, "hi", `")`}
	for i := range want {
		if deltas[i] != want[i] {
			t.Errorf("delta[%d] = %q, want %q", i, deltas[i], want[i])
		}
	}
	if a.Content() != `print("hi")` {
		t.Fatalf("content = %q", a.Content())
	}
}

func TestAccumulatorOverflowStopsEmitting(t *testing.T) {
	a := &Accumulator{}
	a.Feed(`{"content": "`)

	big := strings.Repeat("x", 64*1024)
	first := a.Feed(big)
	if first == "" {
		t.Fatal("first chunk should decode")
	}

	// This pushes the buffer past the cap; everything after is dropped.
	if delta := a.Feed(big); delta != "" {
		t.Fatalf("overflow chunk emitted %d bytes", len(delta))
	}
	if delta := a.Feed("more"); delta != "" {
		t.Fatal("accumulator must stay silent after overflow")
	}
}
