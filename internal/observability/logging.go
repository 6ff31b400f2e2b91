// Package observability provides structured logging, Prometheus metrics,
// and OpenTelemetry tracing for the agent runtime.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "json" (production) or "text" (development).
	Format string `yaml:"format"`

	// Output defaults to os.Stderr so log lines never interleave with
	// streamed model output on stdout.
	Output io.Writer `yaml:"-"`

	// RedactPatterns are additional regexes for sensitive data redaction.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// defaultRedactPatterns cover the secrets most likely to leak through tool
// output and upstream error messages.
var defaultRedactPatterns = []string{
	`sk-[a-zA-Z0-9_-]{20,}`,
	`(?i)(api[_-]?key|token|secret|password)[\s:=]+["']?[^\s"']{8,}["']?`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger builds a slog.Logger with level/format config and a redacting
// handler. Invalid redact patterns are ignored.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	redacts := compileRedacts(append(append([]string(nil), defaultRedactPatterns...), cfg.RedactPatterns...))
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				a.Value = slog.StringValue(redact(a.Value.String(), redacts))
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return slog.New(handler)
}

func compileRedacts(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, re)
		}
	}
	return out
}

func redact(s string, redacts []*regexp.Regexp) string {
	for _, re := range redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
