// Package safety implements the layered admission control that classifies
// every tool call into auto-allow, ask-user, or hard-deny.
package safety

import (
	"log/slog"
	"regexp"
	"sync"

	"github.com/anteroomhq/anteroom/pkg/models"
)

// Config is the safety section of the runtime configuration.
type Config struct {
	// Enabled turns the whole gate on or off. When false every call is
	// auto-allowed (the bash handler's hard-block still applies).
	Enabled bool `yaml:"enabled"`

	// ApprovalMode selects the tier threshold that triggers approval.
	ApprovalMode models.ApprovalMode `yaml:"approval_mode"`

	// BashEnabled and WriteFileEnabled are independent per-tool switches.
	// A disabled tool is hard-denied.
	BashEnabled      bool `yaml:"bash_enabled"`
	WriteFileEnabled bool `yaml:"write_file_enabled"`

	// AllowedTools are auto-allowed; DeniedTools are hard-denied.
	AllowedTools []string `yaml:"allowed_tools"`
	DeniedTools  []string `yaml:"denied_tools"`

	// BashPatterns are user-supplied regexes that route bash commands
	// through approval, in addition to the built-in destructive patterns.
	BashPatterns []string `yaml:"bash_patterns"`

	// WritePaths are user-supplied sensitive path components, in addition
	// to the built-in list.
	WritePaths []string `yaml:"write_paths"`
}

// DefaultConfig returns the gate defaults: enabled, ask for dangerous tiers.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		ApprovalMode:     models.ApprovalAskDangerous,
		BashEnabled:      true,
		WriteFileEnabled: true,
	}
}

// Verdict is the gate's decision for a single tool invocation.
//
// HardDenied means the tool must never execute regardless of user response.
// IsHardBlocked means the tool must not execute unless the caller threads an
// explicit bypass flag after user approval.
type Verdict struct {
	NeedsApproval bool           `json:"needs_approval"`
	HardDenied    bool           `json:"hard_denied"`
	IsHardBlocked bool           `json:"is_hard_blocked"`
	Tool          string         `json:"tool"`
	Reason        string         `json:"reason,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Allowed reports whether the call may run without asking the user.
func (v Verdict) Allowed() bool {
	return !v.NeedsApproval && !v.HardDenied
}

// Gate evaluates tool invocations against the configured policy. The only
// mutable state is the session-granted permission set, cleared when the
// session ends.
type Gate struct {
	mu             sync.Mutex
	cfg            Config
	bashExtra      []*regexp.Regexp
	sessionAllowed map[string]struct{}
	logger         *slog.Logger
}

// NewGate builds a gate from config. Invalid user patterns are logged and
// skipped rather than failing the session.
func NewGate(cfg Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		sessionAllowed: make(map[string]struct{}),
		logger:         logger.With("component", "safety"),
	}
	g.apply(cfg)
	return g
}

func (g *Gate) apply(cfg Config) {
	compiled, errs := CompilePatterns(cfg.BashPatterns)
	for _, err := range errs {
		g.logger.Warn("skipping safety pattern", "error", err)
	}
	g.mu.Lock()
	g.cfg = cfg
	g.bashExtra = compiled
	g.mu.Unlock()
}

// Reload swaps in a new config, preserving session grants. Used by the
// config watcher for hot reloads.
func (g *Gate) Reload(cfg Config) {
	g.apply(cfg)
	g.logger.Info("safety config reloaded", "approval_mode", cfg.ApprovalMode)
}

// GrantSession allows the named tool for the remainder of the session.
func (g *Gate) GrantSession(tool string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionAllowed[tool] = struct{}{}
}

// SessionGranted reports whether the tool holds a session grant.
func (g *Gate) SessionGranted(tool string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.sessionAllowed[tool]
	return ok
}

// ClearSession drops all session grants.
func (g *Gate) ClearSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionAllowed = make(map[string]struct{})
}

// threshold maps an approval mode to the minimum tier that triggers
// approval. Tiers below the threshold still go through pattern checks.
func threshold(mode models.ApprovalMode) Tier {
	switch mode {
	case models.ApprovalAuto:
		return TierDestructive + 1
	case models.ApprovalAskDangerous:
		return TierDestructive
	case models.ApprovalAskWrites, models.ApprovalAsk:
		return TierWrite
	default:
		return TierDestructive
	}
}

// Evaluate runs the layered decision for one tool invocation.
// It is deterministic for a fixed (tool, args, config, session set).
func (g *Gate) Evaluate(tool string, tier Tier, args map[string]any) Verdict {
	g.mu.Lock()
	cfg := g.cfg
	extra := g.bashExtra
	_, granted := g.sessionAllowed[tool]
	g.mu.Unlock()

	v := Verdict{Tool: tool}

	if !cfg.Enabled {
		return v
	}

	switch tool {
	case "bash":
		if !cfg.BashEnabled {
			v.HardDenied = true
			v.Reason = "bash tool is disabled"
			return v
		}
	case "write_file":
		if !cfg.WriteFileEnabled {
			v.HardDenied = true
			v.Reason = "write_file tool is disabled"
			return v
		}
	}

	for _, denied := range cfg.DeniedTools {
		if denied == tool {
			v.HardDenied = true
			v.Reason = "tool is in the denied list"
			return v
		}
	}

	if granted {
		return v
	}
	for _, allowed := range cfg.AllowedTools {
		if allowed == tool {
			return v
		}
	}

	// Auto mode bypasses the destructive-pattern checks entirely; the bash
	// handler's hard-block remains in force regardless.
	if cfg.ApprovalMode == models.ApprovalAuto {
		return v
	}

	hardBlocked := false
	if tool == "bash" {
		if cmd, ok := args["command"].(string); ok {
			hardBlocked = HardBlockReason(cmd) != ""
		}
	}

	if tier < threshold(cfg.ApprovalMode) {
		if reason := g.patternReason(tool, args, extra, cfg.WritePaths); reason != "" {
			v.NeedsApproval = true
			v.IsHardBlocked = hardBlocked
			v.Reason = reason
			v.Details = map[string]any{"tier": tier.String()}
			return v
		}
		return v
	}

	v.NeedsApproval = true
	v.IsHardBlocked = hardBlocked
	v.Reason = tool + " is tier " + tier.String() + " under approval mode " + string(cfg.ApprovalMode)
	v.Details = map[string]any{"tier": tier.String()}
	return v
}

func (g *Gate) patternReason(tool string, args map[string]any, extra []*regexp.Regexp, writePaths []string) string {
	switch tool {
	case "bash":
		if cmd, ok := args["command"].(string); ok {
			return BashApprovalReason(cmd, extra)
		}
	case "write_file", "edit_file":
		if path, ok := args["path"].(string); ok {
			return WritePathReason(path, writePaths)
		}
	}
	return ""
}
