// Package shell implements the bash tool. The handler carries its own
// hard-block check as the last line of defense: destructive patterns are
// refused unconditionally unless the registry threads the user-approved
// bypass flag.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anteroomhq/anteroom/internal/safety"
	"github.com/anteroomhq/anteroom/internal/tools"
)

const (
	defaultTimeout = 2 * time.Minute
	maxTimeout     = 10 * time.Minute
	killGrace      = 5 * time.Second
	maxOutputBytes = 64 * 1024
)

// BashTool runs shell commands with a timeout.
type BashTool struct {
	workdir string
}

// NewBashTool creates the tool. workdir may be empty for the process cwd.
func NewBashTool(workdir string) *BashTool {
	return &BashTool{workdir: workdir}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Run a shell command and return stdout, stderr, and the exit code."
}

func (t *BashTool) Tier() safety.Tier { return safety.TierExecute }

func (t *BashTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (default: 120, max: 600).",
				"minimum":     0,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute runs the command. The hard-block check comes first and ignores the
// safety gate entirely; only the registry-threaded bypass flag disables it.
func (t *BashTool) Execute(ctx context.Context, args map[string]any, inv *tools.Invocation) (map[string]any, error) {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		return map[string]any{"error": "command is required", "exit_code": -1}, nil
	}

	bypass := inv != nil && inv.BypassHardBlock
	if !bypass {
		if reason := safety.HardBlockReason(command); reason != "" {
			return map[string]any{
				"error":          "Blocked: " + reason,
				"safety_blocked": false,
				"exit_code":      -1,
			}, nil
		}
	}

	timeout := defaultTimeout
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
	}

	runCtx, cancelRun := context.WithTimeout(ctx, timeout)
	defer cancelRun()
	if inv != nil && inv.Cancel != nil {
		var stop context.CancelFunc
		runCtx, stop = inv.Cancel.Context(runCtx)
		defer stop()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if t.workdir != "" {
		cmd.Dir = t.workdir
	}
	// Kill the whole process group so pipelines do not outlive the timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		time.AfterFunc(killGrace, func() {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		})
		return nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return map[string]any{
			"error":     "command timed out after " + timeout.String(),
			"stdout":    clip(stdout.String()),
			"stderr":    clip(stderr.String()),
			"exit_code": -1,
		}, nil
	}
	if inv != nil && inv.Cancel != nil && inv.Cancel.Cancelled() {
		return map[string]any{
			"error":     "Cancelled by user",
			"exit_code": -1,
		}, nil
	}

	out := map[string]any{
		"stdout":    clip(stdout.String()),
		"stderr":    clip(stderr.String()),
		"exit_code": exitCode,
	}
	if exitCode != 0 {
		out["error"] = "command exited with code " + strconv.Itoa(exitCode)
	}
	return out, nil
}

const clipSuffix = "\n... (output truncated)"

// clip caps s at maxOutputBytes, suffix included.
func clip(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes-len(clipSuffix)] + clipSuffix
}
