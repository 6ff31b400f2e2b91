// commands.go holds the cobra command definitions and their flag wiring.
// Each builder creates one command and delegates to its handler.
package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/anteroomhq/anteroom/internal/config"
)

// buildReplCmd creates the "repl" command, the interactive terminal session.
func buildReplCmd() *cobra.Command {
	var (
		configPath   string
		conversation string
	)

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive terminal session",
		Long: `Start an interactive prompt against the configured model.

Tool calls run through the safety gate; gated calls prompt for approval on
the terminal. Esc cancels the running turn, and messages typed while a turn
runs are queued for after it.`,
		Example: `  # Default conversation
  anteroom repl

  # Resume a named conversation
  anteroom repl --conversation refactor-plan`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl(cmd.Context(), configPath, conversation)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(),
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&conversation, "conversation", "default",
		"Conversation id to attach to")
	return cmd
}

// buildServeCmd creates the "serve" command, the HTTP/SSE front end.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP/SSE API",
		Long: `Serve the HTTP API: message posting, SSE event streaming, stop,
canvas listing, approvals, and Prometheus metrics on /metrics.

Shutdown is graceful on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(),
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", "",
		"Listen address (overrides config)")
	return cmd
}

// buildExecCmd creates the "exec" command: one prompt, no approvals, exit
// code reports the outcome.
func buildExecCmd() *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec [prompt]",
		Short: "Run a single prompt non-interactively",
		Long: `Run one prompt to completion and print the streamed output.

No approval channel exists, so gated tool calls are denied and hard-blocked
commands never run. Exit codes: 0 success, 1 failure, 124 timeout, 130
cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), configPath, args[0], timeout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(),
		"Path to YAML configuration file")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute,
		"Wall-clock limit for the whole run (0 disables)")
	return cmd
}
