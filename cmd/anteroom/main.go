// Package main provides the CLI entry point for the Anteroom agent runtime.
//
// Anteroom drives an OpenAI-compatible chat model through a tool-using loop
// with a layered safety gate over every side effect: file edits, shell
// commands, MCP tool calls, and sub-agent spawns.
//
// # Basic Usage
//
// Start an interactive session:
//
//	anteroom repl
//
// Run a single prompt non-interactively:
//
//	anteroom exec "summarize the README" --timeout 5m
//
// Serve the HTTP/SSE API:
//
//	anteroom serve --addr 127.0.0.1:8420
//
// # Environment Variables
//
//   - ANTEROOM_CONFIG: Path to configuration file
//   - ANTEROOM_API_KEY / OPENAI_API_KEY: Upstream API key
//   - ANTEROOM_BASE_URL: OpenAI-compatible endpoint base URL
//   - ANTEROOM_MODEL: Model name
//   - ANTEROOM_ADDR: Serve mode listen address
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "anteroom",
		Short:         "Local tool-using agent runtime",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildReplCmd(),
		buildServeCmd(),
		buildExecCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
