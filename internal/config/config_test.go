package config

import (
	"os"
	"path/filepath"
	"testing"
)

// clearEnv blanks every override so tests see only what they set.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ANTEROOM_API_KEY", "OPENAI_API_KEY", "ANTEROOM_BASE_URL",
		"ANTEROOM_MODEL", "ANTEROOM_LOG_LEVEL", "ANTEROOM_ADDR", "ANTEROOM_DB",
	} {
		t.Setenv(k, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LLM.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("base url = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Limits.MaxIterations != 50 {
		t.Errorf("max iterations = %d", cfg.Limits.MaxIterations)
	}
	if cfg.Limits.ToolOutputMaxChars != 2048 {
		t.Errorf("tool output max = %d", cfg.Limits.ToolOutputMaxChars)
	}
	if cfg.Limits.MaxConcurrentSubs != 5 || cfg.Limits.MaxTotalSubs != 10 {
		t.Errorf("subagent limits = %d/%d", cfg.Limits.MaxConcurrentSubs, cfg.Limits.MaxTotalSubs)
	}
	if cfg.Web.Addr != "127.0.0.1:8420" || cfg.Web.ApprovalTimeout != 120 {
		t.Errorf("web = %+v", cfg.Web)
	}
	if !cfg.Safety.Enabled {
		t.Error("safety should be enabled by default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("model = %q, want defaults for missing file", cfg.LLM.Model)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
llm:
  model: local-model
  base_url: http://localhost:11434/v1
safety:
  approval_mode: auto
limits:
  max_iterations: 5
  narration_cadence: 3
web:
  addr: 0.0.0.0:9000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "local-model" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("base url = %q", cfg.LLM.BaseURL)
	}
	if cfg.Safety.ApprovalMode != "auto" {
		t.Errorf("approval mode = %q", cfg.Safety.ApprovalMode)
	}
	if cfg.Limits.MaxIterations != 5 || cfg.Limits.NarrationCadence != 3 {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	if cfg.Web.Addr != "0.0.0.0:9000" {
		t.Errorf("addr = %q", cfg.Web.Addr)
	}
	// Unspecified limits fall back to defaults through normalize.
	if cfg.Limits.ToolOutputMaxChars != 2048 {
		t.Errorf("tool output max = %d", cfg.Limits.ToolOutputMaxChars)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("llm: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTEROOM_MODEL", "env-model")
	t.Setenv("ANTEROOM_ADDR", "127.0.0.1:7777")
	t.Setenv("ANTEROOM_DB", "/tmp/env.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "env-model" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Web.Addr != "127.0.0.1:7777" {
		t.Errorf("addr = %q", cfg.Web.Addr)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTEROOM_API_KEY", "primary")
	t.Setenv("OPENAI_API_KEY", "fallback")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "primary" {
		t.Fatalf("api key = %q, ANTEROOM_API_KEY should win", cfg.LLM.APIKey)
	}

	t.Setenv("ANTEROOM_API_KEY", "")
	cfg, err = Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "fallback" {
		t.Fatalf("api key = %q, OPENAI_API_KEY should apply when unset", cfg.LLM.APIKey)
	}
}

func TestNormalizeFillsZeros(t *testing.T) {
	cfg := Config{}
	normalize(&cfg)

	def := Default()
	if cfg.Limits.MaxIterations != def.Limits.MaxIterations {
		t.Errorf("max iterations = %d", cfg.Limits.MaxIterations)
	}
	if cfg.Web.ApprovalTimeout != def.Web.ApprovalTimeout {
		t.Errorf("approval timeout = %d", cfg.Web.ApprovalTimeout)
	}
	if cfg.LLM.Model != def.LLM.Model {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Workspace == "" {
		t.Error("workspace should default to the working directory")
	}
}
