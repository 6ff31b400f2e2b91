// Package config loads the runtime configuration from YAML with environment
// overrides, and hot-reloads the safety section on file change.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/anteroomhq/anteroom/internal/llm"
	"github.com/anteroomhq/anteroom/internal/mcp"
	"github.com/anteroomhq/anteroom/internal/observability"
	"github.com/anteroomhq/anteroom/internal/safety"
)

// Limits tunes the agent loop and sub-agent budgets.
type Limits struct {
	MaxIterations      int `yaml:"max_iterations"`
	NarrationCadence   int `yaml:"narration_cadence"`
	ToolOutputMaxChars int `yaml:"tool_output_max_chars"`
	AutoPlanThreshold  int `yaml:"auto_plan_threshold"`
	MaxConcurrentSubs  int `yaml:"max_concurrent_subagents"`
	MaxTotalSubs       int `yaml:"max_total_subagents"`
}

// Web tunes the HTTP front end.
type Web struct {
	Addr            string `yaml:"addr"`
	ApprovalTimeout int    `yaml:"approval_timeout_seconds"`
}

// Config is the full runtime configuration.
type Config struct {
	LLM       llm.Config                `yaml:"llm"`
	Safety    safety.Config             `yaml:"safety"`
	Limits    Limits                    `yaml:"limits"`
	Log       observability.LogConfig   `yaml:"log"`
	Trace     observability.TraceConfig `yaml:"trace"`
	Web       Web                       `yaml:"web"`
	MCP       []mcp.ServerConfig        `yaml:"mcp_servers"`
	Workspace string                    `yaml:"workspace"`
	DBPath    string                    `yaml:"db_path"`
}

// Default returns a config with every limit at its standard value.
func Default() Config {
	return Config{
		LLM: llm.Config{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
		},
		Safety: safety.DefaultConfig(),
		Limits: Limits{
			MaxIterations:      50,
			ToolOutputMaxChars: 2048,
			MaxConcurrentSubs:  5,
			MaxTotalSubs:       10,
		},
		Log: observability.LogConfig{
			Level:  "info",
			Format: "text",
		},
		Web: Web{
			Addr:            "127.0.0.1:8420",
			ApprovalTimeout: 120,
		},
		DBPath: "anteroom.db",
	}
}

// Load reads the config file (when present), applies .env and environment
// overrides, and normalizes defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	// Best effort; a missing .env is normal.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ANTEROOM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ANTEROOM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("ANTEROOM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ANTEROOM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ANTEROOM_ADDR"); v != "" {
		cfg.Web.Addr = v
	}
	if v := os.Getenv("ANTEROOM_DB"); v != "" {
		cfg.DBPath = v
	}
}

func normalize(cfg *Config) {
	def := Default()
	if cfg.Limits.MaxIterations <= 0 {
		cfg.Limits.MaxIterations = def.Limits.MaxIterations
	}
	if cfg.Limits.ToolOutputMaxChars <= 0 {
		cfg.Limits.ToolOutputMaxChars = def.Limits.ToolOutputMaxChars
	}
	if cfg.Limits.MaxConcurrentSubs <= 0 {
		cfg.Limits.MaxConcurrentSubs = def.Limits.MaxConcurrentSubs
	}
	if cfg.Limits.MaxTotalSubs <= 0 {
		cfg.Limits.MaxTotalSubs = def.Limits.MaxTotalSubs
	}
	if cfg.Web.Addr == "" {
		cfg.Web.Addr = def.Web.Addr
	}
	if cfg.Web.ApprovalTimeout <= 0 {
		cfg.Web.ApprovalTimeout = def.Web.ApprovalTimeout
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.DBPath == "" {
		cfg.DBPath = def.DBPath
	}
	if cfg.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace = wd
		}
	}
	if cfg.Safety.ApprovalMode == "" {
		cfg.Safety.ApprovalMode = def.Safety.ApprovalMode
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	if v := os.Getenv("ANTEROOM_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "anteroom.yaml"
	}
	return filepath.Join(home, ".config", "anteroom", "config.yaml")
}
