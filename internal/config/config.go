// Package config loads Winterfox configuration from the workspace's
// .winterfox/config.toml, with environment overrides for keys and paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"

	"winterfox/internal/llm"
)

// Config holds all Winterfox configuration.
type Config struct {
	// Workspace identifies the research workspace.
	Workspace WorkspaceConfig `toml:"workspace"`

	// Mission is the north-star statement driving the research.
	Mission string `toml:"mission"`

	// Lead is the strategic model; Workers the research agents; Report
	// the narrative report writer (defaults to the Lead adapter).
	Lead    AdapterConfig   `toml:"lead"`
	Workers []AdapterConfig `toml:"workers"`
	Report  AdapterConfig   `toml:"report"`

	Search     SearchConfig     `toml:"search"`
	Thresholds ThresholdsConfig `toml:"thresholds"`
	Limits     LimitsConfig     `toml:"limits"`
	Logging    LoggingConfig    `toml:"logging"`
}

// WorkspaceConfig names the workspace and its storage locations.
type WorkspaceConfig struct {
	ID string `toml:"id"`
	// Dir is the workspace root; databases, logs, and raw transcripts
	// live under its .winterfox directory.
	Dir string `toml:"dir"`
	// ContextDir holds curated context documents synced into cycles.
	ContextDir string `toml:"context_dir"`
}

// AdapterConfig describes one LLM adapter.
type AdapterConfig struct {
	Name      string `toml:"name"`
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	BaseURL   string `toml:"base_url"`
}

// Spec converts to the llm adapter spec.
func (a AdapterConfig) Spec() llm.AdapterSpec {
	return llm.AdapterSpec{
		Provider:  a.Provider,
		Model:     a.Model,
		APIKeyEnv: a.APIKeyEnv,
		BaseURL:   a.BaseURL,
	}
}

// SearchConfig orders search providers by priority.
type SearchConfig struct {
	// Providers in priority order; known names: brave, tavily, duckduckgo.
	Providers []string `toml:"providers"`

	BraveAPIKeyEnv  string `toml:"brave_api_key_env"`
	TavilyAPIKeyEnv string `toml:"tavily_api_key_env"`

	// ReaderBase is the markdown reader service used by web_fetch; empty
	// disables the reader and fetches pages directly.
	ReaderBase string `toml:"reader_base"`
}

// ThresholdsConfig holds the graph merge parameters.
type ThresholdsConfig struct {
	Merge              float64 `toml:"merge"`
	Dedup              float64 `toml:"dedup"`
	ConfidenceDiscount float64 `toml:"confidence_discount"`
	ConsensusBoost     float64 `toml:"consensus_boost"`
}

// LimitsConfig bounds worker behavior.
type LimitsConfig struct {
	MaxIterations int `toml:"max_iterations"`
	MaxSearches   int `toml:"max_searches"`
}

// LoggingConfig mirrors the section the logging package reads directly.
type LoggingConfig struct {
	DebugMode  bool            `toml:"debug_mode"`
	Level      string          `toml:"level"`
	Categories map[string]bool `toml:"categories"`
}

// DefaultConfig returns a runnable configuration for the given
// workspace directory.
func DefaultConfig(dir string) *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			ID:         "default",
			Dir:        dir,
			ContextDir: filepath.Join(dir, "context"),
		},
		Lead: AdapterConfig{
			Name: "lead", Provider: "anthropic",
			Model: "claude-sonnet-4-20250514", APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Workers: []AdapterConfig{
			{Name: "researcher_1", Provider: "anthropic", Model: "claude-3-5-haiku-20241022", APIKeyEnv: "ANTHROPIC_API_KEY"},
			{Name: "researcher_2", Provider: "openai", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY"},
			{Name: "researcher_3", Provider: "gemini", Model: "gemini-2.5-flash", APIKeyEnv: "GEMINI_API_KEY"},
		},
		Search: SearchConfig{
			Providers:       []string{"brave", "tavily", "duckduckgo"},
			BraveAPIKeyEnv:  "BRAVE_API_KEY",
			TavilyAPIKeyEnv: "TAVILY_API_KEY",
			ReaderBase:      "https://r.jina.ai",
		},
		Thresholds: ThresholdsConfig{
			Merge:              0.75,
			Dedup:              0.85,
			ConfidenceDiscount: 0.7,
			ConsensusBoost:     0.15,
		},
		Limits: LimitsConfig{
			MaxIterations: 30,
			MaxSearches:   8,
		},
	}
}

// Path returns the config file location for a workspace directory.
func Path(dir string) string {
	return filepath.Join(dir, ".winterfox", "config.toml")
}

// DatabasePath returns the graph database location for a workspace.
func DatabasePath(dir string) string {
	return filepath.Join(dir, ".winterfox", "graph.db")
}

// Load reads config.toml under dir, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(dir string) (*Config, error) {
	cfg := DefaultConfig(dir)

	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = dir
	}
	if cfg.Workspace.ContextDir == "" {
		cfg.Workspace.ContextDir = filepath.Join(cfg.Workspace.Dir, "context")
	}
	if cfg.Report.Provider == "" {
		cfg.Report = cfg.Lead
		cfg.Report.Name = "report"
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to its workspace location.
func (c *Config) Save() error {
	path := Path(c.Workspace.Dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides layers WINTERFOX_* variables over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WINTERFOX_WORKSPACE"); v != "" {
		c.Workspace.ID = v
	}
	if v := os.Getenv("WINTERFOX_MISSION"); v != "" {
		c.Mission = v
	}
	if v := os.Getenv("WINTERFOX_LEAD_MODEL"); v != "" {
		c.Lead.Model = v
	}
	if v := os.Getenv("WINTERFOX_LEAD_PROVIDER"); v != "" {
		c.Lead.Provider = v
	}
	if v := os.Getenv("WINTERFOX_MAX_SEARCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Limits.MaxSearches = n
		}
	}
	if v := os.Getenv("WINTERFOX_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Limits.MaxIterations = n
		}
	}
	if v := os.Getenv("WINTERFOX_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// Validate checks ranges that would otherwise corrupt graph math.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("workspace id must not be empty")
	}
	if t := c.Thresholds.Merge; t <= 0 || t > 1 {
		return fmt.Errorf("merge threshold %.2f out of (0,1]", t)
	}
	if t := c.Thresholds.Dedup; t <= 0 || t > 1 {
		return fmt.Errorf("dedup threshold %.2f out of (0,1]", t)
	}
	if d := c.Thresholds.ConfidenceDiscount; d <= 0 || d > 1 {
		return fmt.Errorf("confidence discount %.2f out of (0,1]", d)
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker adapter is required")
	}
	return nil
}
