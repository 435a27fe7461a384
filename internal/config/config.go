// Package config provides configuration management for the kaichi agent.
// Configuration is loaded from an optional TOML file, then overridden by
// environment variables (a .env file is honored the same way the upstream
// pipeline loads dotenv at startup).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ErrInvalidConfig marks configuration validation failures. These are fatal
// and raised at construction time.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the agent configuration.
type Config struct {
	Agent    AgentConfig    `toml:"agent"`
	LLM      LLMConfig      `toml:"llm"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Skills   SkillsConfig   `toml:"skills"`
	Dify     DifyConfig     `toml:"dify"`
	Observer ObserverConfig `toml:"observer"`
	Logging  LoggingConfig  `toml:"logging"`
	API      APIConfig      `toml:"api"`
}

// AgentConfig contains loop-level settings.
type AgentConfig struct {
	MaxIterations  int    `toml:"max_iterations"`
	MaxRetries     int    `toml:"max_retries"`
	ObservationDir string `toml:"observation_dir"`
	CkptDir        string `toml:"ckpt_dir"`
	Resume         bool   `toml:"resume"`
	Mode           string `toml:"mode"`
	CacheSize      int    `toml:"cache_size"`
	PromptDir      string `toml:"prompt_dir"`
}

// LLMConfig contains model call settings.
type LLMConfig struct {
	Provider       string  `toml:"provider"`
	Temperature    float64 `toml:"temperature"`
	RequestTimeout int     `toml:"request_timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
	GetInfoModel   string  `toml:"get_info_model"`
	RewriteModel   string  `toml:"rewrite_model"`
	OpenAIAPIKey   string  `toml:"openai_api_key"`
	OpenAIBaseURL  string  `toml:"openai_base_url"`
	GeminiAPIKey   string  `toml:"gemini_api_key"`
}

// SandboxConfig contains execution environment settings.
type SandboxConfig struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Interpreter    string `toml:"interpreter"`
}

// SkillsConfig contains skill library settings.
type SkillsConfig struct {
	DatasetName   string `toml:"dataset_name"`
	RetrievalTopK int    `toml:"retrieval_top_k"`
	CacheSize     int    `toml:"cache_size"`
}

// DifyConfig carries the Dify API endpoints and credentials. All fields are
// normally supplied through the environment.
type DifyConfig struct {
	APIBase        string `toml:"api_base"`
	APIKey         string `toml:"api_key"`
	DatasetsAPIKey string `toml:"datasets_api_key"`
	DatasetsID     string `toml:"datasets_id"`
}

// ObserverConfig contains project observation settings.
type ObserverConfig struct {
	WatchEnabled bool `toml:"watch_enabled"`
	DebounceMs   int  `toml:"debounce_ms"`
	LogHeadLines int  `toml:"log_head_lines"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// APIConfig contains the status API settings.
type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations:  160,
			MaxRetries:     5,
			ObservationDir: ".",
			CkptDir:        "work_dir/ckpt",
			Mode:           "auto",
			CacheSize:      100,
		},
		LLM: LLMConfig{
			Provider:       "dify",
			Temperature:    0.8,
			RequestTimeout: 120,
			MaxRetries:     5,
		},
		Sandbox: SandboxConfig{
			TimeoutSeconds: 5,
			Interpreter:    "",
		},
		Skills: SkillsConfig{
			DatasetName:   "skill_dataset",
			RetrievalTopK: 5,
			CacheSize:     100,
		},
		Observer: ObserverConfig{
			DebounceMs:   500,
			LogHeadLines: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  5,
			MaxBackups: 3,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8614,
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file, and
// the environment, then validates it.
func Load(path string) (*Config, error) {
	// A missing .env is not an error; explicit values in the environment win.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidConfig, path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides configuration from environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("DIFY_API_BASE"); v != "" {
		c.Dify.APIBase = v
	}
	if v := os.Getenv("DIFY_API_KEY"); v != "" {
		c.Dify.APIKey = v
	}
	if v := os.Getenv("DIFY_DATASETS_API_KEY"); v != "" {
		c.Dify.DatasetsAPIKey = v
	}
	if v := os.Getenv("DIFY_DATASETS_ID"); v != "" {
		c.Dify.DatasetsID = v
	}
	if v := os.Getenv("GET_INFO_MODEL"); v != "" {
		c.LLM.GetInfoModel = v
	}
	if v := os.Getenv("REWRITE_MODEL"); v != "" {
		c.LLM.RewriteModel = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("GOOGLE_GEMINI_API_KEY"); v != "" {
		c.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("PROJECT_DIR"); v != "" {
		c.Agent.ObservationDir = v
	}
	if v := os.Getenv("KAICHI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KAICHI_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.API.Port = port
		}
	}
}

// Validate checks invariants that would make the agents misbehave. Failures
// are fatal at construction.
func (c *Config) Validate() error {
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("%w: temperature %v out of [0,1]", ErrInvalidConfig, c.LLM.Temperature)
	}
	if c.LLM.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout %d must be positive", ErrInvalidConfig, c.LLM.RequestTimeout)
	}
	if c.Agent.MaxRetries <= 0 {
		return fmt.Errorf("%w: max retries %d must be positive", ErrInvalidConfig, c.Agent.MaxRetries)
	}
	if c.Agent.Mode != "auto" && c.Agent.Mode != "manual" {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Agent.Mode)
	}
	if c.Sandbox.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: sandbox timeout %d must be positive", ErrInvalidConfig, c.Sandbox.TimeoutSeconds)
	}
	if c.Agent.CacheSize <= 0 {
		return fmt.Errorf("%w: cache size %d must be positive", ErrInvalidConfig, c.Agent.CacheSize)
	}
	if c.Skills.RetrievalTopK <= 0 {
		return fmt.Errorf("%w: retrieval top k %d must be positive", ErrInvalidConfig, c.Skills.RetrievalTopK)
	}
	switch c.LLM.Provider {
	case "dify", "openai", "gemini":
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, c.LLM.Provider)
	}
	return nil
}

// CkptPath joins elements under the checkpoint directory.
func (c *Config) CkptPath(elem ...string) string {
	return filepath.Join(append([]string{c.Agent.CkptDir}, elem...)...)
}
