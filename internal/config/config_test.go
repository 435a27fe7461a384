package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative temperature", func(c *Config) { c.LLM.Temperature = -0.1 }},
		{"temperature above one", func(c *Config) { c.LLM.Temperature = 1.5 }},
		{"zero request timeout", func(c *Config) { c.LLM.RequestTimeout = 0 }},
		{"zero max retries", func(c *Config) { c.Agent.MaxRetries = 0 }},
		{"unknown mode", func(c *Config) { c.Agent.Mode = "hybrid" }},
		{"zero sandbox timeout", func(c *Config) { c.Sandbox.TimeoutSeconds = 0 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "cohere" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadTOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kaichi.toml")
	data := `
[agent]
max_retries = 3
mode = "auto"
ckpt_dir = "ckpt"

[llm]
provider = "openai"
temperature = 0.2
request_timeout_seconds = 30
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	t.Setenv("LLM_PROVIDER", "dify")
	t.Setenv("PROJECT_DIR", "/tmp/observed")
	t.Setenv("DIFY_API_BASE", "https://dify.example/v1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Agent.MaxRetries)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	// Environment wins over the file.
	assert.Equal(t, "dify", cfg.LLM.Provider)
	assert.Equal(t, "/tmp/observed", cfg.Agent.ObservationDir)
	assert.Equal(t, "https://dify.example/v1", cfg.Dify.APIBase)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCkptPath(t *testing.T) {
	cfg := Default()
	cfg.Agent.CkptDir = "/ckpt"
	assert.Equal(t, filepath.Join("/ckpt", "skill", "skills.json"), cfg.CkptPath("skill", "skills.json"))
}
