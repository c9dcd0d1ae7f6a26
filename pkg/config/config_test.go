package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{
		EnvSecretKey:   "s3cret",
		EnvUsername:    "art",
		EnvPassword:    "pw",
		EnvGitHubToken: "ghp_x",
		EnvGAVersion:   "4.16",
	}))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.SecretKey)
	assert.Equal(t, "art", cfg.Auth.Username)
	assert.Equal(t, "ghp_x", cfg.GitHub.Token)
	assert.Equal(t, "4.16", cfg.GA.Static)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "ocp-build-data", cfg.GitHub.ConfigRepo)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artdash.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
database:
  path: /var/lib/artdash.db
retry:
  max_attempts: 5
  initial_delay: 1s
ga_version:
  url: https://example.com/ga.yaml
  key: release.ga
`), 0o600))

	cfg, err := Load(path, envMap(map[string]string{EnvListen: ":7000"}))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "/var/lib/artdash.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, float64(2), cfg.Retry.Multiplier)
	assert.Equal(t, "release.ga", cfg.GA.Key)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"flat backoff", func(c *Config) { c.Retry.Multiplier = 1 }},
		{"no delay", func(c *Config) { c.Retry.InitialDelay = 0 }},
		{"no repo", func(c *Config) { c.GitHub.ConfigRepo = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.GA.Static = "4.16"
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestGASourceOnlyRequiredToServe(t *testing.T) {
	cfg, err := Load("", envMap(map[string]string{EnvDBPath: "only.db"}))
	require.NoError(t, err)
	assert.Equal(t, "only.db", cfg.Database.Path)
	assert.ErrorIs(t, cfg.ValidateServe(), ErrInvalidConfig)

	cfg.GA.URL = "https://example.com/ga.yaml"
	assert.NoError(t, cfg.ValidateServe())

	cfg.Retry.MaxAttempts = 0
	assert.ErrorIs(t, cfg.ValidateServe(), ErrInvalidConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil))
	assert.Error(t, err)
}
