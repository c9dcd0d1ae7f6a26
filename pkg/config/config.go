// Package config holds the process configuration. It is loaded once at start
// and passed by pointer to the components that need it.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen   string         `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	GitHub   GitHubConfig   `yaml:"github"`
	Retry    RetryConfig    `yaml:"retry"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cache    CacheConfig    `yaml:"cache"`
	GA       GAConfig       `yaml:"ga_version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	SecretKey string        `yaml:"secret_key"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type GitHubConfig struct {
	Token          string        `yaml:"token"`
	BaseURL        string        `yaml:"base_url"`
	ConfigRepo     string        `yaml:"config_repo"`
	FakePRURL      string        `yaml:"fake_pr_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

type PipelineConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

type CacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxCost int64         `yaml:"max_cost"`
}

type GAConfig struct {
	URL      string        `yaml:"url"`
	Key      string        `yaml:"key"`
	Static   string        `yaml:"static"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Environment variables that override file values. Secrets are expected to
// come from here rather than from the file.
const (
	EnvSecretKey   = "ART_DASH_SECRET_KEY"
	EnvUsername    = "ART_DASH_PRIVATE_USER"
	EnvPassword    = "ART_DASH_PRIVATE_PASSWORD"
	EnvGitHubToken = "GITHUB_PERSONAL_ACCESS_TOKEN"
	EnvDBPath      = "ART_DASH_DB_PATH"
	EnvListen      = "ART_DASH_LISTEN"
	EnvGAVersion   = "ART_DASH_GA_VERSION"
)

func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Database: DatabaseConfig{Path: "artdash.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Auth:     AuthConfig{TokenTTL: time.Hour},
		GitHub: GitHubConfig{
			ConfigRepo:     "ocp-build-data",
			FakePRURL:      "https://github.com/DennisPeriquet/ocp-build-data/pull/10",
			RequestTimeout: 90 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 5 * time.Second,
			Multiplier:   2,
		},
		Pipeline: PipelineConfig{MaxConcurrency: 8},
		Cache:    CacheConfig{TTL: 5 * time.Minute, MaxCost: 1 << 14},
		GA: GAConfig{
			Key:      "ga_version",
			CacheTTL: 10 * time.Minute,
			Timeout:  10 * time.Second,
		},
	}
}

// Load reads the optional YAML file at path over the defaults, then applies
// the environment through lookup. A nil lookup means os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg.applyEnv(lookup)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for env, dst := range map[string]*string{
		EnvSecretKey:   &c.Auth.SecretKey,
		EnvUsername:    &c.Auth.Username,
		EnvPassword:    &c.Auth.Password,
		EnvGitHubToken: &c.GitHub.Token,
		EnvDBPath:      &c.Database.Path,
		EnvListen:      &c.Listen,
		EnvGAVersion:   &c.GA.Static,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
		}
	}
}

var ErrInvalidConfig = errors.New("invalid configuration")

func (c *Config) Validate() error {
	switch {
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: retry.max_attempts must be at least 1", ErrInvalidConfig)
	case c.Retry.InitialDelay <= 0:
		return fmt.Errorf("%w: retry.initial_delay must be positive", ErrInvalidConfig)
	case c.Retry.Multiplier <= 1:
		return fmt.Errorf("%w: retry.multiplier must be greater than 1", ErrInvalidConfig)
	case c.Auth.TokenTTL <= 0:
		return fmt.Errorf("%w: auth.token_ttl must be positive", ErrInvalidConfig)
	case c.GitHub.RequestTimeout <= 0:
		return fmt.Errorf("%w: github.request_timeout must be positive", ErrInvalidConfig)
	case c.GitHub.ConfigRepo == "":
		return fmt.Errorf("%w: github.config_repo is required", ErrInvalidConfig)
	case c.Pipeline.MaxConcurrency < 1:
		return fmt.Errorf("%w: pipeline.max_concurrency must be at least 1", ErrInvalidConfig)
	case c.Cache.TTL < 0 || c.GA.CacheTTL < 0:
		return fmt.Errorf("%w: cache ttl cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// ValidateServe adds the checks only the HTTP server needs. Offline commands
// such as migrate and seed never resolve a GA version.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.GA.Static == "" && c.GA.URL == "" {
		return fmt.Errorf("%w: one of ga_version.static or ga_version.url is required", ErrInvalidConfig)
	}
	return nil
}
