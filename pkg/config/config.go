// Package config loads orchestrator configuration from the environment,
// with optional YAML overrides for runner tunables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the orchestrator and its adapters need.
type Config struct {
	HTTPPort string

	// Filesystem layout.
	WorkspaceRoot string
	StorePath     string

	// LLM provider.
	LLMAPIKey string
	LLMModels []string

	// Source-hosting adapter. Empty credentials disable remote repo creation.
	RepoOwner string
	RepoToken string

	// Deployment platform. Empty credentials disable deployment.
	DeployURL        string
	DeployToken      string
	DeployBaseDomain string

	// Skills catalog endpoint. Empty disables skill lookups.
	SkillsURL string

	Runner RunnerConfig
	Watch  WatchConfig
}

// RunnerConfig bounds agent runner invocations.
type RunnerConfig struct {
	MaxTurns    int
	Timeout     time.Duration
	BashTimeout time.Duration
	MaxTokens   int
}

// WatchConfig tunes the build-watch polling loop.
type WatchConfig struct {
	InitialDelay time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	RedeployWait time.Duration
}

// yamlOverrides is the optional tunables file pointed to by APPFORGE_CONFIG.
// Durations are strings ("2m", "30s") parsed with time.ParseDuration.
type yamlOverrides struct {
	Models []string `yaml:"models"`
	Runner *struct {
		MaxTurns    int    `yaml:"max_turns"`
		Timeout     string `yaml:"timeout"`
		BashTimeout string `yaml:"bash_timeout"`
		MaxTokens   int    `yaml:"max_tokens"`
	} `yaml:"runner"`
	Watch *struct {
		InitialDelay string `yaml:"initial_delay"`
		PollInterval string `yaml:"poll_interval"`
		MaxAttempts  int    `yaml:"max_attempts"`
		RedeployWait string `yaml:"redeploy_wait"`
	} `yaml:"watch"`
}

// Load builds a Config from the environment, applying defaults and the
// optional YAML tunables file.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		WorkspaceRoot:    getEnv("WORKSPACE_ROOT", "/workspace"),
		StorePath:        getEnv("STORE_PATH", "/data/pipelines.json"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		RepoOwner:        os.Getenv("REPO_OWNER"),
		RepoToken:        os.Getenv("REPO_TOKEN"),
		DeployURL:        os.Getenv("DEPLOY_URL"),
		DeployToken:      os.Getenv("DEPLOY_TOKEN"),
		DeployBaseDomain: os.Getenv("DEPLOY_BASE_DOMAIN"),
		SkillsURL:        os.Getenv("SKILLS_URL"),
		Runner: RunnerConfig{
			MaxTurns:    getEnvInt("RUNNER_MAX_TURNS", 10),
			Timeout:     getEnvDuration("RUNNER_TIMEOUT", 5*time.Minute),
			BashTimeout: getEnvDuration("BASH_TIMEOUT", 60*time.Second),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8192),
		},
		Watch: WatchConfig{
			InitialDelay: getEnvDuration("WATCH_INITIAL_DELAY", 10*time.Second),
			PollInterval: getEnvDuration("WATCH_POLL_INTERVAL", 10*time.Second),
			MaxAttempts:  getEnvInt("WATCH_MAX_ATTEMPTS", 3),
			RedeployWait: getEnvDuration("WATCH_REDEPLOY_WAIT", 15*time.Second),
		},
	}

	if models := os.Getenv("LLM_MODELS"); models != "" {
		for _, m := range strings.Split(models, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.LLMModels = append(cfg.LLMModels, m)
			}
		}
	}
	if len(cfg.LLMModels) == 0 {
		cfg.LLMModels = []string{"claude-sonnet-4-5", "claude-3-5-haiku-latest"}
	}

	if path := os.Getenv("APPFORGE_CONFIG"); path != "" {
		if err := cfg.applyYAML(path); err != nil {
			return nil, fmt.Errorf("apply config file %s: %w", path, err)
		}
	}

	if cfg.Runner.MaxTurns <= 0 {
		return nil, fmt.Errorf("runner max_turns must be positive, got %d", cfg.Runner.MaxTurns)
	}
	if cfg.Watch.MaxAttempts <= 0 {
		return nil, fmt.Errorf("watch max_attempts must be positive, got %d", cfg.Watch.MaxAttempts)
	}

	return cfg, nil
}

// applyYAML merges overrides from the tunables file on top of env defaults.
func (c *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	var ov yamlOverrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(ov.Models) > 0 {
		c.LLMModels = ov.Models
	}
	if ov.Runner != nil {
		if ov.Runner.MaxTurns > 0 {
			c.Runner.MaxTurns = ov.Runner.MaxTurns
		}
		if ov.Runner.MaxTokens > 0 {
			c.Runner.MaxTokens = ov.Runner.MaxTokens
		}
		if err := overrideDuration(&c.Runner.Timeout, ov.Runner.Timeout); err != nil {
			return fmt.Errorf("runner.timeout: %w", err)
		}
		if err := overrideDuration(&c.Runner.BashTimeout, ov.Runner.BashTimeout); err != nil {
			return fmt.Errorf("runner.bash_timeout: %w", err)
		}
	}
	if ov.Watch != nil {
		if ov.Watch.MaxAttempts > 0 {
			c.Watch.MaxAttempts = ov.Watch.MaxAttempts
		}
		if err := overrideDuration(&c.Watch.InitialDelay, ov.Watch.InitialDelay); err != nil {
			return fmt.Errorf("watch.initial_delay: %w", err)
		}
		if err := overrideDuration(&c.Watch.PollInterval, ov.Watch.PollInterval); err != nil {
			return fmt.Errorf("watch.poll_interval: %w", err)
		}
		if err := overrideDuration(&c.Watch.RedeployWait, ov.Watch.RedeployWait); err != nil {
			return fmt.Errorf("watch.redeploy_wait: %w", err)
		}
	}
	slog.Info("Applied config overrides", "path", path)
	return nil
}

// overrideDuration parses a duration override into dst; empty means keep.
func overrideDuration(dst *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// RepoEnabled reports whether remote repository creation is configured.
func (c *Config) RepoEnabled() bool {
	return c.RepoOwner != "" && c.RepoToken != ""
}

// DeployEnabled reports whether the deployment platform is configured.
func (c *Config) DeployEnabled() bool {
	return c.DeployURL != "" && c.DeployToken != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}
