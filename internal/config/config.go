// Package config handles configuration loading and management for Revue.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Revue.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Retry     RetryConfig     `mapstructure:"retry"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// Model is the default Claude model for review agents.
	Model string `mapstructure:"model"`
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// DefaultsConfig holds default values for review runs.
type DefaultsConfig struct {
	// TokenBudget caps tokens per run. 0 means unlimited.
	TokenBudget int64 `mapstructure:"token_budget"`
	// TimeBudget caps wall-clock time per run. 0 means unlimited.
	TimeBudget time.Duration `mapstructure:"time_budget"`
	// Concurrency bounds the parallel worker pool.
	Concurrency int `mapstructure:"concurrency"`
	// Sequential runs agents one at a time.
	Sequential bool `mapstructure:"sequential"`
	// MaxIterations caps phase transitions per agent task.
	MaxIterations int `mapstructure:"max_iterations"`
}

// BreakerConfig holds per-agent circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the recent-failure count that opens the circuit.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// Window is the sliding window over which failures count.
	Window time.Duration `mapstructure:"window"`
	// ResetTimeout is how long an open circuit waits before probing.
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	// SuccessThreshold is the half-open successes required to close.
	SuccessThreshold int `mapstructure:"success_threshold"`
}

// RetryConfig holds transient-failure retry settings.
type RetryConfig struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// MaxRetries is the retry count after the initial attempt.
	MaxRetries int `mapstructure:"max_retries"`
	// Jitter is the upper bound of the random delay added to each wait.
	Jitter time.Duration `mapstructure:"jitter"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.revue.yaml in current directory or parent)
// 3. User config (~/.config/revue/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("defaults.token_budget", cfg.Defaults.TokenBudget)
	v.Set("defaults.time_budget", cfg.Defaults.TimeBudget.String())
	v.Set("defaults.concurrency", cfg.Defaults.Concurrency)
	v.Set("defaults.sequential", cfg.Defaults.Sequential)
	v.Set("defaults.max_iterations", cfg.Defaults.MaxIterations)
	v.Set("breaker.failure_threshold", cfg.Breaker.FailureThreshold)
	v.Set("breaker.window", cfg.Breaker.Window.String())
	v.Set("breaker.reset_timeout", cfg.Breaker.ResetTimeout.String())
	v.Set("breaker.success_threshold", cfg.Breaker.SuccessThreshold)
	v.Set("retry.base_delay", cfg.Retry.BaseDelay.String())
	v.Set("retry.max_delay", cfg.Retry.MaxDelay.String())
	v.Set("retry.max_retries", cfg.Retry.MaxRetries)
	v.Set("retry.jitter", cfg.Retry.Jitter.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("defaults.token_budget", 200000)
	v.SetDefault("defaults.time_budget", "10m")
	v.SetDefault("defaults.concurrency", 2)
	v.SetDefault("defaults.sequential", false)
	v.SetDefault("defaults.max_iterations", 10)

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.window", "60s")
	v.SetDefault("breaker.reset_timeout", "30s")
	v.SetDefault("breaker.success_threshold", 1)

	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.jitter", "500ms")
}

// getUserConfigDir returns the XDG config directory for Revue.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "revue")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "revue")
	}
	return filepath.Join(home, ".config", "revue")
}

// findProjectConfig searches for .revue.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".revue.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			TokenBudget:   200000,
			TimeBudget:    10 * time.Minute,
			Concurrency:   2,
			MaxIterations: 10,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Window:           60 * time.Second,
			ResetTimeout:     30 * time.Second,
			SuccessThreshold: 1,
		},
		Retry: RetryConfig{
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
			MaxRetries: 3,
			Jitter:     500 * time.Millisecond,
		},
	}
}
