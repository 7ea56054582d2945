// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Package config loads service configuration from an optional YAML file
// with environment variable overrides. Env vars win so deployments can
// tune a shared file per instance.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// RedisURL is the connection URL for the Redis backing store.
	RedisURL string `yaml:"redis_url"`

	// PostgresDSN is the connection string for the comparison store.
	// Empty means the in-memory store is used.
	PostgresDSN string `yaml:"postgres_dsn"`

	// JWTSecret signs and verifies identity tokens.
	JWTSecret string `yaml:"jwt_secret"`

	// QueryDeadline bounds one comparison end to end.
	QueryDeadline time.Duration `yaml:"query_deadline"`

	// AttemptTimeout bounds a single adapter call.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// RateLimit configures admission control.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Budget configures the cost ledger.
	Budget BudgetConfig `yaml:"budget"`

	// Cache configures the fingerprint cache.
	Cache CacheConfig `yaml:"cache"`

	// Providers configures the adapters registered at startup.
	Providers []ProviderConfig `yaml:"providers"`
}

// RateLimitConfig holds fixed-window admission settings.
type RateLimitConfig struct {
	UserLimit   int           `yaml:"user_limit"`
	UserWindow  time.Duration `yaml:"user_window"`
	GroupLimit  int           `yaml:"group_limit"`
	GroupWindow time.Duration `yaml:"group_window"`
}

// BudgetConfig holds cost ledger settings.
type BudgetConfig struct {
	PerUserUSD float64       `yaml:"per_user_usd"`
	Horizon    time.Duration `yaml:"horizon"`
}

// CacheConfig holds fingerprint cache settings.
type CacheConfig struct {
	ResultTTL  time.Duration `yaml:"result_ttl"`
	ReserveTTL time.Duration `yaml:"reserve_ttl"`
}

// ProviderConfig describes one adapter to register.
type ProviderConfig struct {
	Type    string `yaml:"type"` // anthropic | openai | bedrock
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Region  string `yaml:"region,omitempty"` // bedrock only
	Enabled bool   `yaml:"enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8080",
		RedisURL:       "redis://localhost:6379",
		QueryDeadline:  60 * time.Second,
		AttemptTimeout: 20 * time.Second,
		RateLimit: RateLimitConfig{
			UserLimit:   10,
			UserWindow:  time.Minute,
			GroupLimit:  100,
			GroupWindow: 5 * time.Minute,
		},
		Budget: BudgetConfig{
			PerUserUSD: 5.0,
			Horizon:    24 * time.Hour,
		},
		Cache: CacheConfig{
			ResultTTL:  10 * time.Minute,
			ReserveTTL: 60 * time.Second,
		},
	}
}

// Load reads the YAML file at path (if non-empty) over the defaults, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides config values from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("QUERY_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.QueryDeadline = d
		}
	}
	if v := os.Getenv("ATTEMPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AttemptTimeout = d
		}
	}
	if v := os.Getenv("USER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.UserLimit = n
		}
	}
	if v := os.Getenv("GROUP_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.GroupLimit = n
		}
	}
	if v := os.Getenv("USER_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Budget.PerUserUSD = f
		}
	}
}
