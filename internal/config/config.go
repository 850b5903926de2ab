// Package config loads the diseasenet configuration from defaults, an
// optional YAML file and environment variables, in that order.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/enrich"
	"github.com/Sternrassler/diseasenet/pkg/kegg"
	"github.com/Sternrassler/diseasenet/pkg/pubchem"
	"github.com/Sternrassler/diseasenet/pkg/resolver"
	"github.com/Sternrassler/diseasenet/pkg/uniprot"
	"gopkg.in/yaml.v3"
)

// Upstream names used in logs, metrics and Redis keys.
const (
	UpstreamKEGG    = "kegg"
	UpstreamUniProt = "uniprot"
	UpstreamPubChem = "pubchem"
)

// UpstreamConfig configures access to one data source.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`

	// RatePerSecond bounds requests in any rolling one-second window.
	RatePerSecond int `yaml:"rate_per_second"`

	// Timeout bounds a single attempt.
	Timeout time.Duration `yaml:"timeout"`

	Retry client.RetryConfig `yaml:"retry"`
}

// Upstreams groups the three data sources.
type Upstreams struct {
	KEGG    UpstreamConfig `yaml:"kegg"`
	UniProt UpstreamConfig `yaml:"uniprot"`
	PubChem UpstreamConfig `yaml:"pubchem"`
}

// Config is the complete application configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// UserAgent is sent to every upstream.
	UserAgent string `yaml:"user_agent"`

	// RedisURL enables limiters shared across processes when set.
	RedisURL string `yaml:"redis_url"`

	// MetricsAddr serves /health, /ready and /metrics when set.
	MetricsAddr string `yaml:"metrics_addr"`

	// RunTimeout bounds a whole search; 0 disables the bound.
	RunTimeout time.Duration `yaml:"run_timeout"`

	Resolver    resolver.Config `yaml:"resolver"`
	Enrich      enrich.Config   `yaml:"enrich"`
	Bioactivity pubchem.Config  `yaml:"bioactivity"`
	Upstreams   Upstreams       `yaml:"upstreams"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:    "info",
		UserAgent:   "diseasenet/0.1.0",
		Resolver:    resolver.DefaultConfig(),
		Enrich:      enrich.DefaultConfig(),
		Bioactivity: pubchem.DefaultConfig(),
		Upstreams: Upstreams{
			KEGG:    upstream(kegg.DefaultBaseURL, 3),
			UniProt: upstream(uniprot.DefaultBaseURL, 10),
			PubChem: upstream(pubchem.DefaultBaseURL, 4),
		},
	}
}

func upstream(baseURL string, perSecond int) UpstreamConfig {
	return UpstreamConfig{
		BaseURL:       baseURL,
		RatePerSecond: perSecond,
		Timeout:       10 * time.Second,
		Retry:         client.DefaultRetryConfig(),
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.UserAgent = getEnv("USER_AGENT", c.UserAgent)

	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: %w", err)
		}
		c.LogPretty = pretty
	}
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKERS: %w", err)
		}
		c.Enrich.Workers = n
	}
	if v := os.Getenv("MATCH_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MATCH_THRESHOLD: %w", err)
		}
		c.Resolver.Threshold = n
	}
	if v := os.Getenv("RUN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RUN_TIMEOUT: %w", err)
		}
		c.RunTimeout = d
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}
	if c.Enrich.Workers <= 0 {
		return fmt.Errorf("enrich.workers must be > 0 (got %d)", c.Enrich.Workers)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run_timeout must not be negative")
	}
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver: %w", err)
	}

	for name, u := range map[string]UpstreamConfig{
		UpstreamKEGG:    c.Upstreams.KEGG,
		UpstreamUniProt: c.Upstreams.UniProt,
		UpstreamPubChem: c.Upstreams.PubChem,
	} {
		if err := u.validate(); err != nil {
			return fmt.Errorf("upstreams.%s: %w", name, err)
		}
	}
	return nil
}

func (u UpstreamConfig) validate() error {
	parsed, err := url.Parse(u.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid base_url %q", u.BaseURL)
	}
	if u.RatePerSecond <= 0 {
		return fmt.Errorf("rate_per_second must be > 0 (got %d)", u.RatePerSecond)
	}
	if u.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0 (got %d)", u.Retry.MaxAttempts)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
