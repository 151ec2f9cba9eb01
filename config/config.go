// CLAUDE:SUMMARY Defines denicheur config structs and parses YAML configuration files with defaults.
// Package config handles denicheur configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/denicheur/adjust"
	"github.com/hazyhaar/denicheur/cache"
	"github.com/hazyhaar/denicheur/valuation"
)

// Config is the top-level denicheur configuration.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Freshness     FreshnessConfig     `yaml:"freshness"`
	Valuation     ValuationConfig     `yaml:"valuation"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Fetch         FetchConfig         `yaml:"fetch"`
	HTTP          HTTPConfig          `yaml:"http"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatabaseConfig selects and configures the cache backend.
type DatabaseConfig struct {
	Backend string `yaml:"backend"` // sqlite | postgres
	Path    string `yaml:"path"`    // sqlite file path
	DSN     string `yaml:"dsn"`     // postgres connection string
}

// FreshnessConfig holds the cache policy and lifecycle windows.
type FreshnessConfig struct {
	Window        time.Duration `yaml:"window"`
	DriftAbsolute int64         `yaml:"drift_absolute"`
	DriftPercent  float64       `yaml:"drift_percent"`
	StaleWindow   time.Duration `yaml:"stale_window"` // sold detection
	Retention     time.Duration `yaml:"retention"`    // purge horizon
}

// ValuationConfig selects the strategy and its knobs. Tables overrides
// the built-in adjustment tables when present.
type ValuationConfig struct {
	Strategy   string               `yaml:"strategy"` // rules | llm
	Thresholds valuation.Thresholds `yaml:"thresholds"`
	Tables     *adjust.Tables       `yaml:"tables"`
}

// OpenAIConfig configures the llm strategy. The api key is usually
// supplied through the environment, not the file.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// FetchConfig bounds the external detail-fetch rate.
type FetchConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// HTTPConfig configures the serve mode.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ObservabilityConfig locates the metrics and run-log database.
type ObservabilityConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without a file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Database.Backend == "" {
		c.Database.Backend = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/denicheur.db"
	}
	if c.Freshness.Window <= 0 {
		c.Freshness.Window = 7 * 24 * time.Hour
	}
	if c.Freshness.DriftAbsolute <= 0 {
		c.Freshness.DriftAbsolute = 5_000
	}
	if c.Freshness.DriftPercent <= 0 {
		c.Freshness.DriftPercent = 1
	}
	if c.Freshness.StaleWindow <= 0 {
		c.Freshness.StaleWindow = 3 * 24 * time.Hour
	}
	if c.Freshness.Retention <= 0 {
		c.Freshness.Retention = 90 * 24 * time.Hour
	}
	if c.Valuation.Strategy == "" {
		c.Valuation.Strategy = "rules"
	}
	c.Valuation.Thresholds.Defaults()
	if c.Fetch.RatePerSecond <= 0 {
		c.Fetch.RatePerSecond = 1
	}
	if c.Fetch.Burst <= 0 {
		c.Fetch.Burst = 1
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Observability.Path == "" {
		c.Observability.Path = "data/observability.db"
	}
	if c.Observability.Retention <= 0 {
		c.Observability.Retention = 30 * 24 * time.Hour
	}
}

func (c *Config) validate() error {
	switch c.Database.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database backend %q", c.Database.Backend)
	}
	if c.Database.Backend == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("config: postgres backend requires a dsn")
	}
	switch c.Valuation.Strategy {
	case "rules", "llm":
	default:
		return fmt.Errorf("config: unknown valuation strategy %q", c.Valuation.Strategy)
	}
	return nil
}

// Policy builds the cache policy from the freshness section.
func (c *Config) Policy() cache.Policy {
	return cache.Policy{
		FreshnessWindow: c.Freshness.Window,
		DriftAbsolute:   c.Freshness.DriftAbsolute,
		DriftPercent:    c.Freshness.DriftPercent,
	}
}

// Limiter builds the detail-fetch rate limiter.
func (c *Config) Limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(c.Fetch.RatePerSecond), c.Fetch.Burst)
}
