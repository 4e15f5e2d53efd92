// Package config loads and validates operator configuration for the
// reconciliation service. Configuration comes from an optional YAML file
// with environment-variable overrides on top of documented defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Tolerance ToleranceConfig `yaml:"tolerance"`
	Weights   WeightsConfig   `yaml:"weights"`
	LLM       LLMConfig       `yaml:"llm"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DataConfig locates the two input exports.
type DataConfig struct {
	NBIMFile    string `yaml:"nbim_file"`
	CustodyFile string `yaml:"custody_file"`
	WatchDir    string `yaml:"watch_dir"` // empty disables the staleness watcher
}

// ToleranceConfig controls when two amounts are considered equal.
// An amount pair is within tolerance when the absolute difference is at most
// Absolute, or at most RelativePct percent of the larger magnitude.
type ToleranceConfig struct {
	Absolute    string  `yaml:"absolute"`
	RelativePct float64 `yaml:"relative_pct"`
}

// WeightsConfig maps finding severities to score penalties.
type WeightsConfig struct {
	Low      int `yaml:"low"`
	Medium   int `yaml:"medium"`
	High     int `yaml:"high"`
	Critical int `yaml:"critical"`
}

// LLMConfig configures the classification provider boundary.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // anthropic, gemini, or empty for auto-detect
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	MaxRetries  int     `yaml:"max_retries"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// EnrichConfig controls batching and parallelism of the enrichment passes.
type EnrichConfig struct {
	BatchSize         int     `yaml:"batch_size"`
	Parallelism       int     `yaml:"parallelism"`
	SystemicThreshold float64 `yaml:"systemic_threshold"`
	TopImpactCount    int     `yaml:"top_impact_count"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	TTL string `yaml:"ttl"`
}

// StoreConfig locates the run-history database.
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables persistence
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures category file logging.
type LoggingConfig struct {
	Dir     string `yaml:"dir"`
	Enabled bool   `yaml:"enabled"`
	Debug   bool   `yaml:"debug"`
}

// DefaultConfig returns the documented defaults. Every default here is a
// deliberate operational choice, not a placeholder.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			NBIMFile:    "data/nbim_dividends.csv",
			CustodyFile: "data/custody_dividends.csv",
		},
		Tolerance: ToleranceConfig{
			Absolute:    "0.01",
			RelativePct: 0.01,
		},
		Weights: WeightsConfig{
			Low:      1,
			Medium:   2,
			High:     3,
			Critical: 5,
		},
		LLM: LLMConfig{
			Provider:    "",
			Model:       "",
			Timeout:     "60s",
			MaxRetries:  2,
			MaxTokens:   4096,
			Temperature: 0.1,
		},
		Enrich: EnrichConfig{
			BatchSize:         5,
			Parallelism:       4,
			SystemicThreshold: 0.5,
			TopImpactCount:    5,
		},
		Cache: CacheConfig{
			TTL: "5m",
		},
		Store: StoreConfig{
			Path: filepath.Join(".divrecon", "runs.db"),
		},
		Server: ServerConfig{
			Addr: ":8000",
		},
		Logging: LoggingConfig{
			Dir:     filepath.Join(".divrecon", "logs"),
			Enabled: true,
			Debug:   false,
		},
	}
}

// Load reads the config file at path (if it exists), applies environment
// overrides, validates, and returns the result. A missing file is not an
// error; defaults plus environment carry a zero-config deployment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DIVRECON_NBIM_FILE"); v != "" {
		c.Data.NBIMFile = v
	}
	if v := os.Getenv("DIVRECON_CUSTODY_FILE"); v != "" {
		c.Data.CustodyFile = v
	}
	if v := os.Getenv("DIVRECON_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DIVRECON_CACHE_TTL"); v != "" {
		c.Cache.TTL = v
	}
	if v := os.Getenv("DIVRECON_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("DIVRECON_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("DIVRECON_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Enrich.BatchSize = n
		}
	}
	if v := os.Getenv("DIVRECON_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Enrich.Parallelism = n
		}
	}
	// Provider keys are read here rather than in the client so the whole
	// credential surface lives in one place.
	if c.LLM.APIKey == "" {
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			c.LLM.APIKey = v
			if c.LLM.Provider == "" {
				c.LLM.Provider = "anthropic"
			}
		} else if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			c.LLM.APIKey = v
			if c.LLM.Provider == "" {
				c.LLM.Provider = "gemini"
			}
		}
	}
}

// Validate checks for values that would produce nonsense downstream.
func (c *Config) Validate() error {
	if _, err := c.CacheTTL(); err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}
	if _, err := c.LLMTimeout(); err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}
	if c.Enrich.BatchSize < 1 {
		return fmt.Errorf("enrich.batch_size must be >= 1, got %d", c.Enrich.BatchSize)
	}
	if c.Enrich.Parallelism < 1 {
		return fmt.Errorf("enrich.parallelism must be >= 1, got %d", c.Enrich.Parallelism)
	}
	if c.Enrich.SystemicThreshold < 0 || c.Enrich.SystemicThreshold > 1 {
		return fmt.Errorf("enrich.systemic_threshold must be in [0,1], got %v", c.Enrich.SystemicThreshold)
	}
	if c.Tolerance.RelativePct < 0 {
		return fmt.Errorf("tolerance.relative_pct must be >= 0, got %v", c.Tolerance.RelativePct)
	}
	if c.Weights.Low < 0 || c.Weights.Medium < 0 || c.Weights.High < 0 || c.Weights.Critical < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	return nil
}

// CacheTTL parses the cache TTL duration string.
func (c *Config) CacheTTL() (time.Duration, error) {
	return time.ParseDuration(c.Cache.TTL)
}

// LLMTimeout parses the per-call timeout duration string.
func (c *Config) LLMTimeout() (time.Duration, error) {
	return time.ParseDuration(c.LLM.Timeout)
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}
