// Package config loads the moverun configuration: defaults, then a YAML
// file, then a .env file and MOVERUN_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/movement"
	"github.com/sawpanic/moverun/internal/news"
	newssrc "github.com/sawpanic/moverun/internal/source/news"
	"github.com/sawpanic/moverun/internal/source/price"
)

// Config is the complete runtime configuration
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Symbols     []market.Symbol   `yaml:"symbols"`
	Movement    movement.Policy   `yaml:"movement"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	History     HistoryConfig     `yaml:"history"`
	Network     NetworkConfig     `yaml:"network"`
	Sources     SourcesConfig     `yaml:"sources"`
	News        NewsConfig        `yaml:"news"`
	Bus         BusConfig         `yaml:"bus"`
	HTTP        HTTPConfig        `yaml:"http"`
	Storage     StorageConfig     `yaml:"storage"`
	Redis       RedisConfig       `yaml:"redis"`
	Explain     ExplainConfig     `yaml:"explain"`
}

// CorrelationConfig sets the news window around a movement
type CorrelationConfig struct {
	Window time.Duration `yaml:"window"`
}

// PipelineConfig holds the scheduling parameters
type PipelineConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	TickDeadline   time.Duration `yaml:"tick_deadline"` // 0 means 2x tick_interval
	NewsInterval   time.Duration `yaml:"news_interval"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// HistoryConfig bounds each symbol's price history
type HistoryConfig struct {
	Capacity  int           `yaml:"capacity"`
	Retention time.Duration `yaml:"retention"`
}

// NetworkConfig is the anti-blocking policy
type NetworkConfig struct {
	MinSpacing       time.Duration `yaml:"min_spacing"`
	MaxSpacing       time.Duration `yaml:"max_spacing"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	Identities       []string      `yaml:"identities"`
	BreakerFailures  uint32        `yaml:"breaker_failures"`
	BreakerOpenFor   time.Duration `yaml:"breaker_open_for"`
	BreakerHalfOpen  uint32        `yaml:"breaker_half_open_probes"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
}

// SourcesConfig orders the adapters and optionally overrides their URLs
type SourcesConfig struct {
	Price        []string          `yaml:"price"`
	News         []string          `yaml:"news"`
	PriceURLs    map[string]string `yaml:"price_urls"`
	NewsPageURLs map[string]string `yaml:"news_page_urls"`
}

// NewsConfig tunes the article cache and symbol tagging
type NewsConfig struct {
	Capacity    int                        `yaml:"capacity"`
	MaxAge      time.Duration              `yaml:"max_age"`
	Similarity  float64                    `yaml:"similarity"`
	Concurrency int                        `yaml:"concurrency"`
	Aliases     map[market.Symbol][]string `yaml:"aliases"`
}

// BusConfig sizes the retained output stream
type BusConfig struct {
	Capacity int `yaml:"capacity"`
}

// HTTPConfig configures the pull API
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StorageConfig enables the database sink when DSN is set
type StorageConfig struct {
	DSN     string        `yaml:"dsn"`
	Samples bool          `yaml:"samples"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig enables the news cache mirror when Addr is set
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// ExplainConfig enables the explanation webhook when WebhookURL is set
type ExplainConfig struct {
	WebhookURL  string        `yaml:"webhook_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Default returns a configuration that runs without a file
func Default() *Config {
	cc := news.DefaultCacheConfig()
	return &Config{
		LogLevel:    "info",
		Symbols:     news.DefaultSymbols(),
		Movement:    movement.DefaultPolicy(),
		Correlation: CorrelationConfig{Window: 5 * time.Minute},
		Pipeline: PipelineConfig{
			TickInterval:   30 * time.Second,
			NewsInterval:   2 * time.Minute,
			MaxConcurrency: 4,
		},
		History: HistoryConfig{Capacity: 2880, Retention: 24 * time.Hour},
		Network: NetworkConfig{
			MinSpacing:       time.Second,
			MaxSpacing:       3 * time.Second,
			RequestTimeout:   10 * time.Second,
			BreakerFailures:  5,
			BreakerOpenFor:   time.Minute,
			BreakerHalfOpen:  1,
			MaxResponseBytes: 8 << 20,
		},
		Sources: SourcesConfig{
			Price: append([]string(nil), price.DefaultOrder...),
			News:  append([]string(nil), newssrc.DefaultSources...),
		},
		News: NewsConfig{
			Capacity:    cc.Capacity,
			MaxAge:      cc.MaxAge,
			Similarity:  cc.Similarity,
			Concurrency: 4,
		},
		Bus:     BusConfig{Capacity: 4096},
		HTTP:    HTTPConfig{Enabled: true, Addr: "127.0.0.1:8080"},
		Storage: StorageConfig{Timeout: 5 * time.Second},
		Redis:   RedisConfig{Prefix: "moverun:news", TTL: 6 * time.Hour},
		Explain: ExplainConfig{Timeout: 30 * time.Second, MaxAttempts: 3},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any), a .env file in the working directory (if present) and the
// process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.Decode(data); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg. Unknown keys are rejected so typos do
// not silently fall back to defaults.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	for i, s := range c.Symbols {
		c.Symbols[i] = market.NormalizeSymbol(string(s))
		if err := c.Symbols[i].Validate(); err != nil {
			return fmt.Errorf("symbols[%d]: %w", i, err)
		}
	}
	if err := c.Movement.Validate(); err != nil {
		return fmt.Errorf("movement: %w", err)
	}
	if c.Correlation.Window <= 0 {
		return fmt.Errorf("correlation window must be positive, got %s", c.Correlation.Window)
	}

	p := c.Pipeline
	if p.TickInterval <= 0 {
		return fmt.Errorf("pipeline tick_interval must be positive, got %s", p.TickInterval)
	}
	if p.TickDeadline < 0 {
		return fmt.Errorf("pipeline tick_deadline cannot be negative, got %s", p.TickDeadline)
	}
	if p.NewsInterval < 0 {
		return fmt.Errorf("pipeline news_interval cannot be negative, got %s", p.NewsInterval)
	}
	if p.MaxConcurrency <= 0 {
		return fmt.Errorf("pipeline max_concurrency must be positive, got %d", p.MaxConcurrency)
	}

	if c.History.Capacity <= 0 {
		return fmt.Errorf("history capacity must be positive, got %d", c.History.Capacity)
	}
	if c.History.Retention < c.Movement.Lookback {
		return fmt.Errorf("history retention (%s) must cover movement lookback (%s)", c.History.Retention, c.Movement.Lookback)
	}

	n := c.Network
	if n.MinSpacing < 0 || n.MaxSpacing < n.MinSpacing {
		return fmt.Errorf("network spacing must satisfy 0 <= min (%s) <= max (%s)", n.MinSpacing, n.MaxSpacing)
	}
	if n.RequestTimeout <= 0 {
		return fmt.Errorf("network request_timeout must be positive, got %s", n.RequestTimeout)
	}
	if n.BreakerFailures == 0 {
		return fmt.Errorf("network breaker_failures must be positive")
	}

	if len(c.Sources.Price) == 0 {
		return fmt.Errorf("sources price cannot be empty")
	}
	if _, err := price.Build(c.Sources.Price, nil, price.Options{}); err != nil {
		return fmt.Errorf("sources price: %w", err)
	}
	if _, err := newssrc.Build(c.Sources.News, nil, newssrc.Options{}); err != nil {
		return fmt.Errorf("sources news: %w", err)
	}

	if c.News.Capacity <= 0 {
		return fmt.Errorf("news capacity must be positive, got %d", c.News.Capacity)
	}
	if c.News.MaxAge <= 0 {
		return fmt.Errorf("news max_age must be positive, got %s", c.News.MaxAge)
	}
	if c.News.Similarity <= 0 || c.News.Similarity > 1 {
		return fmt.Errorf("news similarity must be in (0, 1], got %v", c.News.Similarity)
	}
	if c.Bus.Capacity <= 0 {
		return fmt.Errorf("bus capacity must be positive, got %d", c.Bus.Capacity)
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http addr cannot be empty when http is enabled")
	}
	if c.Storage.DSN != "" && c.Storage.Timeout <= 0 {
		return fmt.Errorf("storage timeout must be positive, got %s", c.Storage.Timeout)
	}
	if c.Explain.WebhookURL != "" && c.Explain.MaxAttempts <= 0 {
		return fmt.Errorf("explain max_attempts must be positive, got %d", c.Explain.MaxAttempts)
	}
	return nil
}

// Aliases returns the configured alias table, or the built-in one
func (c *Config) Aliases() map[market.Symbol][]string {
	if len(c.News.Aliases) > 0 {
		return c.News.Aliases
	}
	return news.DefaultAliases
}

// CacheConfig converts the news section for news.NewCache
func (c *Config) CacheConfig() news.CacheConfig {
	return news.CacheConfig{Capacity: c.News.Capacity, MaxAge: c.News.MaxAge, Similarity: c.News.Similarity}
}
