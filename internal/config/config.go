// Package config loads the application configuration from an optional YAML
// file, environment variables and built-in defaults, in ascending precedence
// of default < file < environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/logger"
	"github.com/PetroSa2/petrosa-binance-data-extractor-sub000/internal/models"
)

const envPrefix = "EXTRACTOR"

// Config is the full application configuration.
type Config struct {
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   logger.Config   `mapstructure:"logging"`
}

// ExchangeConfig tunes the exchange client and its rate limiting.
type ExchangeConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	PageLimit         int           `mapstructure:"page_limit"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RateLimitAttempts int           `mapstructure:"rate_limit_attempts"`
	RequestsPerSec    float64       `mapstructure:"requests_per_sec"`

	// WeightBudget is the request weight allowed inside WeightWindow,
	// shaped after the exchange's published limit.
	WeightBudget int           `mapstructure:"weight_budget"`
	WeightWindow time.Duration `mapstructure:"weight_window"`
}

// StorageConfig selects and connects the persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // postgres, mongodb or memory
	DSN     string `mapstructure:"dsn"`
}

// ExtractorConfig tunes the orchestrator.
type ExtractorConfig struct {
	Interval       string        `mapstructure:"interval"`
	Symbols        []string      `mapstructure:"symbols"`
	Workers        int           `mapstructure:"workers"`
	OverlapBuckets int           `mapstructure:"overlap_buckets"`
	Lookback       time.Duration `mapstructure:"lookback"`
	Deadline       time.Duration `mapstructure:"deadline"`
	ChunkBuckets   int           `mapstructure:"chunk_buckets"`
	MaxGapAge      time.Duration `mapstructure:"max_gap_age"`
}

// EventsConfig selects the completion-event sink. An empty broker list keeps
// events on the log sink.
type EventsConfig struct {
	Brokers     string `mapstructure:"brokers"`
	SymbolTopic string `mapstructure:"symbol_topic"`
	RunTopic    string `mapstructure:"run_topic"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply. Environment variables use the EXTRACTOR_
// prefix with underscores for nesting, e.g. EXTRACTOR_STORAGE_BACKEND.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.base_url", "https://api.binance.com")
	v.SetDefault("exchange.page_limit", 1000)
	v.SetDefault("exchange.request_timeout", "30s")
	v.SetDefault("exchange.max_attempts", 5)
	v.SetDefault("exchange.rate_limit_attempts", 2)
	v.SetDefault("exchange.requests_per_sec", 10)
	v.SetDefault("exchange.weight_budget", 6000)
	v.SetDefault("exchange.weight_window", "60s")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("extractor.interval", "1h")
	v.SetDefault("extractor.symbols", []string{})
	v.SetDefault("extractor.workers", 4)
	v.SetDefault("extractor.overlap_buckets", 2)
	v.SetDefault("extractor.lookback", "720h")
	v.SetDefault("extractor.deadline", "0")
	v.SetDefault("extractor.chunk_buckets", 1000)
	v.SetDefault("extractor.max_gap_age", "0")

	v.SetDefault("events.brokers", "")
	v.SetDefault("events.symbol_topic", "extractor.symbol.completed")
	v.SetDefault("events.run_topic", "extractor.run.completed")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if _, err := models.ParseInterval(c.Extractor.Interval); err != nil {
		return fmt.Errorf("extractor.interval: %w", err)
	}
	if c.Exchange.WeightBudget <= 0 {
		return fmt.Errorf("exchange.weight_budget must be positive, got %d", c.Exchange.WeightBudget)
	}
	if c.Exchange.WeightWindow <= 0 {
		return fmt.Errorf("exchange.weight_window must be positive, got %s", c.Exchange.WeightWindow)
	}
	switch c.Storage.Backend {
	case "postgres", "mongodb":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for backend %q", c.Storage.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Extractor.Workers <= 0 {
		return fmt.Errorf("extractor.workers must be positive, got %d", c.Extractor.Workers)
	}
	return nil
}
