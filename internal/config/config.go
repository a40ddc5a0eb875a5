package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverHTTP     = "http"
	DriverNone     = "none"
)

// Config holds all GPU Broker configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	TokenPrice TokenPriceConfig `mapstructure:"token_price"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StorageConfig selects where reasoning traces are kept.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
}

// ServerConfig defines HTTP API settings.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodySize  int64         `mapstructure:"max_body_size"`
}

// ProvidersConfig points at the static provider definitions.
type ProvidersConfig struct {
	Dir string `mapstructure:"dir"`
}

// RankingConfig holds ranker defaults.
type RankingConfig struct {
	TopK             int           `mapstructure:"top_k"`
	TopN             int           `mapstructure:"top_n"`
	Concurrency      int           `mapstructure:"concurrency"`
	ProviderTimeout  time.Duration `mapstructure:"provider_timeout"`
	AggregateTimeout time.Duration `mapstructure:"aggregate_timeout"`
	Weights          model.Weights `mapstructure:"weights"`
}

// TokenPriceConfig defines the token price source and cache.
type TokenPriceConfig struct {
	BaseURL     string            `mapstructure:"base_url"`
	APIKey      string            `mapstructure:"api_key"`
	CacheTTL    time.Duration     `mapstructure:"cache_ttl"`
	RateLimit   int               `mapstructure:"rate_limit"`
	RateWindow  time.Duration     `mapstructure:"rate_window"`
	MaxAttempts int               `mapstructure:"max_attempts"`
	Backoff     time.Duration     `mapstructure:"backoff"`
	SymbolIDs   map[string]string `mapstructure:"symbol_ids"`
	Redis       RedisConfig       `mapstructure:"redis"`
}

// RedisConfig enables the shared token price cache when Addr is set.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SettlementConfig defines the handoff signer and notifiers.
type SettlementConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	Slack      SlackConfig   `mapstructure:"slack"`
	Webhook    WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".gpb"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	home, _ := os.UserHomeDir()
	w := model.DefaultWeights()
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", filepath.Join(home, ".gpb", "traces.db"))
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.max_body_size", 1024*1024) // 1 MB
	v.SetDefault("providers.dir", "providers/")
	v.SetDefault("ranking.top_k", 3)
	v.SetDefault("ranking.top_n", 5)
	v.SetDefault("ranking.concurrency", 8)
	v.SetDefault("ranking.provider_timeout", "5s")
	v.SetDefault("ranking.aggregate_timeout", "0s")
	v.SetDefault("ranking.weights.price", w.Price)
	v.SetDefault("ranking.weights.latency", w.Latency)
	v.SetDefault("ranking.weights.reputation", w.Reputation)
	v.SetDefault("ranking.weights.geography", w.Geography)
	v.SetDefault("token_price.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("token_price.cache_ttl", "10m")
	v.SetDefault("token_price.rate_limit", 25)
	v.SetDefault("token_price.rate_window", "60s")
	v.SetDefault("token_price.max_attempts", 3)
	v.SetDefault("token_price.backoff", "1s")
	v.SetDefault("token_price.redis.key_prefix", "gpb:tokenprice:")
	v.SetDefault("settlement.slack.channel", "#gpu-broker")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetEnvPrefix("GPB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	case DriverHTTP:
		if c.Storage.URL == "" {
			errs = append(errs, errors.New("storage.url is required for http"))
		}
	case DriverNone:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Ranking.TopK < 1 {
		errs = append(errs, fmt.Errorf("ranking.top_k must be at least 1, got %d", c.Ranking.TopK))
	}
	if c.Ranking.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("ranking.concurrency must be at least 1, got %d", c.Ranking.Concurrency))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
