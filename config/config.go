package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Signalflow SignalflowConfig `yaml:"signalflow"`
	Server     ServerConfig     `yaml:"server"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Trading    TradingConfig    `yaml:"trading"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Retry      RetryConfig      `yaml:"retry"`
	Replay     ReplayConfig     `yaml:"replay"`
	Notify     NotifyConfig     `yaml:"notify"`
	Tunnel     TunnelConfig     `yaml:"tunnel"`
	Logging    LoggingConfig    `yaml:"logging"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type SignalflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ProcessTimeout bounds one signal's full pipeline run. A signal past
	// the deadline is reported as FAILED and not retried further.
	ProcessTimeout time.Duration `yaml:"process_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type WebhookConfig struct {
	Secret  string        `yaml:"secret"`
	MaxSkew time.Duration `yaml:"max_skew"`
	// AllowBodyKey accepts a shared-secret "key" field in the body when
	// no signature header is present. This path skips the timestamp check
	// and is materially weaker than HMAC headers; it exists for senders
	// that cannot set custom headers and is off by default.
	AllowBodyKey bool `yaml:"allow_body_key"`
	// AuthDisabled turns authentication off entirely. Local testing only.
	AuthDisabled bool `yaml:"auth_disabled"`
}

type ExchangeConfig struct {
	BaseURL        string               `yaml:"base_url"`
	WSURL          string               `yaml:"ws_url"`
	APIKey         string               `yaml:"api_key"`
	APISecret      string               `yaml:"api_secret"`
	Category       string               `yaml:"category"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	TickerStream   TickerStreamConfig   `yaml:"ticker_stream"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type TickerStreamConfig struct {
	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"`
	// MaxAge is how long a streamed quote stays usable before the client
	// falls back to a REST lookup.
	MaxAge time.Duration `yaml:"max_age"`
}

type TradingConfig struct {
	DefaultAmountQuote float64 `yaml:"default_amount_quote"`
	MinOrderQuote      float64 `yaml:"min_order_quote"`
	MaxOrderQuote      float64 `yaml:"max_order_quote"`
	DefaultOrderType   string  `yaml:"default_order_type"`
	DefaultLeverage    int     `yaml:"default_leverage"`
	TestMode           bool    `yaml:"test_mode"`
}

type MetadataConfig struct {
	TTL time.Duration `yaml:"ttl"`
	// HardTTL is the ceiling for serving stale rules when a refresh
	// fails. Rules older than this are unusable.
	HardTTL time.Duration `yaml:"hard_ttl"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type ReplayConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type TunnelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bin     string `yaml:"bin"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Exchange: ExchangeConfig{
			Category: "linear",
			Timeout:  10 * time.Second,
		},
		Trading: TradingConfig{
			DefaultOrderType: "market",
		},
		Metadata: MetadataConfig{
			TTL:     5 * time.Minute,
			HardTTL: time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts:       4,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          8 * time.Second,
			BackoffMultiplier: 2,
		},
		Replay: ReplayConfig{
			MaxEntries: 1024,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override secret-bearing settings from environment variables if available
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		config.Webhook.Secret = strings.TrimSpace(v)
	}
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		config.Exchange.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		config.Exchange.APISecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		config.Notify.Telegram.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			config.Notify.Telegram.ChatID = id
		}
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Signalflow.Name == "" {
		return fmt.Errorf("signalflow.name is required")
	}

	if cfg.Signalflow.Version == "" {
		return fmt.Errorf("signalflow.version is required")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}

	if cfg.Server.ProcessTimeout <= 0 {
		return fmt.Errorf("server.process_timeout must be greater than 0")
	}

	if !cfg.Webhook.AuthDisabled && cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required unless webhook.auth_disabled is set")
	}

	if cfg.Webhook.MaxSkew <= 0 {
		return fmt.Errorf("webhook.max_skew must be greater than 0")
	}

	switch cfg.Exchange.Category {
	case "linear", "inverse", "spot":
	default:
		return fmt.Errorf("exchange.category '%s' is invalid", cfg.Exchange.Category)
	}

	if cfg.Trading.DefaultAmountQuote <= 0 {
		return fmt.Errorf("trading.default_amount_quote must be greater than 0")
	}

	if cfg.Trading.MinOrderQuote < 0 || cfg.Trading.MaxOrderQuote < 0 {
		return fmt.Errorf("trading order size bounds must not be negative")
	}

	if cfg.Trading.MaxOrderQuote > 0 && cfg.Trading.MinOrderQuote > cfg.Trading.MaxOrderQuote {
		return fmt.Errorf("trading.min_order_quote must not exceed trading.max_order_quote")
	}

	switch cfg.Trading.DefaultOrderType {
	case "market", "limit":
	default:
		return fmt.Errorf("trading.default_order_type '%s' is invalid", cfg.Trading.DefaultOrderType)
	}

	if cfg.Metadata.TTL <= 0 {
		return fmt.Errorf("metadata.ttl must be greater than 0")
	}

	if cfg.Metadata.HardTTL < cfg.Metadata.TTL {
		return fmt.Errorf("metadata.hard_ttl must not be below metadata.ttl")
	}

	if cfg.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than 0")
	}

	if cfg.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be greater than 0")
	}

	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must not be below retry.base_delay")
	}

	if cfg.Replay.MaxEntries <= 0 {
		return fmt.Errorf("replay.max_entries must be greater than 0")
	}

	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" {
			return fmt.Errorf("notify.telegram.token is required when telegram is enabled")
		}
		if cfg.Notify.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
		}
	}

	return nil
}
