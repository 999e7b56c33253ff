// Package config defines the top-level configuration for the dexguard
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DEXGUARD_* environment
// variables.
type Config struct {
	Aggregator AggregatorConfig `toml:"aggregator"`
	Predictor  PredictorConfig  `toml:"predictor"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Protection ProtectionConfig `toml:"protection"`
	Splitter   SplitterConfig   `toml:"splitter"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// AggregatorConfig holds the DEX-aggregator (liquidity router) endpoint.
type AggregatorConfig struct {
	BaseURL string   `toml:"base_url"`
	ApiKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// PredictorConfig holds the slippage-prediction service endpoint.
type PredictorConfig struct {
	BaseURL string   `toml:"base_url"`
	ApiKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit
// stores.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the volume-profile
// cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for execution
// report archiving.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ProtectionConfig holds the default protective pipeline parameters applied
// to swaps that carry no explicit or per-user config.
type ProtectionConfig struct {
	MaxSlippageBps            float64  `toml:"max_slippage_bps"`
	DynamicAdjustment         bool     `toml:"dynamic_adjustment"`
	RouteOptimization         bool     `toml:"route_optimization"`
	PreTradeValidation        bool     `toml:"pre_trade_validation"`
	PostTradeAnalysis         bool     `toml:"post_trade_analysis"`
	EmergencyStopThresholdBps float64  `toml:"emergency_stop_threshold_bps"`
	CallTimeout               duration `toml:"call_timeout"`
}

// SplitterConfig holds order-splitting parameters.
type SplitterConfig struct {
	CallTimeout     duration `toml:"call_timeout"`
	DefaultVenue    string   `toml:"default_venue"`
	ProfileCacheTTL duration `toml:"profile_cache_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Aggregator: AggregatorConfig{
			BaseURL: "http://localhost:8545/aggregator",
			Timeout: duration{30 * time.Second},
		},
		Predictor: PredictorConfig{
			BaseURL: "http://localhost:8600/predictor",
			Timeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "dexguard",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexguard-reports",
			Prefix:         "executions",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Protection: ProtectionConfig{
			MaxSlippageBps:            100,
			DynamicAdjustment:         true,
			RouteOptimization:         true,
			PreTradeValidation:        true,
			PostTradeAnalysis:         true,
			EmergencyStopThresholdBps: 500,
			CallTimeout:               duration{30 * time.Second},
		},
		Splitter: SplitterConfig{
			CallTimeout:     duration{30 * time.Second},
			DefaultVenue:    "uniswap",
			ProfileCacheTTL: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"swap_aborted", "order_done", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Aggregator.BaseURL == "" {
		errs = append(errs, "aggregator: base_url must not be empty")
	}
	if c.Predictor.BaseURL == "" {
		errs = append(errs, "predictor: base_url must not be empty")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Protection.MaxSlippageBps <= 0 || c.Protection.MaxSlippageBps > 10000 {
		errs = append(errs, fmt.Sprintf("protection: max_slippage_bps must be in (0, 10000], got %g", c.Protection.MaxSlippageBps))
	}
	if c.Protection.EmergencyStopThresholdBps <= 0 {
		errs = append(errs, "protection: emergency_stop_threshold_bps must be > 0")
	}
	if c.Protection.EmergencyStopThresholdBps < c.Protection.MaxSlippageBps {
		errs = append(errs, "protection: emergency_stop_threshold_bps must not be below max_slippage_bps")
	}
	if c.Protection.CallTimeout.Duration <= 0 {
		errs = append(errs, "protection: call_timeout must be > 0")
	}

	if c.Splitter.CallTimeout.Duration <= 0 {
		errs = append(errs, "splitter: call_timeout must be > 0")
	}
	if c.Splitter.DefaultVenue == "" {
		errs = append(errs, "splitter: default_venue must not be empty")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
