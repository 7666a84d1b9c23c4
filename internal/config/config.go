// Package config defines the freight service configuration and its
// validation rules.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are then
// optionally overridden by FREIGHT_* environment variables.
type Config struct {
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Freight     FreightConfig     `toml:"freight"`
	Cache       CacheConfig       `toml:"cache"`
	Store       StoreConfig       `toml:"store"`
	Postgres    PostgresConfig    `toml:"postgres"`
	SQLite      SQLiteConfig      `toml:"sqlite"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// MarketplaceConfig holds the Quote API connection settings.
type MarketplaceConfig struct {
	BaseURL           string   `toml:"base_url"`
	AccessToken       string   `toml:"access_token"`
	Timeout           duration `toml:"timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	UserAgent         string   `toml:"user_agent"`
}

// FreightConfig tunes classification, consensus and bulk runs.
type FreightConfig struct {
	Attempts          int      `toml:"attempts"`
	AttemptDelay      duration `toml:"attempt_delay"`
	Tolerance         float64  `toml:"tolerance"`
	Timeout           duration `toml:"timeout"`
	FloorCost         float64  `toml:"floor_cost"`
	PostalCodeDigits  int      `toml:"postal_code_digits"`
	UserID            string   `toml:"user_id"`
	BulkDelay         duration `toml:"bulk_delay"`
	BulkLockTTL       duration `toml:"bulk_lock_ttl"`
	BulkTargetsFile   string   `toml:"bulk_targets_file"`
	StandardMethodIDs []string `toml:"standard_method_ids"`
	StandardKeywords  []string `toml:"standard_keywords"`
	// RawBlobs archives every raw quote payload to S3.
	RawBlobs bool `toml:"raw_blobs"`
}

// CacheConfig selects and tunes the tier-1 cache.
type CacheConfig struct {
	Backend       string   `toml:"backend"` // memory | redis
	TTL           duration `toml:"ttl"`
	HistoryMaxAge duration `toml:"history_max_age"`
	SweepInterval duration `toml:"sweep_interval"`
}

// StoreConfig selects the persisted history backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // postgres | sqlite | memory
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// SQLiteConfig holds the single-node store location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters. An empty bucket disables it.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ReportPrefix   string `toml:"report_prefix"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	ShutdownTimeout    duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds alert channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinReliability    float64  `toml:"min_reliability"`
	AlertCooldown     duration `toml:"alert_cooldown"`
	// Invalidation listener tuning.
	QueueSize int      `toml:"queue_size"`
	Topics    []string `toml:"topics"`
}

// duration decodes TOML strings such as "10m" or "300ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Marketplace: MarketplaceConfig{
			BaseURL:           "https://api.mercadolibre.com",
			Timeout:           duration{15 * time.Second},
			RequestsPerSecond: 5,
			UserAgent:         "freightd/1.0",
		},
		Freight: FreightConfig{
			Attempts:         3,
			AttemptDelay:     duration{300 * time.Millisecond},
			Tolerance:        0.5,
			Timeout:          duration{30 * time.Second},
			FloorCost:        10,
			PostalCodeDigits: 8,
			BulkDelay:        duration{time.Second},
			BulkLockTTL:      duration{30 * time.Minute},
			StandardKeywords: []string{"standard", "normal", "padrão"},
		},
		Cache: CacheConfig{
			Backend:       "memory",
			TTL:           duration{10 * time.Minute},
			HistoryMaxAge: duration{24 * time.Hour},
			SweepInterval: duration{time.Minute},
		},
		Store: StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "freight",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "freight.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:       "us-east-1",
			UseSSL:       true,
			ReportPrefix: "reports",
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			MinReliability: 50,
			AlertCooldown:  duration{10 * time.Minute},
			QueueSize:      256,
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{"server": true, "bulk": true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// maxCacheTTL bounds the tier-1 lifetime.
const maxCacheTTL = 48 * time.Hour

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, bulk)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Marketplace.BaseURL == "" {
		errs = append(errs, "marketplace: base_url must not be empty")
	}
	if c.Marketplace.RequestsPerSecond <= 0 {
		errs = append(errs, "marketplace: requests_per_second must be > 0")
	}

	if c.Freight.Attempts < 1 {
		errs = append(errs, "freight: attempts must be >= 1")
	}
	if c.Freight.AttemptDelay.Duration < 0 {
		errs = append(errs, "freight: attempt_delay must be >= 0")
	}
	if c.Freight.Tolerance < 0 {
		errs = append(errs, "freight: tolerance must be >= 0")
	}
	if c.Freight.Timeout.Duration <= 0 {
		errs = append(errs, "freight: timeout must be > 0")
	}
	if c.Freight.FloorCost < 0 {
		errs = append(errs, "freight: floor_cost must be >= 0")
	}
	if c.Freight.PostalCodeDigits < 1 {
		errs = append(errs, "freight: postal_code_digits must be >= 1")
	}
	if c.Mode == "bulk" && c.Freight.BulkTargetsFile == "" {
		errs = append(errs, "freight: bulk_targets_file is required in bulk mode")
	}
	if c.Freight.RawBlobs && c.S3.Bucket == "" {
		errs = append(errs, "freight: raw_blobs requires s3.bucket")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty for cache backend redis")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache: unknown backend %q (valid: memory, redis)", c.Cache.Backend))
	}
	if c.Cache.TTL.Duration <= 0 || c.Cache.TTL.Duration > maxCacheTTL {
		errs = append(errs, fmt.Sprintf("cache: ttl must be in (0, %s], got %s", maxCacheTTL, c.Cache.TTL.Duration))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	case "postgres":
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite, memory)", c.Store.Driver))
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	if c.Mode == "server" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server: rate_limit_per_minute must be >= 0")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.MinReliability < 0 || c.Notify.MinReliability > 100 {
		errs = append(errs, "notify: min_reliability must be within 0-100")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
