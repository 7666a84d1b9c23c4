package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and then applies FREIGHT_*
// environment overrides, with a .env file in the working directory loaded
// first when present. An empty path skips the file. The result is not
// validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deploy settings
// without touching the TOML file. Unset or empty variables are ignored.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Marketplace.BaseURL, "FREIGHT_MARKETPLACE_BASE_URL")
	setStr(&cfg.Marketplace.AccessToken, "FREIGHT_MARKETPLACE_ACCESS_TOKEN")
	setDuration(&cfg.Marketplace.Timeout, "FREIGHT_MARKETPLACE_TIMEOUT")
	setFloat64(&cfg.Marketplace.RequestsPerSecond, "FREIGHT_MARKETPLACE_REQUESTS_PER_SECOND")

	setInt(&cfg.Freight.Attempts, "FREIGHT_ATTEMPTS")
	setDuration(&cfg.Freight.AttemptDelay, "FREIGHT_ATTEMPT_DELAY")
	setFloat64(&cfg.Freight.Tolerance, "FREIGHT_TOLERANCE")
	setDuration(&cfg.Freight.Timeout, "FREIGHT_TIMEOUT")
	setFloat64(&cfg.Freight.FloorCost, "FREIGHT_FLOOR_COST")
	setStr(&cfg.Freight.UserID, "FREIGHT_USER_ID")
	setStr(&cfg.Freight.BulkTargetsFile, "FREIGHT_BULK_TARGETS_FILE")
	setStringSlice(&cfg.Freight.StandardMethodIDs, "FREIGHT_STANDARD_METHOD_IDS")
	setBool(&cfg.Freight.RawBlobs, "FREIGHT_RAW_BLOBS")

	setStr(&cfg.Cache.Backend, "FREIGHT_CACHE_BACKEND")
	setDuration(&cfg.Cache.TTL, "FREIGHT_CACHE_TTL")
	setDuration(&cfg.Cache.HistoryMaxAge, "FREIGHT_CACHE_HISTORY_MAX_AGE")

	setStr(&cfg.Store.Driver, "FREIGHT_STORE_DRIVER")

	setStr(&cfg.Postgres.DSN, "FREIGHT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FREIGHT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FREIGHT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FREIGHT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FREIGHT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FREIGHT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FREIGHT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FREIGHT_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FREIGHT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.SQLite.Path, "FREIGHT_SQLITE_PATH")

	setStr(&cfg.Redis.Addr, "FREIGHT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FREIGHT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FREIGHT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FREIGHT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "FREIGHT_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "FREIGHT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FREIGHT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FREIGHT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FREIGHT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FREIGHT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "FREIGHT_S3_FORCE_PATH_STYLE")

	setInt(&cfg.Server.Port, "FREIGHT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FREIGHT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FREIGHT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "FREIGHT_SERVER_RATE_LIMIT_PER_MINUTE")

	setStr(&cfg.Notify.TelegramToken, "FREIGHT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FREIGHT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FREIGHT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FREIGHT_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.MinReliability, "FREIGHT_NOTIFY_MIN_RELIABILITY")
	setDuration(&cfg.Notify.AlertCooldown, "FREIGHT_NOTIFY_ALERT_COOLDOWN")

	setStr(&cfg.Mode, "FREIGHT_MODE")
	setStr(&cfg.LogLevel, "FREIGHT_LOG_LEVEL")
}

// Typed env-var helpers. Values that fail to parse are ignored.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
