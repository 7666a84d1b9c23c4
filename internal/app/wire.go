package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/freightquote/internal/blob/s3"
	cachememory "github.com/alanyoungcy/freightquote/internal/cache/memory"
	"github.com/alanyoungcy/freightquote/internal/cache/redis"
	"github.com/alanyoungcy/freightquote/internal/config"
	"github.com/alanyoungcy/freightquote/internal/domain"
	"github.com/alanyoungcy/freightquote/internal/notify"
	"github.com/alanyoungcy/freightquote/internal/server/handler"
	storememory "github.com/alanyoungcy/freightquote/internal/store/memory"
	"github.com/alanyoungcy/freightquote/internal/store/postgres"
	"github.com/alanyoungcy/freightquote/internal/store/sqlite"
)

// Dependencies bundles the concrete infrastructure behind the domain ports.
// SignalBus, BlobWriter and Reports are nil when their backend is not
// configured.
type Dependencies struct {
	KV          domain.KVStore
	History     domain.FreightHistoryStore
	Audit       domain.AuditStore
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	SignalBus   domain.SignalBus

	BlobWriter domain.BlobWriter
	Reports    *s3blob.ReportArchiver

	Notifier *notify.Notifier

	// HealthChecks ping every external backend that was wired.
	HealthChecks map[string]handler.HealthCheck

	// Set only for the in-process backends, which need periodic upkeep.
	memoryKV      *cachememory.KV
	memoryLimiter *cachememory.RateLimiter
}

// Wire builds the backends selected by cfg and returns a cleanup function
// that releases them.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Persisted history ---
	switch cfg.Store.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pgClient.Pool()
		deps.History = postgres.NewFreightHistoryStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping

	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		if err := store.Migrate(ctx); err != nil {
			return fail(fmt.Errorf("wire: sqlite migrations: %w", err))
		}
		deps.History = store.History()
		deps.Audit = store.Audit()
		deps.HealthChecks["sqlite"] = store.Ping

	default:
		deps.History = storememory.NewHistoryStore()
		deps.Audit = storememory.NewAuditStore()
	}

	// --- Tier-1 cache and coordination ---
	switch cfg.Cache.Backend {
	case "redis":
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.KV = redis.NewKVStore(redisClient, "")
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping

	default:
		deps.memoryKV = cachememory.NewKV()
		deps.memoryLimiter = cachememory.NewRateLimiter()
		deps.KV = deps.memoryKV
		deps.RateLimiter = deps.memoryLimiter
		deps.Locks = cachememory.NewLockManager()
	}

	// --- Object storage ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client, 0)
		deps.Reports = s3blob.NewReportArchiver(deps.BlobWriter, deps.Audit, cfg.S3.ReportPrefix)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
