package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/freightquote/internal/blob/s3"
	"github.com/alanyoungcy/freightquote/internal/domain"
	"github.com/alanyoungcy/freightquote/internal/freight"
	"github.com/alanyoungcy/freightquote/internal/metrics"
	"github.com/alanyoungcy/freightquote/internal/notify"
	"github.com/alanyoungcy/freightquote/internal/platform/marketplace"
	"github.com/alanyoungcy/freightquote/internal/server"
	"github.com/alanyoungcy/freightquote/internal/server/handler"
)

const limiterIdle = 10 * time.Minute

// services are the freight components built on top of Dependencies.
type services struct {
	engine   *freight.Engine
	listener *freight.InvalidationListener
	metrics  *metrics.Collector
	alerts   *notify.AlertObserver
}

func (a *App) buildServices(deps *Dependencies) *services {
	cfg := a.cfg

	client := marketplace.New(marketplace.Config{
		BaseURL:           cfg.Marketplace.BaseURL,
		AccessToken:       cfg.Marketplace.AccessToken,
		Timeout:           cfg.Marketplace.Timeout.Duration,
		RequestsPerSecond: cfg.Marketplace.RequestsPerSecond,
		UserAgent:         cfg.Marketplace.UserAgent,
	})

	classifier := freight.NewClassifier(freight.ClassifierConfig{
		FloorCost:         cfg.Freight.FloorCost,
		StandardMethodIDs: cfg.Freight.StandardMethodIDs,
		StandardKeywords:  cfg.Freight.StandardKeywords,
	})
	executor := freight.NewExecutor(client, client, classifier, a.logger)
	if cfg.Freight.RawBlobs && deps.BlobWriter != nil {
		executor = executor.WithRawBlobs(deps.BlobWriter)
	}

	resolver := freight.NewResolver(executor, freight.ResolverConfig{
		Attempts:  cfg.Freight.Attempts,
		Delay:     cfg.Freight.AttemptDelay.Duration,
		Tolerance: cfg.Freight.Tolerance,
	})

	cache := freight.NewCacheLayer(deps.KV, deps.History, freight.CacheConfig{
		TTL:           cfg.Cache.TTL.Duration,
		HistoryMaxAge: cfg.Cache.HistoryMaxAge.Duration,
		UserID:        cfg.Freight.UserID,
	}, uuid.NewString, a.logger)

	collector := metrics.NewCollector()
	alerts := notify.NewAlertObserver(deps.Notifier, cfg.Notify.MinReliability, a.logger).
		WithCooldown(cfg.Notify.AlertCooldown.Duration)
	observer := freight.MultiObserver{freight.NewLogObserver(a.logger), collector, alerts}

	engine := freight.NewEngine(resolver, cache, deps.History, observer, freight.EngineConfig{
		Timeout:          cfg.Freight.Timeout.Duration,
		PostalCodeDigits: cfg.Freight.PostalCodeDigits,
		BulkDelay:        cfg.Freight.BulkDelay.Duration,
		BulkLockTTL:      cfg.Freight.BulkLockTTL.Duration,
	}, a.logger).WithAudit(deps.Audit).WithLocks(deps.Locks)

	listener := freight.NewInvalidationListener(engine, freight.ListenerConfig{
		QueueSize: cfg.Notify.QueueSize,
		Topics:    cfg.Notify.Topics,
	}, a.logger)
	if deps.SignalBus != nil {
		listener = listener.WithBus(deps.SignalBus)
	}
	collector.WatchListener(listener.Stats)

	return &services{engine: engine, listener: listener, metrics: collector, alerts: alerts}
}

// ServerMode serves the HTTP API and runs the invalidation listener until
// ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svc *services) error {
	a.logger.InfoContext(ctx, "entering server mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return svc.listener.Run(ctx) })
	g.Go(func() error { return svc.alerts.Run(ctx) })
	if deps.memoryKV != nil {
		g.Go(func() error {
			deps.memoryKV.RunSweeper(ctx, a.cfg.Cache.SweepInterval.Duration)
			return nil
		})
	}
	if deps.memoryLimiter != nil {
		g.Go(func() error {
			t := time.NewTicker(limiterIdle)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					deps.memoryLimiter.Prune(limiterIdle)
				}
			}
		})
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.HealthChecks,
			func() any { return svc.listener.Stats() }, a.logger),
		Freight:       handler.NewFreightHandler(svc.engine, a.logger),
		Notifications: handler.NewNotificationHandler(svc.listener, a.logger),
		Metrics:       svc.metrics.Handler(),
	}, deps.RateLimiter, svc.metrics.InstrumentHandler, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// BulkMode computes every target in the configured file once, archives the
// report when object storage is configured, and returns.
func (a *App) BulkMode(ctx context.Context, deps *Dependencies, svc *services) error {
	targets, err := loadTargets(a.cfg.Freight.BulkTargetsFile)
	if err != nil {
		return fmt.Errorf("app: bulk: %w", err)
	}
	a.logger.InfoContext(ctx, "entering bulk mode", slog.Int("targets", len(targets)))

	g, ctx := errgroup.WithContext(ctx)
	alertCtx, stopAlerts := context.WithCancel(ctx)
	g.Go(func() error { return svc.alerts.Run(alertCtx) })

	var results []freight.BulkResult
	g.Go(func() error {
		defer stopAlerts()
		var err error
		results, err = svc.engine.CalculateAll(ctx, targets, false)
		return err
	})
	runErr := g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	a.logger.InfoContext(ctx, "bulk run complete",
		slog.Int("targets", len(targets)),
		slog.Int("computed", len(results)),
		slog.Int("failed", failed),
	)

	if deps.Reports != nil && len(results) > 0 {
		// The run context may already be cancelled; the report is still worth keeping.
		upCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		path, err := s3blob.ArchiveReport(upCtx, deps.Reports, "bulk", time.Now(), results)
		if err != nil {
			a.logger.ErrorContext(ctx, "bulk report upload failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "bulk report archived", slog.String("path", path))
		}
	}
	return runErr
}

// loadTargets reads a JSON array of {"listing_id","destination"} objects.
func loadTargets(path string) ([]freight.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	var targets []freight.Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("decode targets %s: %w", path, err)
	}
	for i, t := range targets {
		if t.ListingID == "" || t.Destination == "" {
			return nil, fmt.Errorf("target %d: listing_id and destination are required: %w", i, domain.ErrInvalidListing)
		}
	}
	return targets, nil
}
