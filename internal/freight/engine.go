package freight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// Engine defaults.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultPostalCodeDigits = 8
	DefaultBulkDelay        = time.Second
	bulkLockKey             = "freight:bulk"
)

// EngineConfig configures the public engine.
type EngineConfig struct {
	Timeout          time.Duration
	PostalCodeDigits int
	BulkDelay        time.Duration
	BulkLockTTL      time.Duration
}

// Target is one (listing, destination) pair of a bulk calculation.
type Target struct {
	ListingID   string `json:"listing_id"`
	Destination string `json:"destination"`
}

// BulkResult is the outcome of one target of a bulk calculation.
type BulkResult struct {
	Target Target                  `json:"target"`
	Result *domain.ConsensusResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// Engine is the public surface of the freight core: cached consensus
// lookups, cache clearing, invalidation and bulk calculation.
type Engine struct {
	resolver *Resolver
	cache    *CacheLayer
	history  domain.FreightHistoryStore
	observer domain.Observer
	audit    domain.AuditStore
	locks    domain.LockManager
	cfg      EngineConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine wires an Engine. history may be nil when no persistent store is
// configured; observer may be nil.
func NewEngine(
	resolver *Resolver,
	cache *CacheLayer,
	history domain.FreightHistoryStore,
	observer domain.Observer,
	cfg EngineConfig,
	logger *slog.Logger,
) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PostalCodeDigits <= 0 {
		cfg.PostalCodeDigits = DefaultPostalCodeDigits
	}
	if cfg.BulkDelay < 0 {
		cfg.BulkDelay = 0
	}
	if cfg.BulkLockTTL <= 0 {
		cfg.BulkLockTTL = 30 * time.Minute
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Engine{
		resolver: resolver,
		cache:    cache,
		history:  history,
		observer: observer,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "freight_engine")),
	}
}

// WithAudit records every consensus run in the audit log.
func (e *Engine) WithAudit(a domain.AuditStore) *Engine {
	e.audit = a
	return e
}

// WithLocks guards bulk calculations with a distributed lock.
func (e *Engine) WithLocks(l domain.LockManager) *Engine {
	e.locks = l
	return e
}

// NormalizeDestination strips separators from a postal code and checks the
// digit count.
func NormalizeDestination(destination string, digits int) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(destination) {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '-' || r == '.' || r == ' ':
		default:
			return "", fmt.Errorf("%w: unexpected character %q in %q", domain.ErrInvalidDestination, r, destination)
		}
	}
	out := b.String()
	if len(out) != digits {
		return "", fmt.Errorf("%w: %q has %d digits, want %d", domain.ErrInvalidDestination, destination, len(out), digits)
	}
	return out, nil
}

// GetFreightCost returns the freight cost for a listing and destination,
// served from cache unless force is set. On a miss the consensus resolver
// runs and the result is written to both cache tiers. Failed computations
// write nothing.
func (e *Engine) GetFreightCost(ctx context.Context, listingID, destination string, force bool) (domain.ConsensusResult, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return domain.ConsensusResult{}, fmt.Errorf("freight: %w: listing id is required", domain.ErrInvalidListing)
	}
	dest, err := NormalizeDestination(destination, e.cfg.PostalCodeDigits)
	if err != nil {
		return domain.ConsensusResult{}, err
	}

	start := e.now()
	comp := e.observer.Begin(listingID, dest)
	defer func() { comp.End(e.now().Sub(start)) }()

	if !force {
		if res, ok := e.cache.Lookup(ctx, listingID, dest, comp); ok {
			return res, nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	res, err := e.resolver.Resolve(runCtx, listingID, dest, comp)
	if err != nil {
		comp.Failed(err)
		e.auditRun(ctx, "freight_consensus_failed", listingID, dest, map[string]any{
			"error": err.Error(),
			"force": force,
		})
		return domain.ConsensusResult{}, err
	}

	if err := e.cache.Store(ctx, res); err != nil {
		e.logger.WarnContext(ctx, "cache store failed",
			slog.String("listing_id", listingID),
			slog.String("destination", dest),
			slog.String("error", err.Error()),
		)
	}
	comp.Consensus(res)
	e.auditRun(ctx, "freight_consensus", listingID, dest, map[string]any{
		"seller_cost":   res.SellerCost,
		"customer_cost": res.CustomerCost,
		"method":        res.Method,
		"reliability":   res.ReliabilityPercent,
		"attempts":      res.Attempts,
		"force":         force,
	})
	return res, nil
}

// ClearCache removes tier-1 entries for listingID, or all entries when
// listingID is empty.
func (e *Engine) ClearCache(ctx context.Context, listingID string) (int, error) {
	n, err := e.cache.Clear(ctx, strings.TrimSpace(listingID))
	if err != nil {
		return 0, fmt.Errorf("freight: clear cache: %w", err)
	}
	e.logger.InfoContext(ctx, "cache cleared",
		slog.String("listing_id", listingID),
		slog.Int("entries", n),
	)
	return n, nil
}

// Invalidate marks every current history record of listingID stale so the
// next read that misses tier 1 recomputes. It returns the number of records
// flipped.
func (e *Engine) Invalidate(ctx context.Context, listingID string) (int64, error) {
	if e.history == nil {
		return 0, nil
	}
	n, err := e.history.InvalidateListing(ctx, listingID, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("freight: invalidate %s: %w", listingID, err)
	}
	return n, nil
}

// History returns the persisted records of a listing, newest first.
func (e *Engine) History(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.FreightHistoryRecord, error) {
	if e.history == nil {
		return nil, nil
	}
	recs, err := e.history.ListByListing(ctx, listingID, opts)
	if err != nil {
		return nil, fmt.Errorf("freight: history %s: %w", listingID, err)
	}
	return recs, nil
}

// CalculateAll computes the targets one at a time with BulkDelay between
// listings. Individual failures are reported per target; the returned error
// is set only when the run could not start or the context ended.
func (e *Engine) CalculateAll(ctx context.Context, targets []Target, force bool) ([]BulkResult, error) {
	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, bulkLockKey, e.cfg.BulkLockTTL)
		if err != nil {
			return nil, fmt.Errorf("freight: bulk lock: %w", err)
		}
		defer unlock()
	}

	results := make([]BulkResult, 0, len(targets))
	for i, t := range targets {
		if i > 0 {
			if err := sleep(ctx, e.cfg.BulkDelay); err != nil {
				return results, fmt.Errorf("freight: bulk interrupted after %d targets: %w", i, err)
			}
		}
		br := BulkResult{Target: t}
		res, err := e.GetFreightCost(ctx, t.ListingID, t.Destination, force)
		if err != nil {
			br.Error = err.Error()
		} else {
			br.Result = &res
		}
		results = append(results, br)
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	e.logger.InfoContext(ctx, "bulk calculation finished",
		slog.Int("targets", len(targets)),
		slog.Int("failed", failed),
	)
	return results, nil
}

func (e *Engine) auditRun(ctx context.Context, event, listingID, destination string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	detail["listing_id"] = listingID
	detail["destination"] = destination
	if err := e.audit.Log(ctx, event, detail); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
