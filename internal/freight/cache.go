package freight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// Cache defaults. MaxCacheTTL bounds the tier-1 lifetime for callers that
// tolerate staler data.
const (
	DefaultCacheTTL      = 10 * time.Minute
	MaxCacheTTL          = 48 * time.Hour
	DefaultHistoryMaxAge = 24 * time.Hour
)

const cachePrefix = "freight:"

// CacheConfig configures the two cache tiers.
type CacheConfig struct {
	TTL           time.Duration
	HistoryMaxAge time.Duration
	UserID        string
}

// CacheLayer is the two-tier freight cache: a TTL key-value tier in front of
// the persisted history's current records. Writes are last-writer-wins.
type CacheLayer struct {
	kv      domain.KVStore
	history domain.FreightHistoryStore
	cfg     CacheConfig
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// NewCacheLayer creates a CacheLayer. history may be nil, in which case only
// the TTL tier is used. A negative HistoryMaxAge accepts current records of
// any age.
func NewCacheLayer(kv domain.KVStore, history domain.FreightHistoryStore, cfg CacheConfig, newID func() string, logger *slog.Logger) *CacheLayer {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.TTL > MaxCacheTTL {
		cfg.TTL = MaxCacheTTL
	}
	if cfg.HistoryMaxAge == 0 {
		cfg.HistoryMaxAge = DefaultHistoryMaxAge
	}
	return &CacheLayer{
		kv:      kv,
		history: history,
		cfg:     cfg,
		now:     time.Now,
		newID:   newID,
		logger:  logger.With(slog.String("component", "freight_cache")),
	}
}

// CacheKey returns the tier-1 key for a listing and destination.
func CacheKey(listingID, destination string) string {
	return cachePrefix + listingID + ":" + destination
}

func listingPrefix(listingID string) string {
	if listingID == "" {
		return cachePrefix
	}
	return cachePrefix + listingID + ":"
}

// Lookup consults tier 1 and then tier 2. Store errors are logged and
// treated as misses. A tier-2 hit back-fills tier 1.
func (c *CacheLayer) Lookup(ctx context.Context, listingID, destination string, comp domain.Computation) (domain.ConsensusResult, bool) {
	if res, ok := c.lookupMemory(ctx, listingID, destination); ok {
		comp.CacheLookup(domain.TierMemory, true)
		return res, true
	}
	comp.CacheLookup(domain.TierMemory, false)

	if c.history == nil {
		return domain.ConsensusResult{}, false
	}
	res, ok := c.lookupHistory(ctx, listingID, destination)
	comp.CacheLookup(domain.TierHistory, ok)
	if !ok {
		return domain.ConsensusResult{}, false
	}

	if err := c.setMemory(ctx, res); err != nil {
		c.logger.WarnContext(ctx, "tier-1 back-fill failed",
			slog.String("listing_id", listingID),
			slog.String("error", err.Error()),
		)
	}
	return res, true
}

func (c *CacheLayer) lookupMemory(ctx context.Context, listingID, destination string) (domain.ConsensusResult, bool) {
	key := CacheKey(listingID, destination)
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "tier-1 read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return domain.ConsensusResult{}, false
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.WarnContext(ctx, "tier-1 entry corrupt, dropping",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		_ = c.kv.Delete(ctx, key)
		return domain.ConsensusResult{}, false
	}
	if !entry.ExpiresAt.IsZero() && !c.now().Before(entry.ExpiresAt) {
		return domain.ConsensusResult{}, false
	}

	return domain.ConsensusResult{
		ListingID:          listingID,
		Destination:        destination,
		SellerCost:         entry.Value.SellerCost,
		CustomerCost:       entry.Value.CustomerCost,
		Method:             entry.Value.Method,
		ReliabilityPercent: entry.Value.ReliabilityPercent,
		SuccessfulAttempts: entry.Value.SuccessfulAttempts,
		AgreeingAttempts:   entry.Value.AgreeingAttempts,
		Attempts:           entry.Value.Attempts,
		CalculatedAt:       entry.Value.CalculatedAt,
		Source:             domain.SourceMemory,
	}, true
}

func (c *CacheLayer) lookupHistory(ctx context.Context, listingID, destination string) (domain.ConsensusResult, bool) {
	rec, err := c.history.GetCurrent(ctx, c.cfg.UserID, listingID, destination)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "tier-2 read failed",
				slog.String("listing_id", listingID),
				slog.String("error", err.Error()),
			)
		}
		return domain.ConsensusResult{}, false
	}
	if !rec.IsCurrent {
		return domain.ConsensusResult{}, false
	}
	if c.cfg.HistoryMaxAge > 0 && c.now().Sub(rec.CalculatedAt) > c.cfg.HistoryMaxAge {
		return domain.ConsensusResult{}, false
	}

	return domain.ConsensusResult{
		ListingID:          rec.ListingID,
		Destination:        rec.Destination,
		SellerCost:         rec.SellerCost,
		CustomerCost:       rec.CustomerCost,
		Method:             rec.Method,
		ReliabilityPercent: rec.ReliabilityPercent,
		SuccessfulAttempts: rec.SuccessfulAttempts,
		AgreeingAttempts:   rec.AgreeingAttempts,
		Attempts:           rec.Attempts,
		CalculatedAt:       rec.CalculatedAt,
		Source:             domain.SourceHistory,
	}, true
}

// Store writes a fresh consensus to both tiers. Both writes are attempted;
// the returned error joins whichever failed.
func (c *CacheLayer) Store(ctx context.Context, res domain.ConsensusResult) error {
	var errs []error
	if err := c.setMemory(ctx, res); err != nil {
		errs = append(errs, err)
	}
	if c.history != nil {
		rec := domain.FreightHistoryRecord{
			ID:                 c.newID(),
			UserID:             c.cfg.UserID,
			ListingID:          res.ListingID,
			Destination:        res.Destination,
			SellerCost:         res.SellerCost,
			CustomerCost:       res.CustomerCost,
			Method:             res.Method,
			ReliabilityPercent: res.ReliabilityPercent,
			SuccessfulAttempts: res.SuccessfulAttempts,
			AgreeingAttempts:   res.AgreeingAttempts,
			Attempts:           res.Attempts,
			CalculatedAt:       res.CalculatedAt,
			IsCurrent:          true,
		}
		if err := c.history.Insert(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("freight_cache: persist history: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *CacheLayer) setMemory(ctx context.Context, res domain.ConsensusResult) error {
	key := CacheKey(res.ListingID, res.Destination)
	entry := domain.CacheEntry{
		Key: key,
		Value: domain.CachedFreight{
			SellerCost:         res.SellerCost,
			CustomerCost:       res.CustomerCost,
			Method:             res.Method,
			ReliabilityPercent: res.ReliabilityPercent,
			SuccessfulAttempts: res.SuccessfulAttempts,
			AgreeingAttempts:   res.AgreeingAttempts,
			Attempts:           res.Attempts,
			CalculatedAt:       res.CalculatedAt,
		},
		ExpiresAt: c.now().Add(c.cfg.TTL),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("freight_cache: marshal %s: %w", key, err)
	}
	if err := c.kv.Set(ctx, key, data, c.cfg.TTL); err != nil {
		return fmt.Errorf("freight_cache: set %s: %w", key, err)
	}
	return nil
}

// Clear removes tier-1 entries for listingID, or every freight entry when
// listingID is empty. Tier 2 is an audit trail and is never deleted.
func (c *CacheLayer) Clear(ctx context.Context, listingID string) (int, error) {
	keys, err := c.kv.ListByPrefix(ctx, listingPrefix(listingID))
	if err != nil {
		return 0, fmt.Errorf("freight_cache: list keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.kv.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("freight_cache: delete %d keys: %w", len(keys), err)
	}
	return len(keys), nil
}
