package freight

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) Begin(string, string) domain.Computation { return nopComputation{} }

type nopComputation struct{}

func (nopComputation) CacheLookup(string, bool)          {}
func (nopComputation) Classified(domain.ProcessedOption) {}
func (nopComputation) Attempt(domain.CallAttempt)        {}
func (nopComputation) Consensus(domain.ConsensusResult)  {}
func (nopComputation) Failed(error)                      {}
func (nopComputation) End(time.Duration)                 {}

// LogObserver writes computation events to a structured logger. Each
// computation gets its own computation_id so interleaved runs can be told
// apart.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With(slog.String("component", "freight_observer"))}
}

// Begin starts a logged computation.
func (o *LogObserver) Begin(listingID, destination string) domain.Computation {
	return &logComputation{
		logger: o.logger.With(
			slog.String("computation_id", uuid.NewString()),
			slog.String("listing_id", listingID),
			slog.String("destination", destination),
		),
	}
}

type logComputation struct {
	logger *slog.Logger
}

func (c *logComputation) CacheLookup(tier string, hit bool) {
	c.logger.Debug("cache lookup", slog.String("tier", tier), slog.Bool("hit", hit))
}

func (c *logComputation) Classified(opt domain.ProcessedOption) {
	c.logger.Debug("option classified",
		slog.String("method", opt.Method),
		slog.String("payer", string(opt.Payer)),
		slog.String("classification", opt.ClassificationMethod),
		slog.Float64("seller_cost", opt.SellerCost),
		slog.Float64("buyer_cost", opt.BuyerCost),
		slog.Bool("standard", opt.IsStandardService),
	)
}

func (c *logComputation) Attempt(a domain.CallAttempt) {
	attrs := []slog.Attr{
		slog.Int("attempt", a.Number),
		slog.Bool("success", a.Success),
		slog.Duration("duration", a.Duration),
	}
	if a.Option != nil {
		attrs = append(attrs,
			slog.Float64("seller_cost", a.Option.SellerCost),
			slog.Float64("customer_cost", a.Option.CustomerPrice),
		)
	}
	if a.Error != "" {
		attrs = append(attrs, slog.String("error", a.Error))
	}
	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "quote attempt", attrs...)
}

func (c *logComputation) Consensus(res domain.ConsensusResult) {
	c.logger.Info("consensus reached",
		slog.Float64("seller_cost", res.SellerCost),
		slog.Float64("customer_cost", res.CustomerCost),
		slog.String("method", res.Method),
		slog.Float64("reliability", res.ReliabilityPercent),
		slog.Int("successful", res.SuccessfulAttempts),
		slog.Int("agreeing", res.AgreeingAttempts),
	)
}

func (c *logComputation) Failed(err error) {
	c.logger.Warn("freight computation failed", slog.String("error", err.Error()))
}

func (c *logComputation) End(elapsed time.Duration) {
	c.logger.Debug("freight computation finished", slog.Duration("elapsed", elapsed))
}

// MultiObserver fans events out to several observers.
type MultiObserver []domain.Observer

func (m MultiObserver) Begin(listingID, destination string) domain.Computation {
	comps := make(multiComputation, 0, len(m))
	for _, o := range m {
		if o != nil {
			comps = append(comps, o.Begin(listingID, destination))
		}
	}
	return comps
}

type multiComputation []domain.Computation

func (m multiComputation) CacheLookup(tier string, hit bool) {
	for _, c := range m {
		c.CacheLookup(tier, hit)
	}
}

func (m multiComputation) Classified(opt domain.ProcessedOption) {
	for _, c := range m {
		c.Classified(opt)
	}
}

func (m multiComputation) Attempt(a domain.CallAttempt) {
	for _, c := range m {
		c.Attempt(a)
	}
}

func (m multiComputation) Consensus(res domain.ConsensusResult) {
	for _, c := range m {
		c.Consensus(res)
	}
}

func (m multiComputation) Failed(err error) {
	for _, c := range m {
		c.Failed(err)
	}
}

func (m multiComputation) End(elapsed time.Duration) {
	for _, c := range m {
		c.End(elapsed)
	}
}
