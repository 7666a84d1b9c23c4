package freight

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// QuoteSource fetches the raw shipping options of a listing for a
// destination postal code.
type QuoteSource interface {
	Quote(ctx context.Context, listingID, destination string) (domain.QuoteResponse, error)
}

// ListingSource resolves listing attributes such as the free-shipping flag.
type ListingSource interface {
	GetListing(ctx context.Context, listingID string) (domain.Listing, error)
}

// AttemptRequest identifies one quote call. FreeShipping is nil until the
// listing's declared flag is known; Execute fills it once resolved so later
// attempts of the same run reuse it.
type AttemptRequest struct {
	ListingID    string
	Destination  string
	Number       int
	FreeShipping *bool
}

// Executor performs single quote calls and normalises them into a
// CallAttempt. Execute never returns an error; failures are captured in the
// attempt.
type Executor struct {
	quotes     QuoteSource
	listings   ListingSource
	classifier *Classifier
	blobs      domain.BlobWriter
	logger     *slog.Logger
}

// NewExecutor creates an Executor. listings may be nil when callers always
// provide the free-shipping flag.
func NewExecutor(quotes QuoteSource, listings ListingSource, classifier *Classifier, logger *slog.Logger) *Executor {
	return &Executor{
		quotes:     quotes,
		listings:   listings,
		classifier: classifier,
		logger:     logger.With(slog.String("component", "quote_executor")),
	}
}

// WithRawBlobs archives every raw quote payload to w for debugging.
func (e *Executor) WithRawBlobs(w domain.BlobWriter) *Executor {
	e.blobs = w
	return e
}

// Execute performs one call to the quote API and returns the tagged result.
func (e *Executor) Execute(ctx context.Context, req *AttemptRequest, comp domain.Computation) domain.CallAttempt {
	start := time.Now()
	attempt := domain.CallAttempt{Number: req.Number}

	opt, err := e.execute(ctx, req, comp)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Error = err.Error()
		e.logger.DebugContext(ctx, "quote attempt failed",
			slog.String("listing_id", req.ListingID),
			slog.String("destination", req.Destination),
			slog.Int("attempt", req.Number),
			slog.String("error", err.Error()),
		)
		return attempt
	}

	attempt.Success = true
	attempt.Option = &opt
	return attempt
}

func (e *Executor) execute(ctx context.Context, req *AttemptRequest, comp domain.Computation) (domain.ProcessedOption, error) {
	if req.FreeShipping == nil {
		free, err := e.resolveFreeShipping(ctx, req.ListingID)
		if err != nil {
			return domain.ProcessedOption{}, err
		}
		req.FreeShipping = &free
	}

	resp, err := e.quotes.Quote(ctx, req.ListingID, req.Destination)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ProcessedOption{}, fmt.Errorf("quote: %w", ctxErr)
		}
		return domain.ProcessedOption{}, fmt.Errorf("quote: %w", err)
	}
	e.archiveRaw(ctx, req, resp.Raw)

	processed := make([]domain.ProcessedOption, 0, len(resp.Options))
	for _, raw := range resp.Options {
		opt := e.classifier.Classify(raw, *req.FreeShipping)
		comp.Classified(opt)
		processed = append(processed, opt)
	}

	best, err := SelectBest(processed)
	if err != nil {
		return domain.ProcessedOption{}, fmt.Errorf("select option (%d candidates): %w", len(processed), err)
	}
	return best, nil
}

func (e *Executor) resolveFreeShipping(ctx context.Context, listingID string) (bool, error) {
	if e.listings == nil {
		return false, nil
	}
	listing, err := e.listings.GetListing(ctx, listingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, fmt.Errorf("listing %s: %w", listingID, err)
		}
		return false, fmt.Errorf("resolve listing %s: %w", listingID, err)
	}
	return listing.FreeShipping, nil
}

// archiveRaw stores the raw payload when a blob writer is configured. Upload
// failures only produce a warning.
func (e *Executor) archiveRaw(ctx context.Context, req *AttemptRequest, raw []byte) {
	if e.blobs == nil || len(raw) == 0 {
		return
	}
	path := fmt.Sprintf("raw-quotes/%s/%s/%s-%d.json",
		req.ListingID, req.Destination, time.Now().UTC().Format("20060102T150405.000"), req.Number)
	if err := e.blobs.Put(ctx, path, bytes.NewReader(raw), "application/json"); err != nil {
		e.logger.WarnContext(ctx, "raw quote archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
