package freight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// Consensus defaults.
const (
	DefaultAttempts     = 3
	DefaultAttemptDelay = 300 * time.Millisecond
	DefaultTolerance    = 0.50
)

// tolerance slack absorbs float noise such as 10.30-9.80.
const toleranceEpsilon = 1e-9

// Attempter performs one quote attempt.
type Attempter interface {
	Execute(ctx context.Context, req *AttemptRequest, comp domain.Computation) domain.CallAttempt
}

// ResolverConfig controls the consensus loop. Tolerance is the absolute
// difference under which two results agree; zero means exact equality.
type ResolverConfig struct {
	Attempts  int
	Delay     time.Duration
	Tolerance float64
}

// Resolver runs redundant sequential quote attempts and reconciles them into
// one consensus value.
type Resolver struct {
	attempter Attempter
	cfg       ResolverConfig
	now       func() time.Time
}

// NewResolver creates a Resolver. Attempts <= 0 falls back to DefaultAttempts
// and negative delay or tolerance to zero.
func NewResolver(attempter Attempter, cfg ResolverConfig) *Resolver {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	return &Resolver{attempter: attempter, cfg: cfg, now: time.Now}
}

// group is a set of successful attempts that agree with rep.
type group struct {
	rep     domain.ProcessedOption
	members int
}

// Resolve runs the attempts for (listingID, destination) and returns the
// consensus. Attempts run one at a time with the configured delay between
// them. It returns domain.ErrAllAttemptsFailed when no attempt succeeded and
// domain.ErrTimeout when the context deadline expires first.
func (r *Resolver) Resolve(ctx context.Context, listingID, destination string, comp domain.Computation) (domain.ConsensusResult, error) {
	req := &AttemptRequest{ListingID: listingID, Destination: destination}
	attempts := make([]domain.CallAttempt, 0, r.cfg.Attempts)

	for i := 1; i <= r.cfg.Attempts; i++ {
		if i > 1 {
			if err := sleep(ctx, r.cfg.Delay); err != nil {
				return domain.ConsensusResult{}, contextError(err, attempts)
			}
		}
		req.Number = i
		a := r.attempter.Execute(ctx, req, comp)
		comp.Attempt(a)
		attempts = append(attempts, a)

		if err := ctx.Err(); err != nil {
			return domain.ConsensusResult{}, contextError(err, attempts)
		}
	}

	return r.reconcile(listingID, destination, attempts)
}

func (r *Resolver) reconcile(listingID, destination string, attempts []domain.CallAttempt) (domain.ConsensusResult, error) {
	var groups []group
	successes := 0
	for _, a := range attempts {
		if !a.Success || a.Option == nil {
			continue
		}
		successes++
		joined := false
		for gi := range groups {
			if r.agree(groups[gi].rep, *a.Option) {
				groups[gi].members++
				joined = true
				break
			}
		}
		if !joined {
			groups = append(groups, group{rep: *a.Option, members: 1})
		}
	}

	if successes == 0 {
		return domain.ConsensusResult{}, fmt.Errorf("freight: %w (%d attempts): %s",
			domain.ErrAllAttemptsFailed, len(attempts), lastError(attempts))
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if g.members > best.members {
			best = g
		}
	}

	return domain.ConsensusResult{
		ListingID:          listingID,
		Destination:        destination,
		SellerCost:         best.rep.SellerCost,
		CustomerCost:       best.rep.CustomerPrice,
		Method:             best.rep.Method,
		ReliabilityPercent: Reliability(best.members, successes),
		SuccessfulAttempts: successes,
		AgreeingAttempts:   best.members,
		Attempts:           attempts,
		CalculatedAt:       r.now().UTC(),
		Source:             domain.SourceComputed,
	}, nil
}

func (r *Resolver) agree(a, b domain.ProcessedOption) bool {
	tol := r.cfg.Tolerance + toleranceEpsilon
	if r.cfg.Tolerance == 0 {
		return a.SellerCost == b.SellerCost && a.CustomerPrice == b.CustomerPrice
	}
	return math.Abs(a.SellerCost-b.SellerCost) <= tol &&
		math.Abs(a.CustomerPrice-b.CustomerPrice) <= tol
}

// Reliability returns agreeing/successful as a percentage rounded to one
// decimal place.
func Reliability(agreeing, successful int) float64 {
	if successful <= 0 {
		return 0
	}
	pct := float64(agreeing) / float64(successful) * 100
	return math.Round(pct*10) / 10
}

func lastError(attempts []domain.CallAttempt) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Error != "" {
			return attempts[i].Error
		}
	}
	return "no options returned"
}

func contextError(err error, attempts []domain.CallAttempt) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("freight: %w after %d attempts", domain.ErrTimeout, len(attempts))
	}
	return fmt.Errorf("freight: consensus aborted after %d attempts: %w", len(attempts), err)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
