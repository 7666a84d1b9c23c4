package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// Alerting defaults.
const (
	DefaultMinReliability = 50.0
	defaultAlertQueue     = 64
	cooldownSweepInterval = time.Minute
)

type alert struct {
	key     string
	event   string
	title   string
	message string
}

// AlertObserver turns failed computations and low-reliability consensus
// values into notifications. Delivery happens on the Run goroutine so the
// freight request path never waits on a chat API.
type AlertObserver struct {
	notifier       *Notifier
	minReliability float64
	queue          chan alert
	cooldown       *Cooldown
	logger         *slog.Logger
}

// NewAlertObserver creates an AlertObserver. minReliability <= 0 falls back
// to DefaultMinReliability.
func NewAlertObserver(n *Notifier, minReliability float64, logger *slog.Logger) *AlertObserver {
	if minReliability <= 0 {
		minReliability = DefaultMinReliability
	}
	return &AlertObserver{
		notifier:       n,
		minReliability: minReliability,
		queue:          make(chan alert, defaultAlertQueue),
		logger:         logger.With(slog.String("component", "alert_observer")),
	}
}

// WithCooldown suppresses repeats of the same event for the same listing and
// destination within window.
func (o *AlertObserver) WithCooldown(window time.Duration) *AlertObserver {
	if window > 0 {
		o.cooldown = NewCooldown(window)
	}
	return o
}

// Begin implements domain.Observer.
func (o *AlertObserver) Begin(listingID, destination string) domain.Computation {
	return &alertComputation{o: o, listingID: listingID, destination: destination}
}

// Run delivers queued alerts until ctx is cancelled, then flushes whatever
// is still queued.
func (o *AlertObserver) Run(ctx context.Context) error {
	sweep := time.NewTicker(cooldownSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			o.flush(context.WithoutCancel(ctx))
			return nil
		case a := <-o.queue:
			o.send(ctx, a)
		case <-sweep.C:
			if o.cooldown != nil {
				o.cooldown.Sweep()
			}
		}
	}
}

func (o *AlertObserver) flush(ctx context.Context) {
	for {
		select {
		case a := <-o.queue:
			o.send(ctx, a)
		default:
			return
		}
	}
}

func (o *AlertObserver) send(ctx context.Context, a alert) {
	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()
	_ = o.notifier.Notify(sendCtx, a.event, a.title, a.message)
}

func (o *AlertObserver) enqueue(a alert) {
	if !o.notifier.Enabled() || !o.notifier.Allows(a.event) {
		return
	}
	if o.cooldown != nil && !o.cooldown.Allow(a.key) {
		return
	}
	select {
	case o.queue <- a:
	default:
		o.logger.Warn("alert queue full, dropping alert", slog.String("event", a.event))
	}
}

type alertComputation struct {
	o           *AlertObserver
	listingID   string
	destination string
}

func (c *alertComputation) CacheLookup(string, bool)          {}
func (c *alertComputation) Classified(domain.ProcessedOption) {}
func (c *alertComputation) Attempt(domain.CallAttempt)        {}
func (c *alertComputation) End(time.Duration)                 {}

func (c *alertComputation) Consensus(res domain.ConsensusResult) {
	if res.ReliabilityPercent >= c.o.minReliability {
		return
	}
	c.o.enqueue(alert{
		key:   c.key(EventLowReliability),
		event: EventLowReliability,
		title: "Low freight reliability",
		message: fmt.Sprintf("listing %s to %s: %.1f%% (%d of %d attempts agree), seller cost %.2f",
			c.listingID, c.destination, res.ReliabilityPercent,
			res.AgreeingAttempts, res.SuccessfulAttempts, res.SellerCost),
	})
}

func (c *alertComputation) Failed(err error) {
	c.o.enqueue(alert{
		key:     c.key(EventComputationFailed),
		event:   EventComputationFailed,
		title:   "Freight computation failed",
		message: fmt.Sprintf("listing %s to %s: %v", c.listingID, c.destination, err),
	})
}

func (c *alertComputation) key(event string) string {
	return event + "|" + c.listingID + "|" + c.destination
}
