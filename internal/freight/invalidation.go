package freight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// InvalidationChannel is the signal bus channel used to fan invalidations
// out to every instance.
const InvalidationChannel = "freight:invalidations"

// DefaultQueueSize bounds the local notification queue.
const DefaultQueueSize = 256

// DefaultShippingTopics are notification topics that always denote a
// shipping-relevant change.
var DefaultShippingTopics = []string{"items", "shipments", "items_prices", "marketplace_shipments"}

// DefaultShippingFields are attribute keys that mark a notification as
// shipping-relevant regardless of topic.
var DefaultShippingFields = []string{"shipping", "shipping_mode", "shipping_cost", "free_shipping", "logistic_type", "dimensions"}

// Invalidator marks a listing's persisted records stale.
type Invalidator interface {
	Invalidate(ctx context.Context, listingID string) (int64, error)
}

// ListenerConfig configures the InvalidationListener.
type ListenerConfig struct {
	QueueSize      int
	Topics         []string
	ShippingFields []string
}

// ListenerStats is a snapshot of listener counters.
type ListenerStats struct {
	Received    int64 `json:"received"`
	Ignored     int64 `json:"ignored"`
	Dropped     int64 `json:"dropped"`
	Invalidated int64 `json:"invalidated"`
	Failed      int64 `json:"failed"`
}

// InvalidationListener consumes change notifications and invalidates the
// persisted records of shipping-relevant listings. It is fire-and-forget:
// Submit never blocks and reads never wait for invalidation. Every relevant
// notification is applied, including redeliveries: a repeat may follow a
// recomputation that must itself be flipped.
type InvalidationListener struct {
	inv    Invalidator
	bus    domain.SignalBus
	queue  chan domain.ChangeNotification
	topics map[string]bool
	fields map[string]bool
	now    func() time.Time
	logger *slog.Logger

	received    atomic.Int64
	ignored     atomic.Int64
	dropped     atomic.Int64
	invalidated atomic.Int64
	failed      atomic.Int64
}

// NewInvalidationListener creates a listener. Empty topic or field lists
// fall back to the defaults.
func NewInvalidationListener(inv Invalidator, cfg ListenerConfig, logger *slog.Logger) *InvalidationListener {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = DefaultShippingTopics
	}
	if len(cfg.ShippingFields) == 0 {
		cfg.ShippingFields = DefaultShippingFields
	}
	return &InvalidationListener{
		inv:    inv,
		queue:  make(chan domain.ChangeNotification, cfg.QueueSize),
		topics: toSet(cfg.Topics),
		fields: toSet(cfg.ShippingFields),
		now:    time.Now,
		logger: logger.With(slog.String("component", "invalidation_listener")),
	}
}

// WithBus routes dispatched notifications through a signal bus so every
// instance sharing it observes them.
func (l *InvalidationListener) WithBus(bus domain.SignalBus) *InvalidationListener {
	l.bus = bus
	return l
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out[v] = true
		}
	}
	return out
}

type notificationWire struct {
	Topic      string          `json:"topic"`
	Resource   string          `json:"resource"`
	ListingID  string          `json:"listing_id"`
	ItemID     string          `json:"item_id"`
	UserID     json.RawMessage `json:"user_id"`
	Attributes map[string]any  `json:"attributes"`
}

// DecodeNotification parses a webhook body. The listing id comes from an
// explicit listing_id or item_id field, else from the segment following
// "items" in the resource path (e.g. "/items/MLB1/prices" yields MLB1).
func DecodeNotification(body []byte) (domain.ChangeNotification, error) {
	var w notificationWire
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return domain.ChangeNotification{}, fmt.Errorf("freight: decode notification: %w", err)
	}

	n := domain.ChangeNotification{
		Topic:      strings.ToLower(strings.TrimSpace(w.Topic)),
		Resource:   strings.TrimSpace(w.Resource),
		ListingID:  strings.TrimSpace(w.ListingID),
		UserID:     rawID(w.UserID),
		Attributes: w.Attributes,
	}
	if n.ListingID == "" {
		n.ListingID = strings.TrimSpace(w.ItemID)
	}
	if n.ListingID == "" {
		n.ListingID = listingFromResource(n.Resource)
	}
	if n.ListingID == "" {
		return domain.ChangeNotification{}, fmt.Errorf("freight: decode notification: %w: no listing in resource %q",
			domain.ErrInvalidListing, n.Resource)
	}
	return n, nil
}

func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err == nil {
			return strings.TrimSpace(str)
		}
		return ""
	}
	return s
}

func listingFromResource(resource string) string {
	parts := strings.Split(strings.Trim(resource, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "items" {
			return parts[i+1]
		}
	}
	return ""
}

// IsShippingRelevant reports whether n may have changed a listing's freight.
func (l *InvalidationListener) IsShippingRelevant(n domain.ChangeNotification) bool {
	if l.topics[strings.ToLower(n.Topic)] {
		return true
	}
	for k := range n.Attributes {
		if l.fields[strings.ToLower(k)] {
			return true
		}
	}
	return false
}

// Submit enqueues n for local processing. It never blocks; when the queue is
// full the notification is dropped and false is returned.
func (l *InvalidationListener) Submit(n domain.ChangeNotification) bool {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = l.now().UTC()
	}
	select {
	case l.queue <- n:
		return true
	default:
		l.dropped.Add(1)
		l.logger.Warn("invalidation queue full, dropping notification",
			slog.String("listing_id", n.ListingID),
			slog.String("topic", n.Topic),
		)
		return false
	}
}

// Dispatch publishes n on the signal bus when one is configured, falling back
// to the local queue when the bus is absent or the publish fails.
func (l *InvalidationListener) Dispatch(ctx context.Context, n domain.ChangeNotification) {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = l.now().UTC()
	}
	if l.bus != nil {
		payload, err := json.Marshal(n)
		if err == nil {
			err = l.bus.Publish(ctx, InvalidationChannel, payload)
		}
		if err == nil {
			return
		}
		l.logger.WarnContext(ctx, "invalidation publish failed, handling locally",
			slog.String("listing_id", n.ListingID),
			slog.String("error", err.Error()),
		)
	}
	l.Submit(n)
}

// Handle processes one notification synchronously. It returns the number of
// records invalidated; irrelevant notifications return zero.
func (l *InvalidationListener) Handle(ctx context.Context, n domain.ChangeNotification) (int64, error) {
	l.received.Add(1)
	if !l.IsShippingRelevant(n) {
		l.ignored.Add(1)
		return 0, nil
	}
	count, err := l.inv.Invalidate(ctx, n.ListingID)
	if err != nil {
		l.failed.Add(1)
		return 0, fmt.Errorf("freight: invalidate listing %s: %w", n.ListingID, err)
	}
	l.invalidated.Add(count)
	l.logger.InfoContext(ctx, "listing invalidated",
		slog.String("listing_id", n.ListingID),
		slog.String("topic", n.Topic),
		slog.Int64("records", count),
	)
	return count, nil
}

// Run drains the local queue and, when a bus is configured, the bus
// subscription until ctx is cancelled.
func (l *InvalidationListener) Run(ctx context.Context) error {
	var busCh <-chan []byte
	if l.bus != nil {
		ch, err := l.bus.Subscribe(ctx, InvalidationChannel)
		if err != nil {
			return fmt.Errorf("freight: subscribe %s: %w", InvalidationChannel, err)
		}
		busCh = ch
	}

	l.logger.InfoContext(ctx, "invalidation listener started", slog.Bool("bus", l.bus != nil))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("invalidation listener stopped")
			return nil
		case n := <-l.queue:
			l.process(ctx, n)
		case payload, ok := <-busCh:
			if !ok {
				busCh = nil
				continue
			}
			var n domain.ChangeNotification
			if err := json.Unmarshal(payload, &n); err != nil {
				l.logger.WarnContext(ctx, "invalid bus payload", slog.String("error", err.Error()))
				continue
			}
			l.process(ctx, n)
		}
	}
}

func (l *InvalidationListener) process(ctx context.Context, n domain.ChangeNotification) {
	if _, err := l.Handle(ctx, n); err != nil {
		l.logger.ErrorContext(ctx, "invalidation failed",
			slog.String("listing_id", n.ListingID),
			slog.String("error", err.Error()),
		)
	}
}

// Stats returns the listener counters.
func (l *InvalidationListener) Stats() ListenerStats {
	return ListenerStats{
		Received:    l.received.Load(),
		Ignored:     l.ignored.Load(),
		Dropped:     l.dropped.Load(),
		Invalidated: l.invalidated.Load(),
		Failed:      l.failed.Load(),
	}
}
