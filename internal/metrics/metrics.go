// Package metrics exposes freight engine telemetry to Prometheus. Collector
// implements domain.Observer so it can sit next to the log observer.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/freightquote/internal/domain"
	"github.com/alanyoungcy/freightquote/internal/freight"
)

const namespace = "freight"

// Collector owns a private registry and the freight metrics registered on it.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups  *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	computations  *prometheus.CounterVec
	reliability   prometheus.Histogram
	duration      prometheus.Histogram
	attemptTime   prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpLatencies *prometheus.HistogramVec
}

// NewCollector creates a Collector with Go runtime and process collectors
// already registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and outcome.",
		}, []string{"tier", "result"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_attempts_total",
			Help:      "Quote attempts by outcome.",
		}, []string{"result"}),
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computations_total",
			Help:      "Consensus computations by outcome.",
		}, []string{"result"}),
		reliability: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consensus_reliability_percent",
			Help:      "Reliability of reached consensus values.",
			Buckets:   []float64{25, 34, 50, 67, 75, 90, 100},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end freight lookup latency, cache hits included.",
			Buckets:   prometheus.DefBuckets,
		}),
		attemptTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_attempt_duration_seconds",
			Help:      "Latency of individual quote attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpLatencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.cacheLookups,
		c.attempts,
		c.computations,
		c.reliability,
		c.duration,
		c.attemptTime,
		c.httpRequests,
		c.httpLatencies,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// InstrumentHandler counts and times requests served by next.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(c.httpLatencies,
		promhttp.InstrumentHandlerCounter(c.httpRequests, next))
}

// WatchListener exposes the invalidation listener counters. stats is read
// on every scrape.
func (c *Collector) WatchListener(stats func() freight.ListenerStats) {
	counter := func(name, help string, pick func(freight.ListenerStats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invalidation",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) })
	}
	c.registry.MustRegister(
		counter("received_total", "Notifications handled.", func(s freight.ListenerStats) int64 { return s.Received }),
		counter("ignored_total", "Notifications not relevant to shipping.", func(s freight.ListenerStats) int64 { return s.Ignored }),
		counter("dropped_total", "Notifications dropped on a full queue.", func(s freight.ListenerStats) int64 { return s.Dropped }),
		counter("records_total", "History records invalidated.", func(s freight.ListenerStats) int64 { return s.Invalidated }),
		counter("failed_total", "Invalidations that returned an error.", func(s freight.ListenerStats) int64 { return s.Failed }),
	)
}

// Begin implements domain.Observer.
func (c *Collector) Begin(string, string) domain.Computation {
	return &computation{c: c}
}

type computation struct {
	c *Collector
}

func (m *computation) CacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.c.cacheLookups.WithLabelValues(tier, result).Inc()
}

func (m *computation) Classified(domain.ProcessedOption) {}

func (m *computation) Attempt(a domain.CallAttempt) {
	result := "success"
	if !a.Success {
		result = "failure"
	}
	m.c.attempts.WithLabelValues(result).Inc()
	m.c.attemptTime.Observe(a.Duration.Seconds())
}

func (m *computation) Consensus(res domain.ConsensusResult) {
	m.c.computations.WithLabelValues("consensus").Inc()
	m.c.reliability.Observe(res.ReliabilityPercent)
}

func (m *computation) Failed(err error) {
	m.c.computations.WithLabelValues(failureLabel(err)).Inc()
}

func (m *computation) End(elapsed time.Duration) {
	m.c.duration.Observe(elapsed.Seconds())
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrAllAttemptsFailed):
		return "all_attempts_failed"
	default:
		return "error"
	}
}
