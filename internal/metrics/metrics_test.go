package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/freightquote/internal/domain"
	"github.com/alanyoungcy/freightquote/internal/freight"
)

// scrape returns the exposition text served by c.Handler.
func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCollectorRecordsComputation(t *testing.T) {
	c := NewCollector()

	comp := c.Begin("MLB1", "01310100")
	comp.CacheLookup(domain.TierMemory, false)
	comp.CacheLookup(domain.TierHistory, true)
	comp.Attempt(domain.CallAttempt{Number: 1, Success: true, Duration: 120 * time.Millisecond})
	comp.Attempt(domain.CallAttempt{Number: 2, Success: false, Error: "boom"})
	comp.Consensus(domain.ConsensusResult{ReliabilityPercent: 66.7})
	comp.End(300 * time.Millisecond)

	body := scrape(t, c)
	assert.Contains(t, body, `freight_cache_lookups_total{result="miss",tier="memory"} 1`)
	assert.Contains(t, body, `freight_cache_lookups_total{result="hit",tier="history"} 1`)
	assert.Contains(t, body, `freight_quote_attempts_total{result="success"} 1`)
	assert.Contains(t, body, `freight_quote_attempts_total{result="failure"} 1`)
	assert.Contains(t, body, `freight_computations_total{result="consensus"} 1`)
	assert.Contains(t, body, "freight_consensus_reliability_percent_count 1")
}

func TestCollectorFailureLabels(t *testing.T) {
	c := NewCollector()

	c.Begin("MLB1", "01310100").Failed(fmt.Errorf("freight: %w", domain.ErrTimeout))
	c.Begin("MLB1", "01310100").Failed(fmt.Errorf("freight: %w", domain.ErrAllAttemptsFailed))
	c.Begin("MLB1", "01310100").Failed(fmt.Errorf("other"))

	body := scrape(t, c)
	assert.Contains(t, body, `freight_computations_total{result="timeout"} 1`)
	assert.Contains(t, body, `freight_computations_total{result="all_attempts_failed"} 1`)
	assert.Contains(t, body, `freight_computations_total{result="error"} 1`)
}

func TestHandlerExposesListenerStats(t *testing.T) {
	c := NewCollector()
	c.WatchListener(func() freight.ListenerStats {
		return freight.ListenerStats{Received: 7, Dropped: 2, Invalidated: 3}
	})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "freight_invalidation_received_total 7")
	assert.Contains(t, string(body), "freight_invalidation_dropped_total 2")
	assert.Contains(t, string(body), "freight_invalidation_records_total 3")
}

func TestInstrumentHandler(t *testing.T) {
	c := NewCollector()
	h := c.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, scrape(t, c), `freight_http_requests_total{code="418",method="get"} 1`)
}
