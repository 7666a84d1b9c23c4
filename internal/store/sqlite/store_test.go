package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "freight.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func rec(id, listing, dest string, at time.Time, seller float64) domain.FreightHistoryRecord {
	return domain.FreightHistoryRecord{
		ID:                 id,
		UserID:             "42",
		ListingID:          listing,
		Destination:        dest,
		SellerCost:         seller,
		Method:             "Normal",
		ReliabilityPercent: 100,
		CalculatedAt:       at,
	}
}

func TestHistoryStore_InsertAndGetCurrent(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t).History()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, h.Insert(ctx, rec("r1", "MLB1", "01310100", t0, 20)))
	require.NoError(t, h.Insert(ctx, rec("r2", "MLB1", "01310100", t0.Add(time.Minute), 23.5)))

	cur, err := h.GetCurrent(ctx, "42", "MLB1", "01310100")
	require.NoError(t, err)
	assert.Equal(t, "r2", cur.ID)
	assert.Equal(t, 23.5, cur.SellerCost)
	assert.True(t, cur.IsCurrent)
	assert.True(t, cur.CalculatedAt.Equal(t0.Add(time.Minute)))
	assert.Nil(t, cur.InvalidatedAt)

	_, err = h.GetCurrent(ctx, "42", "MLB1", "20040020")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistoryStore_AttemptLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t).History()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	r := rec("r1", "MLB1", "01310100", t0, 23.5)
	r.SuccessfulAttempts = 2
	r.AgreeingAttempts = 2
	r.Attempts = []domain.CallAttempt{
		{Number: 1, Success: true, Option: &domain.ProcessedOption{SellerCost: 23.5, Payer: domain.PayerSeller}, Duration: time.Second},
		{Number: 2, Error: "timeout"},
		{Number: 3, Success: true, Option: &domain.ProcessedOption{SellerCost: 23.5, Payer: domain.PayerSeller}},
	}
	require.NoError(t, h.Insert(ctx, r))

	cur, err := h.GetCurrent(ctx, "42", "MLB1", "01310100")
	require.NoError(t, err)
	assert.Equal(t, 2, cur.SuccessfulAttempts)
	assert.Equal(t, 2, cur.AgreeingAttempts)
	assert.Equal(t, r.Attempts, cur.Attempts)
}

func TestHistoryStore_ConcurrentInsertsKeepOneCurrent(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t).History()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- h.Insert(ctx, rec(fmt.Sprintf("r%d", i), "MLB1", "01310100", t0, float64(20+i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	recs, err := h.ListByListing(ctx, "MLB1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, writers)
	current := 0
	for _, r := range recs {
		if r.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)
}

func TestHistoryStore_InvalidateListing(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t).History()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, h.Insert(ctx, rec("r1", "MLB1", "01310100", t0, 20)))
	require.NoError(t, h.Insert(ctx, rec("r2", "MLB1", "20040020", t0, 21)))
	require.NoError(t, h.Insert(ctx, rec("r3", "MLB2", "01310100", t0, 22)))

	n, err := h.InvalidateListing(ctx, "MLB1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = h.GetCurrent(ctx, "42", "MLB1", "01310100")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.GetCurrent(ctx, "42", "MLB2", "01310100")
	assert.NoError(t, err)

	recs, err := h.ListByListing(ctx, "MLB1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.False(t, r.IsCurrent)
		require.NotNil(t, r.InvalidatedAt)
		assert.True(t, r.InvalidatedAt.Equal(t0.Add(time.Hour)))
	}

	// A recompute after invalidation becomes the only current record.
	require.NoError(t, h.Insert(ctx, rec("r4", "MLB1", "01310100", t0.Add(2*time.Hour), 25)))
	cur, err := h.GetCurrent(ctx, "42", "MLB1", "01310100")
	require.NoError(t, err)
	assert.Equal(t, "r4", cur.ID)
}

func TestHistoryStore_ListPaging(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t).History()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.Insert(ctx, rec(id, "MLB1", "01310100", t0.Add(time.Duration(i)*time.Minute), 20)))
	}

	recs, err := h.ListByListing(ctx, "MLB1", domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)

	recs, err = h.ListByListing(ctx, "MLB1", domain.ListOpts{Offset: 2})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)

	since := t0.Add(time.Minute)
	recs, err = h.ListByListing(ctx, "MLB1", domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t).Audit()

	require.NoError(t, a.Log(ctx, "freight_consensus", map[string]any{"listing_id": "MLB1", "seller_cost": 23.5}))
	require.NoError(t, a.Log(ctx, "freight_consensus_failed", map[string]any{"listing_id": "MLB2"}))

	entries, err := a.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "freight_consensus_failed", entries[0].Event)
	assert.Equal(t, 23.5, entries[1].Detail["seller_cost"])
}
