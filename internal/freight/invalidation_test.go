package freight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []string
	n     int64
	err   error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, listingID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, listingID)
	return f.n, f.err
}

func (f *fakeInvalidator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// memBus is an in-process SignalBus.
type memBus struct {
	mu   sync.Mutex
	subs []chan []byte
	pubs int
	err  error
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.pubs++
	for _, s := range b.subs {
		s <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs = append(b.subs, ch)
	return ch, nil
}

func (b *memBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		listing string
		user    string
		topic   string
	}{
		{
			name:    "resource path with numeric user",
			body:    `{"resource":"/items/MLB1","topic":"items","user_id":123456}`,
			listing: "MLB1",
			user:    "123456",
			topic:   "items",
		},
		{
			name:    "nested resource with string user",
			body:    `{"resource":"/items/MLB9/prices","topic":"Items_Prices","user_id":"77"}`,
			listing: "MLB9",
			user:    "77",
			topic:   "items_prices",
		},
		{
			name:    "explicit item id wins",
			body:    `{"resource":"/shipments/4455","topic":"shipments","item_id":"MLB3"}`,
			listing: "MLB3",
			topic:   "shipments",
		},
		{
			name:    "explicit listing id",
			body:    `{"listing_id":"MLB4","topic":"questions","user_id":null}`,
			listing: "MLB4",
			topic:   "questions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := DecodeNotification([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.listing, n.ListingID)
			assert.Equal(t, tt.user, n.UserID)
			assert.Equal(t, tt.topic, n.Topic)
		})
	}
}

func TestDecodeNotification_Errors(t *testing.T) {
	_, err := DecodeNotification([]byte(`{"resource":"/shipments/4455","topic":"shipments"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidListing)

	_, err = DecodeNotification([]byte(`{not json`))
	assert.Error(t, err)
}

func TestIsShippingRelevant(t *testing.T) {
	l := NewInvalidationListener(&fakeInvalidator{}, ListenerConfig{}, discardLogger())

	assert.True(t, l.IsShippingRelevant(domain.ChangeNotification{Topic: "items", ListingID: "MLB1"}))
	assert.True(t, l.IsShippingRelevant(domain.ChangeNotification{Topic: "marketplace_shipments"}))
	assert.True(t, l.IsShippingRelevant(domain.ChangeNotification{
		Topic:      "questions",
		Attributes: map[string]any{"Shipping_Mode": "me2"},
	}))
	assert.False(t, l.IsShippingRelevant(domain.ChangeNotification{
		Topic:      "questions",
		Attributes: map[string]any{"text": "is it available?"},
	}))
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	inv := &fakeInvalidator{n: 2}
	l := NewInvalidationListener(inv, ListenerConfig{}, discardLogger())

	n, err := l.Handle(ctx, domain.ChangeNotification{Topic: "items", Resource: "/items/MLB1", ListingID: "MLB1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// Redeliveries are applied again.
	n, err = l.Handle(ctx, domain.ChangeNotification{Topic: "items", Resource: "/items/MLB1", ListingID: "MLB1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = l.Handle(ctx, domain.ChangeNotification{Topic: "questions", ListingID: "MLB2"})
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []string{"MLB1", "MLB1"}, inv.Calls())
	stats := l.Stats()
	assert.EqualValues(t, 3, stats.Received)
	assert.EqualValues(t, 1, stats.Ignored)
	assert.EqualValues(t, 4, stats.Invalidated)
}

func TestHandle_InvalidatorError(t *testing.T) {
	inv := &fakeInvalidator{err: errors.New("db down")}
	l := NewInvalidationListener(inv, ListenerConfig{}, discardLogger())

	_, err := l.Handle(context.Background(), domain.ChangeNotification{Topic: "items", ListingID: "MLB1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.EqualValues(t, 1, l.Stats().Failed)
}

func TestHandle_RedeliveryAfterFailureInvalidates(t *testing.T) {
	ctx := context.Background()
	inv := &fakeInvalidator{n: 1, err: errors.New("db down")}
	l := NewInvalidationListener(inv, ListenerConfig{}, discardLogger())
	n := domain.ChangeNotification{Topic: "items", Resource: "/items/MLB1", ListingID: "MLB1"}

	_, err := l.Handle(ctx, n)
	require.Error(t, err)

	inv.mu.Lock()
	inv.err = nil
	inv.mu.Unlock()

	count, err := l.Handle(ctx, n)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Len(t, inv.Calls(), 2)
}

func TestHandle_RepeatedChangeFlipsRecomputedRecord(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(sellerPaid(23.5), sellerPaid(23.5), sellerPaid(23.5), sellerPaid(30))
	l := NewInvalidationListener(f.engine, ListenerConfig{}, discardLogger())
	change := domain.ChangeNotification{Topic: "items", Resource: "/items/MLB1", ListingID: "MLB1"}

	_, err := f.engine.GetFreightCost(ctx, "MLB1", "01310100", false)
	require.NoError(t, err)

	n, err := l.Handle(ctx, change)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Tier 1 is cleared too so the read reaches the quote API again.
	_, err = f.engine.ClearCache(ctx, "MLB1")
	require.NoError(t, err)
	res, err := f.engine.GetFreightCost(ctx, "MLB1", "01310100", false)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceComputed, res.Source)
	assert.Equal(t, 30.0, res.SellerCost)

	n, err = l.Handle(ctx, change)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.history.GetCurrent(ctx, "42", "MLB1", "01310100")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	recs, err := f.history.ListByListing(ctx, "MLB1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.False(t, r.IsCurrent)
		assert.NotNil(t, r.InvalidatedAt)
	}
}

func TestSubmit_DropsWhenFull(t *testing.T) {
	l := NewInvalidationListener(&fakeInvalidator{}, ListenerConfig{QueueSize: 1}, discardLogger())

	assert.True(t, l.Submit(domain.ChangeNotification{Topic: "items", ListingID: "MLB1"}))
	assert.False(t, l.Submit(domain.ChangeNotification{Topic: "items", ListingID: "MLB2"}))
	assert.EqualValues(t, 1, l.Stats().Dropped)
}

func TestRun_DrainsQueue(t *testing.T) {
	inv := &fakeInvalidator{n: 1}
	l := NewInvalidationListener(inv, ListenerConfig{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	l.Dispatch(ctx, domain.ChangeNotification{Topic: "items", ListingID: "MLB1"})
	assert.Eventually(t, func() bool { return len(inv.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_ConsumesBus(t *testing.T) {
	inv := &fakeInvalidator{n: 1}
	bus := &memBus{}
	l := NewInvalidationListener(inv, ListenerConfig{}, discardLogger()).WithBus(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	l.Dispatch(ctx, domain.ChangeNotification{Topic: "shipments", ListingID: "MLB7"})
	assert.Eventually(t, func() bool { return len(inv.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, bus.pubs)

	cancel()
	require.NoError(t, <-done)
}

func TestDispatch_FallsBackWhenPublishFails(t *testing.T) {
	bus := &memBus{err: errors.New("redis down")}
	l := NewInvalidationListener(&fakeInvalidator{}, ListenerConfig{QueueSize: 4}, discardLogger()).WithBus(bus)

	l.Dispatch(context.Background(), domain.ChangeNotification{Topic: "items", ListingID: "MLB1"})
	assert.Len(t, l.queue, 1)
}
