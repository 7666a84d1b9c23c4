package freight

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

func TestExecute_Success(t *testing.T) {
	quotes := &fakeQuotes{replies: []quoteReply{{opts: []domain.RawQuoteOption{
		{Name: "Expresso", CustomerCost: 0, ListCost: ptr(40), Discount: &domain.Discount{Kind: "loyal"}},
		{Name: "Normal", CustomerCost: 0, ListCost: ptr(23.5), Discount: &domain.Discount{Kind: "loyal"}},
	}}}}
	obs := &recordingObserver{}
	e := NewExecutor(quotes, &fakeListings{}, newTestClassifier(), discardLogger())

	req := &AttemptRequest{ListingID: "MLB1", Destination: "01310100", Number: 1}
	a := e.Execute(context.Background(), req, obs.Begin("MLB1", "01310100"))

	require.True(t, a.Success)
	require.NotNil(t, a.Option)
	assert.Equal(t, "Normal", a.Option.Method)
	assert.Equal(t, 23.5, a.Option.SellerCost)
	assert.Equal(t, 1, a.Number)
	assert.Equal(t, 2, obs.classified)
}

func TestExecute_FreeShippingResolvedOnce(t *testing.T) {
	quotes := &fakeQuotes{replies: []quoteReply{{opts: []domain.RawQuoteOption{
		{Name: "Normal", CustomerCost: 0, SellerDeclaredCost: ptr(19.9)},
	}}}}
	listings := &fakeListings{free: true}
	e := NewExecutor(quotes, listings, newTestClassifier(), discardLogger())

	req := &AttemptRequest{ListingID: "MLB1", Destination: "01310100"}
	for i := 1; i <= 3; i++ {
		req.Number = i
		a := e.Execute(context.Background(), req, NopObserver{}.Begin("", ""))
		require.True(t, a.Success)
		assert.Equal(t, "free_shipping:declared_cost", a.Option.ClassificationMethod)
	}
	assert.Equal(t, 1, listings.calls)
	assert.Equal(t, 3, quotes.Calls())
}

func TestExecute_FailuresAreCaptured(t *testing.T) {
	tests := []struct {
		name     string
		quotes   *fakeQuotes
		listings *fakeListings
		want     string
	}{
		{
			name:     "transport error",
			quotes:   &fakeQuotes{replies: []quoteReply{{err: errors.New("connection reset")}}},
			listings: &fakeListings{},
			want:     "connection reset",
		},
		{
			name:     "no options",
			quotes:   &fakeQuotes{replies: []quoteReply{{}}},
			listings: &fakeListings{},
			want:     domain.ErrNoValidOption.Error(),
		},
		{
			name:     "listing lookup fails",
			quotes:   &fakeQuotes{replies: []quoteReply{{}}},
			listings: &fakeListings{err: domain.ErrNotFound},
			want:     "listing MLB1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(tt.quotes, tt.listings, newTestClassifier(), discardLogger())
			a := e.Execute(context.Background(), &AttemptRequest{ListingID: "MLB1", Destination: "01310100", Number: 2}, NopObserver{}.Begin("", ""))
			assert.False(t, a.Success)
			assert.Nil(t, a.Option)
			assert.Equal(t, 2, a.Number)
			assert.Contains(t, a.Error, tt.want)
		})
	}
}

func TestExecute_ArchivesRawPayload(t *testing.T) {
	quotes := &fakeQuotes{replies: []quoteReply{{opts: []domain.RawQuoteOption{{Name: "Normal", CustomerCost: 20}}}}}
	blobs := &fakeBlobs{err: errors.New("bucket gone")}
	e := NewExecutor(quotes, nil, newTestClassifier(), discardLogger()).WithRawBlobs(blobs)

	a := e.Execute(context.Background(), &AttemptRequest{ListingID: "MLB1", Destination: "01310100", Number: 3}, NopObserver{}.Begin("", ""))
	require.True(t, a.Success)
	require.Len(t, blobs.paths, 1)
	assert.Contains(t, blobs.paths[0], "raw-quotes/MLB1/01310100/")
	assert.Contains(t, blobs.paths[0], "-3.json")
}
