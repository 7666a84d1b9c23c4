package marketplace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

const shippingOptionsBody = `{
  "options": [
    {
      "name": "Normal",
      "shipping_method_id": 100009,
      "carrier_id": "17500240",
      "cost": 0,
      "list_cost": 23.5,
      "base_cost": 23.5,
      "discount": {"rate": 1, "type": "loyal", "promoted_amount": 23.5},
      "estimated_delivery_time": {"date": "2026-03-05T00:00:00.000-03:00"}
    },
    {
      "name": "Expresso",
      "shipping_method_id": "182",
      "cost": 41.9,
      "seller_cost": null,
      "discount": null
    }
  ]
}`

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", AccessToken: "tok", RequestsPerSecond: 1000, Timeout: 2 * time.Second})
}

func TestQuote(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/MLB1/shipping_options", r.URL.Path)
		assert.Equal(t, "01310100", r.URL.Query().Get("zip_code"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(shippingOptionsBody))
	})

	resp, err := c.Quote(context.Background(), "MLB1", "01310100")
	require.NoError(t, err)
	require.Len(t, resp.Options, 2)
	assert.NotEmpty(t, resp.Raw)

	normal := resp.Options[0]
	assert.Equal(t, "Normal", normal.Name)
	assert.Equal(t, "100009", normal.ShippingMethodID)
	assert.Equal(t, "17500240", normal.CarrierID)
	assert.Equal(t, 0.0, normal.CustomerCost)
	require.NotNil(t, normal.ListCost)
	assert.Equal(t, 23.5, *normal.ListCost)
	require.NotNil(t, normal.Discount)
	assert.Equal(t, domain.Discount{Value: 23.5, Kind: domain.DiscountKindAmount}, *normal.Discount)
	assert.Equal(t, 2026, normal.EstimatedDelivery.Year())

	express := resp.Options[1]
	assert.Equal(t, "182", express.ShippingMethodID)
	assert.Nil(t, express.SellerDeclaredCost)
	assert.Nil(t, express.Discount)
	assert.True(t, express.EstimatedDelivery.IsZero())
}

func TestGetListing(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/MLB1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"MLB1","title":"Cadeira","shipping":{"free_shipping":true,"mode":"me2"}}`))
	})

	l, err := c.GetListing(context.Background(), "MLB1")
	require.NoError(t, err)
	assert.Equal(t, domain.Listing{ID: "MLB1", Title: "Cadeira", FreeShipping: true, ShippingMode: "me2"}, l)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusNotFound, `{"message":"item not found"}`, domain.ErrNotFound},
		{http.StatusUnauthorized, `{"message":"invalid token"}`, domain.ErrUnauthorized},
		{http.StatusTooManyRequests, `{}`, domain.ErrRateLimited},
		{http.StatusTooManyRequests, `{}`, domain.ErrTransport},
		{http.StatusBadGateway, `upstream`, domain.ErrTransport},
		{http.StatusBadRequest, `{"message":"invalid zip_code"}`, domain.ErrInvalidDestination},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Quote(context.Background(), "MLB1", "01310100")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestQuote_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := New(Config{BaseURL: srv.URL, RequestsPerSecond: 1000})
	_, err := c.Quote(context.Background(), "MLB1", "01310100")
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestQuote_DecodeError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"options": "nope"}`))
	})
	_, err := c.Quote(context.Background(), "MLB1", "01310100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode shipping options")
}

func TestQuote_ContextCancelled(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"options":[]}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Quote(ctx, "MLB1", "01310100")
	assert.ErrorIs(t, err, context.Canceled)
}
