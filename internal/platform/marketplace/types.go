package marketplace

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// flexString accepts JSON strings and numbers; the API is inconsistent about
// identifier types.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// APIShippingOptions is the body of GET /items/{id}/shipping_options.
type APIShippingOptions struct {
	Options []APIShippingOption `json:"options"`
}

// APIShippingOption is one option of a shipping options response.
type APIShippingOption struct {
	Name              string       `json:"name"`
	ShippingMethodID  flexString   `json:"shipping_method_id"`
	CarrierID         flexString   `json:"carrier_id"`
	Cost              float64      `json:"cost"`
	BaseCost          *float64     `json:"base_cost"`
	ListCost          *float64     `json:"list_cost"`
	SellerCost        *float64     `json:"seller_cost"`
	Discount          *APIDiscount `json:"discount"`
	EstimatedDelivery struct {
		Date string `json:"date"`
	} `json:"estimated_delivery_time"`
}

// APIDiscount is the discount block of an option. Rate is a fraction of the
// full cost; PromotedAmount is absolute.
type APIDiscount struct {
	Rate           float64 `json:"rate"`
	Type           string  `json:"type"`
	PromotedAmount float64 `json:"promoted_amount"`
}

// APIItem is the subset of GET /items/{id} the engine reads.
type APIItem struct {
	ID       flexString `json:"id"`
	Title    string     `json:"title"`
	Shipping struct {
		FreeShipping bool   `json:"free_shipping"`
		Mode         string `json:"mode"`
		LogisticType string `json:"logistic_type"`
	} `json:"shipping"`
}

// ToDomain converts the wire option to a domain.RawQuoteOption.
func (o APIShippingOption) ToDomain() domain.RawQuoteOption {
	raw := domain.RawQuoteOption{
		Name:               strings.TrimSpace(o.Name),
		CarrierID:          string(o.CarrierID),
		ShippingMethodID:   string(o.ShippingMethodID),
		CustomerCost:       o.Cost,
		BaseCost:           o.BaseCost,
		ListCost:           o.ListCost,
		SellerDeclaredCost: o.SellerCost,
		Discount:           o.Discount.toDomain(),
	}
	if o.EstimatedDelivery.Date != "" {
		if t, err := parseAPITime(o.EstimatedDelivery.Date); err == nil {
			raw.EstimatedDelivery = t
		}
	}
	return raw
}

func (d *APIDiscount) toDomain() *domain.Discount {
	if d == nil {
		return nil
	}
	switch {
	case d.PromotedAmount > 0:
		return &domain.Discount{Value: d.PromotedAmount, Kind: domain.DiscountKindAmount}
	case d.Rate > 0:
		return &domain.Discount{Value: d.Rate, Kind: domain.DiscountKindRate}
	case strings.TrimSpace(d.Type) != "":
		return &domain.Discount{Kind: strings.TrimSpace(d.Type)}
	default:
		return nil
	}
}

// ToDomain converts the wire item to a domain.Listing.
func (i APIItem) ToDomain() domain.Listing {
	return domain.Listing{
		ID:           string(i.ID),
		Title:        i.Title,
		FreeShipping: i.Shipping.FreeShipping,
		ShippingMode: i.Shipping.Mode,
	}
}

func parseAPITime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Parse(time.RFC3339, s)
}
