package freight

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

func newTestClassifier() *Classifier {
	return NewClassifier(ClassifierConfig{
		StandardMethodIDs: []string{"100009"},
		StandardKeywords:  []string{"Normal", "standard"},
	})
}

func TestClassify(t *testing.T) {
	c := newTestClassifier()

	tests := []struct {
		name   string
		raw    domain.RawQuoteOption
		free   bool
		payer  domain.Payer
		seller float64
		buyer  float64
		method string
	}{
		{
			name:   "reputation discount uses list cost",
			raw:    domain.RawQuoteOption{CustomerCost: 0, ListCost: ptr(23.50), Discount: &domain.Discount{Kind: "loyal"}},
			payer:  domain.PayerSeller,
			seller: 23.50,
			buyer:  0,
			method: "discount:list_cost",
		},
		{
			name:   "amount discount added to customer cost",
			raw:    domain.RawQuoteOption{CustomerCost: 10, Discount: &domain.Discount{Value: 5, Kind: domain.DiscountKindAmount}},
			payer:  domain.PayerSeller,
			seller: 15,
			buyer:  10,
			method: "discount:customer_plus_discount",
		},
		{
			name:   "rate discount converted against customer cost",
			raw:    domain.RawQuoteOption{CustomerCost: 15, Discount: &domain.Discount{Value: 0.5, Kind: domain.DiscountKindRate}},
			payer:  domain.PayerSeller,
			seller: 30,
			buyer:  15,
			method: "discount:customer_plus_discount",
		},
		{
			name:   "base cost above customer cost",
			raw:    domain.RawQuoteOption{CustomerCost: 20, BaseCost: ptr(30)},
			payer:  domain.PayerSeller,
			seller: 30,
			buyer:  20,
			method: "discount:base_cost",
		},
		{
			name:   "discount tag without costs falls to floor",
			raw:    domain.RawQuoteOption{CustomerCost: 0, Discount: &domain.Discount{Kind: "loyal"}},
			payer:  domain.PayerSeller,
			seller: 10,
			buyer:  0,
			method: "discount:floor",
		},
		{
			name:   "free shipping uses declared cost",
			raw:    domain.RawQuoteOption{CustomerCost: 0, SellerDeclaredCost: ptr(18)},
			free:   true,
			payer:  domain.PayerSeller,
			seller: 18,
			buyer:  0,
			method: "free_shipping:declared_cost",
		},
		{
			name:   "free shipping without costs falls to floor",
			raw:    domain.RawQuoteOption{CustomerCost: 0},
			free:   true,
			payer:  domain.PayerSeller,
			seller: 10,
			buyer:  0,
			method: "free_shipping:floor",
		},
		{
			name:   "free shipping flag with paid option is buyer paid",
			raw:    domain.RawQuoteOption{CustomerCost: 25},
			free:   true,
			payer:  domain.PayerBuyer,
			seller: 0,
			buyer:  25,
			method: "buyer_pays",
		},
		{
			name:   "plain paid option",
			raw:    domain.RawQuoteOption{CustomerCost: 31.9, BaseCost: ptr(31.9)},
			payer:  domain.PayerBuyer,
			seller: 0,
			buyer:  31.9,
			method: "buyer_pays",
		},
		{
			name:   "garbage customer cost is sanitised",
			raw:    domain.RawQuoteOption{CustomerCost: math.NaN(), ListCost: ptr(-4)},
			payer:  domain.PayerBuyer,
			seller: 0,
			buyer:  0,
			method: "buyer_pays",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.raw, tt.free)
			assert.Equal(t, tt.payer, got.Payer)
			assert.InDelta(t, tt.seller, got.SellerCost, 1e-9)
			assert.InDelta(t, tt.buyer, got.BuyerCost, 1e-9)
			assert.Equal(t, tt.method, got.ClassificationMethod)
			assert.True(t, IsValidOption(got))
		})
	}
}

func TestClassify_FloorUsesCustomerCostWhenHigher(t *testing.T) {
	c := NewClassifier(ClassifierConfig{FloorCost: 10})
	got := c.Classify(domain.RawQuoteOption{CustomerCost: 12, Discount: &domain.Discount{Kind: "loyal"}}, false)
	assert.Equal(t, "discount:floor", got.ClassificationMethod)
	assert.InDelta(t, 12, got.SellerCost, 1e-9)
}

func TestClassify_StandardService(t *testing.T) {
	c := newTestClassifier()

	assert.True(t, c.Classify(domain.RawQuoteOption{Name: "Normal a domicilio", CustomerCost: 20}, false).IsStandardService)
	assert.True(t, c.Classify(domain.RawQuoteOption{Name: "Correios", ShippingMethodID: "100009"}, false).IsStandardService)
	assert.False(t, c.Classify(domain.RawQuoteOption{Name: "Expresso", CustomerCost: 20}, false).IsStandardService)
}

func FuzzClassify(f *testing.F) {
	f.Add(0.0, 23.5, 0.0, 0.0, 0.0, "loyal", true, false, false, true, false)
	f.Add(19.9, 0.0, 0.0, 0.0, 5.0, "amount", false, false, false, true, true)
	f.Add(math.NaN(), math.Inf(1), math.Inf(-1), -3.0, 0.5, "rate", true, true, true, true, false)
	f.Add(-10.0, -1.0, math.NaN(), math.MaxFloat64, math.MaxFloat64, "amount", true, true, true, true, true)
	f.Add(math.MaxFloat64, 0.0, 0.0, 0.0, 0.999999, "rate", false, false, false, true, false)

	c := newTestClassifier()
	f.Fuzz(func(t *testing.T, customer, list, base, declared, discount float64, kind string,
		hasList, hasBase, hasDeclared, hasDiscount, free bool) {
		raw := domain.RawQuoteOption{Name: "Normal", CustomerCost: customer}
		if hasList {
			raw.ListCost = ptr(list)
		}
		if hasBase {
			raw.BaseCost = ptr(base)
		}
		if hasDeclared {
			raw.SellerDeclaredCost = ptr(declared)
		}
		if hasDiscount {
			raw.Discount = &domain.Discount{Value: discount, Kind: kind}
		}

		out := c.Classify(raw, free)
		for name, v := range map[string]float64{
			"seller":   out.SellerCost,
			"buyer":    out.BuyerCost,
			"customer": out.CustomerPrice,
		} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				t.Fatalf("%s cost %v for %+v", name, v, raw)
			}
		}
		if out.ClassificationMethod == "" {
			t.Fatalf("empty classification method for %+v", raw)
		}
		if out.Payer != domain.PayerSeller && out.Payer != domain.PayerBuyer {
			t.Fatalf("unexpected payer %q", out.Payer)
		}
		if !IsValidOption(out) {
			t.Fatalf("classifier produced an invalid option: %+v", out)
		}
	})
}
