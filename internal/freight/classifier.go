// Package freight implements the freight cost consensus engine: payer
// classification of raw quote options, best-option selection, redundant quote
// calls reconciled into a consensus value, the two-tier cache and the
// invalidation listener.
package freight

import (
	"math"
	"strings"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// DefaultFloorCost is the minimum seller cost assumed when the provider
// signals that the seller absorbs shipping but reports no usable cost.
const DefaultFloorCost = 10.0

// ClassifierConfig tunes the classifier heuristics.
type ClassifierConfig struct {
	FloorCost         float64
	StandardMethodIDs []string
	StandardKeywords  []string
}

// Classifier maps raw quote options to processed options, deciding who pays
// for shipping. It is safe for concurrent use.
type Classifier struct {
	floor       float64
	standardIDs map[string]bool
	keywords    []string
	rules       []rule
}

// classifyInput is a sanitised view of one raw option. Absent or invalid
// optional costs are zero with their has* flag unset.
type classifyInput struct {
	customer     float64
	base         float64
	list         float64
	declared     float64
	hasBase      bool
	hasList      bool
	hasDeclared  bool
	discount     domain.Discount
	hasDiscount  bool
	freeShipping bool
}

// costSource yields a candidate seller cost when ok is true.
type costSource struct {
	name    string
	resolve func(in classifyInput) (cost float64, ok bool)
}

// rule is one entry of the classification table. Rules are evaluated in
// order and the first match wins; sources are tried in order as well and the
// floor applies when none resolves.
type rule struct {
	name    string
	payer   domain.Payer
	match   func(in classifyInput) bool
	sources []costSource
	buyer   func(in classifyInput) float64
}

// NewClassifier creates a Classifier. A non-positive floor falls back to
// DefaultFloorCost.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	floor := cfg.FloorCost
	if floor <= 0 {
		floor = DefaultFloorCost
	}
	ids := make(map[string]bool, len(cfg.StandardMethodIDs))
	for _, id := range cfg.StandardMethodIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = true
		}
	}
	keywords := make([]string, 0, len(cfg.StandardKeywords))
	for _, k := range cfg.StandardKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	return &Classifier{
		floor:       floor,
		standardIDs: ids,
		keywords:    keywords,
		rules:       classificationRules(),
	}
}

func classificationRules() []rule {
	listCost := costSource{name: "list_cost", resolve: func(in classifyInput) (float64, bool) {
		return in.list, in.hasList && in.list > 0
	}}
	baseCost := costSource{name: "base_cost", resolve: func(in classifyInput) (float64, bool) {
		return in.base, in.hasBase && in.base > 0
	}}
	declaredCost := costSource{name: "declared_cost", resolve: func(in classifyInput) (float64, bool) {
		return in.declared, in.hasDeclared && in.declared > 0
	}}
	customerPlusDiscount := costSource{name: "customer_plus_discount", resolve: func(in classifyInput) (float64, bool) {
		amount, ok := discountAmount(in)
		if !ok {
			return 0, false
		}
		return in.customer + amount, true
	}}

	return []rule{
		{
			name:    "discount",
			payer:   domain.PayerSeller,
			match:   hasDiscountSignal,
			sources: []costSource{listCost, customerPlusDiscount, baseCost},
			buyer:   func(in classifyInput) float64 { return in.customer },
		},
		{
			name:  "free_shipping",
			payer: domain.PayerSeller,
			match: func(in classifyInput) bool {
				return in.freeShipping && in.customer == 0
			},
			sources: []costSource{listCost, declaredCost, baseCost},
			buyer:   func(classifyInput) float64 { return 0 },
		},
		{
			name:  "buyer_pays",
			payer: domain.PayerBuyer,
			match: func(classifyInput) bool { return true },
			buyer: func(in classifyInput) float64 { return in.customer },
		},
	}
}

// hasDiscountSignal reports whether the option carries any sign that the
// platform or seller absorbed part of the shipping cost.
func hasDiscountSignal(in classifyInput) bool {
	if in.hasDiscount && (in.discount.Value > 0 || in.discount.Kind != "") {
		return true
	}
	if in.hasBase && in.base > in.customer {
		return true
	}
	return in.hasList && in.list > in.customer
}

// discountAmount returns the absolute discount when it can be derived. Rate
// discounts are converted against the customer cost (customer = full*(1-rate)).
func discountAmount(in classifyInput) (float64, bool) {
	if !in.hasDiscount || in.discount.Value <= 0 {
		return 0, false
	}
	if in.discount.Kind != domain.DiscountKindRate {
		return in.discount.Value, true
	}
	rate := in.discount.Value
	if rate >= 1 || in.customer <= 0 {
		return 0, false
	}
	return in.customer * rate / (1 - rate), true
}

// Classify turns one raw option into a processed option. It never fails:
// every branch resolves to non-negative costs and records the branch that
// fired in ClassificationMethod.
func (c *Classifier) Classify(raw domain.RawQuoteOption, freeShipping bool) domain.ProcessedOption {
	in := c.sanitise(raw, freeShipping)

	out := domain.ProcessedOption{
		Method:            raw.Name,
		Carrier:           raw.CarrierID,
		CustomerPrice:     in.customer,
		IsStandardService: c.isStandard(raw),
		DeliveryEstimate:  raw.EstimatedDelivery,
	}

	for _, r := range c.rules {
		if !r.match(in) {
			continue
		}
		out.Payer = r.payer
		out.BuyerCost = nonNegative(r.buyer(in))
		if r.payer == domain.PayerBuyer {
			out.ClassificationMethod = r.name
			return out
		}

		out.SellerCost, out.ClassificationMethod = c.resolveSellerCost(r, in)
		return out
	}

	// The last rule always matches; kept for totality.
	out.Payer = domain.PayerBuyer
	out.BuyerCost = in.customer
	out.ClassificationMethod = "buyer_pays"
	return out
}

func (c *Classifier) resolveSellerCost(r rule, in classifyInput) (float64, string) {
	for _, src := range r.sources {
		if cost, ok := src.resolve(in); ok {
			if cost = nonNegative(cost); cost > 0 {
				return cost, r.name + ":" + src.name
			}
		}
	}
	return math.Max(in.customer, c.floor), r.name + ":floor"
}

func (c *Classifier) sanitise(raw domain.RawQuoteOption, freeShipping bool) classifyInput {
	in := classifyInput{
		customer:     nonNegative(raw.CustomerCost),
		freeShipping: freeShipping,
	}
	in.base, in.hasBase = optional(raw.BaseCost)
	in.list, in.hasList = optional(raw.ListCost)
	in.declared, in.hasDeclared = optional(raw.SellerDeclaredCost)
	if raw.Discount != nil {
		in.hasDiscount = true
		in.discount = domain.Discount{
			Value: nonNegative(raw.Discount.Value),
			Kind:  strings.ToLower(strings.TrimSpace(raw.Discount.Kind)),
		}
	}
	return in
}

func (c *Classifier) isStandard(raw domain.RawQuoteOption) bool {
	if c.standardIDs[raw.ShippingMethodID] {
		return true
	}
	name := strings.ToLower(raw.Name)
	for _, k := range c.keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

func optional(v *float64) (float64, bool) {
	if v == nil || !isFinite(*v) || *v < 0 {
		return 0, false
	}
	return *v, true
}

func nonNegative(v float64) float64 {
	if !isFinite(v) || v < 0 {
		return 0
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
