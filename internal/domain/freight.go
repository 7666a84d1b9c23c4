package domain

import "time"

// Payer identifies the party economically responsible for a shipping option.
type Payer string

const (
	PayerSeller Payer = "seller"
	PayerBuyer  Payer = "buyer"
)

// Discount kinds reported by the quote API. Any other non-empty kind is a
// provider-specific tag (for example a reputation programme name).
const (
	DiscountKindAmount = "amount"
	DiscountKindRate   = "rate"
)

// Discount is the optional discount block attached to a raw quote option.
type Discount struct {
	Value float64 `json:"value"`
	Kind  string  `json:"kind,omitempty"`
}

// RawQuoteOption is one shipping option as returned by the quote API for a
// single call. Optional costs are nil when the provider omitted them.
type RawQuoteOption struct {
	Name               string    `json:"name"`
	CarrierID          string    `json:"carrier_id"`
	ShippingMethodID   string    `json:"shipping_method_id"`
	CustomerCost       float64   `json:"customer_cost"`
	BaseCost           *float64  `json:"base_cost,omitempty"`
	ListCost           *float64  `json:"list_cost,omitempty"`
	SellerDeclaredCost *float64  `json:"seller_declared_cost,omitempty"`
	Discount           *Discount `json:"discount,omitempty"`
	EstimatedDelivery  time.Time `json:"estimated_delivery"`
}

// QuoteResponse is the normalised result of one quote API round-trip.
type QuoteResponse struct {
	Options []RawQuoteOption
	Raw     []byte
}

// Listing carries the listing attributes the classifier needs.
type Listing struct {
	ID           string
	Title        string
	FreeShipping bool
	ShippingMode string
}

// ProcessedOption is the classifier output for one raw option.
type ProcessedOption struct {
	Method               string    `json:"method"`
	Carrier              string    `json:"carrier"`
	CustomerPrice        float64   `json:"customer_price"`
	SellerCost           float64   `json:"seller_cost"`
	BuyerCost            float64   `json:"buyer_cost"`
	Payer                Payer     `json:"payer"`
	ClassificationMethod string    `json:"classification_method"`
	IsStandardService    bool      `json:"is_standard_service"`
	DeliveryEstimate     time.Time `json:"delivery_estimate"`
}

// CallAttempt records the outcome of one quote call inside a consensus run.
type CallAttempt struct {
	Number   int              `json:"number"`
	Success  bool             `json:"success"`
	Option   *ProcessedOption `json:"option,omitempty"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// ResultSource tells the caller which layer produced a ConsensusResult.
type ResultSource string

const (
	SourceComputed ResultSource = "computed"
	SourceMemory   ResultSource = "memory"
	SourceHistory  ResultSource = "history"
)

// ConsensusResult is the agreed freight cost for a (listing, destination).
type ConsensusResult struct {
	ListingID          string        `json:"listing_id"`
	Destination        string        `json:"destination"`
	SellerCost         float64       `json:"seller_cost"`
	CustomerCost       float64       `json:"customer_cost"`
	Method             string        `json:"method"`
	ReliabilityPercent float64       `json:"reliability_percent"`
	SuccessfulAttempts int           `json:"successful_attempts"`
	AgreeingAttempts   int           `json:"agreeing_attempts"`
	Attempts           []CallAttempt `json:"attempts,omitempty"`
	CalculatedAt       time.Time     `json:"calculated_at"`
	Source             ResultSource  `json:"source"`
}

// CachedFreight is the value stored in the tier-1 cache. It carries the
// attempt log so a hit reproduces the computed result.
type CachedFreight struct {
	SellerCost         float64       `json:"seller_cost"`
	CustomerCost       float64       `json:"customer_cost"`
	Method             string        `json:"method"`
	ReliabilityPercent float64       `json:"reliability_percent"`
	SuccessfulAttempts int           `json:"successful_attempts"`
	AgreeingAttempts   int           `json:"agreeing_attempts"`
	Attempts           []CallAttempt `json:"attempts,omitempty"`
	CalculatedAt       time.Time     `json:"calculated_at"`
}

// CacheEntry is one tier-1 cache record.
type CacheEntry struct {
	Key       string        `json:"key"`
	Value     CachedFreight `json:"value"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// FreightHistoryRecord is the persisted, append-only quote history row.
type FreightHistoryRecord struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"user_id"`
	ListingID          string        `json:"listing_id"`
	Destination        string        `json:"destination"`
	SellerCost         float64       `json:"seller_cost"`
	CustomerCost       float64       `json:"customer_cost"`
	Method             string        `json:"method"`
	ReliabilityPercent float64       `json:"reliability_percent"`
	SuccessfulAttempts int           `json:"successful_attempts"`
	AgreeingAttempts   int           `json:"agreeing_attempts"`
	Attempts           []CallAttempt `json:"attempts,omitempty"`
	CalculatedAt       time.Time     `json:"calculated_at"`
	IsCurrent          bool          `json:"is_current"`
	InvalidatedAt      *time.Time    `json:"invalidated_at,omitempty"`
}

// ChangeNotification is an inbound marketplace change event.
type ChangeNotification struct {
	Topic      string         `json:"topic"`
	Resource   string         `json:"resource"`
	ListingID  string         `json:"listing_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}
