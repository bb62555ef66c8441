package models

import (
	"encoding/json"
)

// TrackRequest is the POST /track payload. Only shop and event are
// required; every other field is best-effort. Optional fields stay raw
// so a malformed value degrades to NULL instead of rejecting the whole
// request; storefront scripts must never be blocked by analytics.
type TrackRequest struct {
	Shop  string `json:"shop"`
	Event string `json:"event"`

	ProductID json.RawMessage `json:"productId,omitempty"`
	VariantID json.RawMessage `json:"variantId,omitempty"`
	Quantity  json.RawMessage `json:"quantity,omitempty"`
	Price     json.RawMessage `json:"price,omitempty"`
	SessionID json.RawMessage `json:"sessionId,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`

	// Legacy producer spelling; normalized at the edge.
	TS json.RawMessage `json:"ts,omitempty"`
}

// CheckoutRequest is the POST /checkout payload.
type CheckoutRequest struct {
	Shop          string `json:"shop"`
	CheckoutToken string `json:"checkoutToken"`
	ProductID     string `json:"productId,omitempty"`
	VariantID     string `json:"variantId,omitempty"`
	OccurredAt    string `json:"occurredAt,omitempty"`

	// Legacy producer spelling; normalized at the edge.
	CheckoutTokenSnake string `json:"checkout_token,omitempty"`
}

// Token returns the canonical checkout token regardless of which
// spelling the producer used.
func (r *CheckoutRequest) Token() string {
	if r.CheckoutToken != "" {
		return r.CheckoutToken
	}
	return r.CheckoutTokenSnake
}

// OrderPaidPayload is the subset of the Shopify orders/paid webhook the
// conversion recorder consumes.
type OrderPaidPayload struct {
	ID            json.Number `json:"id"`
	CheckoutToken string      `json:"checkout_token"`
	TotalPrice    string      `json:"total_price"`
	Currency      string      `json:"currency"`
	ProcessedAt   string      `json:"processed_at"`
	CreatedAt     string      `json:"created_at"`
}

// SummaryResponse is returned by GET /summary.
type SummaryResponse struct {
	Days        int     `json:"days"`
	PageViews   int64   `json:"pageViews"`
	AddToCart   int64   `json:"addToCart"`
	ATCRate     float64 `json:"atcRate"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// TimeseriesPoint is one merged day of event and conversion totals.
type TimeseriesPoint struct {
	Day         string  `json:"day"`
	PageViews   int64   `json:"pageViews"`
	AddToCart   int64   `json:"addToCart"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// TimeseriesResponse is returned by GET /timeseries. Points are sparse:
// days without activity are omitted, never zero-filled.
type TimeseriesResponse struct {
	Days   int               `json:"days"`
	Points []TimeseriesPoint `json:"points"`
}

// ProductsResponse is returned by GET /products.
type ProductsResponse struct {
	Days       int              `json:"days"`
	TopATC     []ProductATC     `json:"topAtc"`
	TopRevenue []ProductRevenue `json:"topRevenue"`
}
