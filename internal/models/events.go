package models

import (
	"time"
)

// Behavioral event types reported by the storefront sticky bar.
// Unknown types are stored verbatim; the ingest path never rejects an
// event because of its type.
const (
	EventPageView          = "page_view"
	EventAddToCart         = "add_to_cart"
	EventCheckoutStarted   = "checkout_started"
	EventCheckoutCompleted = "checkout_completed"
	EventVariantChange     = "variant_change"
)

// ===========================================
// BEHAVIORAL EVENT
// ===========================================

// Event is one append-only behavioral event from a storefront client.
// Optional fields are pointers: a missing or malformed value is stored
// as NULL rather than failing the request.
type Event struct {
	ID        string    `json:"id"`
	Shop      string    `json:"shop"`
	Type      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`

	ProductID *string  `json:"productId,omitempty"`
	VariantID *string  `json:"variantId,omitempty"`
	Quantity  *int64   `json:"quantity,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	SessionID *string  `json:"sessionId,omitempty"`

	// Country is stamped server-side from the client IP when geo
	// enrichment is enabled. Never supplied by the client.
	Country string `json:"country,omitempty"`
}

// ===========================================
// ATTRIBUTION
// ===========================================

// Attribution links a checkout token to the product/variant that was
// added through the sticky bar. Unique per (shop, checkout token);
// repeated deliveries upsert and converge to the latest values.
type Attribution struct {
	Shop          string    `json:"shop"`
	CheckoutToken string    `json:"checkoutToken"`
	ProductID     *string   `json:"productId,omitempty"`
	VariantID     *string   `json:"variantId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// ===========================================
// CONVERSION
// ===========================================

// Conversion is a paid order traced back to an attribution. At most one
// row exists per (shop, order id); the storage layer enforces this with
// a unique constraint so concurrent webhook deliveries cannot double
// count.
type Conversion struct {
	ID            string    `json:"id"`
	Shop          string    `json:"shop"`
	OrderID       string    `json:"orderId"`
	CheckoutToken string    `json:"checkoutToken"`
	ProductID     *string   `json:"productId,omitempty"`
	VariantID     *string   `json:"variantId,omitempty"`
	Revenue       float64   `json:"revenue"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// ===========================================
// DAILY ROLLUP
// ===========================================

// DailyMetric is the pre-aggregated dashboard row, one per (shop, UTC
// day). Derived data: the nightly job replaces it wholesale, so a rerun
// for any day is safe.
type DailyMetric struct {
	Shop        string    `json:"shop"`
	Day         time.Time `json:"day"`
	PageViews   int64     `json:"pageViews"`
	AddToCart   int64     `json:"addToCart"`
	Conversions int64     `json:"conversions"`
	Revenue     float64   `json:"revenue"`
}

// ===========================================
// AGGREGATION ROWS
// ===========================================

// EventDayBucket is one calendar day of event-side counts for a shop.
type EventDayBucket struct {
	Day       string `json:"day"` // YYYY-MM-DD, UTC
	PageViews int64  `json:"pageViews"`
	AddToCart int64  `json:"addToCart"`
}

// ConversionDayBucket is one calendar day of conversion-side totals.
type ConversionDayBucket struct {
	Day         string  `json:"day"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// ProductATC ranks a product by add-to-cart count.
type ProductATC struct {
	ProductID string `json:"productId"`
	ATC       int64  `json:"atc"`
}

// ProductRevenue ranks a product by attributed conversion revenue.
type ProductRevenue struct {
	ProductID   string  `json:"productId"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// ShopDayStats is the per-shop slice of one rollup day, computed from
// the raw event set.
type ShopDayStats struct {
	Shop      string
	PageViews int64
	AddToCart int64
	// ATCRevenue sums price*quantity over add_to_cart events carrying a
	// price. A proxy for demand, not actual order revenue.
	ATCRevenue float64
}

// DayKey formats t as the canonical UTC day key used by all buckets.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
