package storage

import (
	"context"
	"time"

	"github.com/bdmapps/stickybar-analytics/internal/models"
)

// All time windows are half-open [from, to) in UTC, so adjacent windows
// never double count an event on the boundary.

// =============================================
// EVENT STORE
// =============================================

// EventStore persists raw behavioral events and answers the event-side
// aggregations. Events are append-only; there is no update or delete.
type EventStore interface {
	// Insert appends one event. No deduplication: a user adding to
	// cart twice is two events.
	Insert(ctx context.Context, e *models.Event) error

	// CountByType returns event counts per event type for a shop.
	CountByType(ctx context.Context, shop string, from, to time.Time) (map[string]int64, error)

	// DayBuckets groups a shop's events by UTC calendar day. Days
	// without events are absent; buckets are sorted ascending by day.
	DayBuckets(ctx context.Context, shop string, from, to time.Time) ([]models.EventDayBucket, error)

	// TopProductsByAddToCart ranks products by add-to-cart count,
	// descending, capped at limit.
	TopProductsByAddToCart(ctx context.Context, shop string, from, to time.Time, limit int) ([]models.ProductATC, error)

	// ActiveShops lists the shops that produced at least one event in
	// the window. Drives the rollup's per-shop fan-out.
	ActiveShops(ctx context.Context, from, to time.Time) ([]string, error)

	// ShopDayStats computes one shop's rollup inputs for the window.
	ShopDayStats(ctx context.Context, shop string, from, to time.Time) (*models.ShopDayStats, error)
}

// =============================================
// ATTRIBUTION REPOSITORY
// =============================================

// AttributionRepo stores the checkout-token → product mapping. The
// storage layer guarantees at most one row per (shop, checkout token);
// concurrent upserts for the same token serialize on that constraint.
type AttributionRepo interface {
	Upsert(ctx context.Context, a *models.Attribution) error
	GetByToken(ctx context.Context, shop, token string) (*models.Attribution, error)
}

// =============================================
// CONVERSION REPOSITORY
// =============================================

// ConversionRepo stores attributed paid orders.
type ConversionRepo interface {
	// Insert writes a conversion and reports inserted=false when a row
	// for (shop, orderID) already exists. The uniqueness is enforced by
	// the store, not just checked, so concurrent webhook deliveries of
	// the same order cannot both insert.
	Insert(ctx context.Context, c *models.Conversion) (bool, error)

	ExistsByOrderID(ctx context.Context, shop, orderID string) (bool, error)

	// WindowTotals returns conversion count and summed revenue.
	WindowTotals(ctx context.Context, shop string, from, to time.Time) (int64, float64, error)

	// DayBuckets groups a shop's conversions by UTC calendar day,
	// sorted ascending; empty days are absent.
	DayBuckets(ctx context.Context, shop string, from, to time.Time) ([]models.ConversionDayBucket, error)

	// TopProductsByRevenue ranks products by attributed revenue,
	// descending, capped at limit. Conversions without a product are
	// excluded.
	TopProductsByRevenue(ctx context.Context, shop string, from, to time.Time, limit int) ([]models.ProductRevenue, error)
}

// =============================================
// DAILY METRIC REPOSITORY
// =============================================

// DailyMetricRepo stores the nightly rollup rows. Derived data: Upsert
// replaces an existing (shop, day) row so reruns are safe.
type DailyMetricRepo interface {
	Upsert(ctx context.Context, m *models.DailyMetric) error
	GetRange(ctx context.Context, shop string, from, to time.Time) ([]models.DailyMetric, error)
}
