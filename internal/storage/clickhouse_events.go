package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/bdmapps/stickybar-analytics/internal/models"
)

// eventsSchema is applied at startup; append-only MergeTree ordered for
// the per-shop time-window scans every aggregation performs.
const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	id         UUID,
	shop       LowCardinality(String),
	event_type LowCardinality(String),
	product_id Nullable(String),
	variant_id Nullable(String),
	quantity   Nullable(Int64),
	price      Nullable(Float64),
	session_id Nullable(String),
	country    LowCardinality(String),
	timestamp  DateTime('UTC')
) ENGINE = MergeTree
ORDER BY (shop, timestamp)
`

// ClickHouseEventStore implements EventStore on ClickHouse.
type ClickHouseEventStore struct {
	conn clickhouse.Conn
}

// NewClickHouseEventStore creates a ClickHouse-backed event store.
func NewClickHouseEventStore(conn clickhouse.Conn) *ClickHouseEventStore {
	return &ClickHouseEventStore{conn: conn}
}

// EnsureSchema creates the events table. Safe to run multiple times.
func (s *ClickHouseEventStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, eventsSchema); err != nil {
		return fmt.Errorf("failed to ensure events schema: %w", err)
	}
	return nil
}

// Insert appends one event row.
func (s *ClickHouseEventStore) Insert(ctx context.Context, e *models.Event) error {
	if e == nil {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO events (id, shop, event_type, product_id, variant_id, quantity, price, session_id, country, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}

	if err := batch.Append(
		e.ID,
		e.Shop,
		e.Type,
		e.ProductID,
		e.VariantID,
		e.Quantity,
		e.Price,
		e.SessionID,
		e.Country,
		e.Timestamp.UTC(),
	); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// CountByType returns event counts per event type for a shop.
func (s *ClickHouseEventStore) CountByType(ctx context.Context, shop string, from, to time.Time) (map[string]int64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT event_type, count() AS total
		FROM events
		WHERE shop = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY event_type
	`, shop, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var total uint64
		if err := rows.Scan(&eventType, &total); err != nil {
			return nil, fmt.Errorf("failed to scan event count row: %w", err)
		}
		counts[eventType] = int64(total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error counting events by type: %w", err)
	}
	return counts, nil
}

// DayBuckets groups a shop's events by UTC calendar day.
func (s *ClickHouseEventStore) DayBuckets(ctx context.Context, shop string, from, to time.Time) ([]models.EventDayBucket, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT
			toDate(timestamp) AS day,
			countIf(event_type = 'page_view') AS page_views,
			countIf(event_type = 'add_to_cart') AS add_to_cart
		FROM events
		WHERE shop = ? AND timestamp >= ? AND timestamp < ?
		GROUP BY day
		ORDER BY day ASC
	`, shop, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query event day buckets: %w", err)
	}
	defer rows.Close()

	var buckets []models.EventDayBucket
	for rows.Next() {
		var day time.Time
		var pageViews, addToCart uint64
		if err := rows.Scan(&day, &pageViews, &addToCart); err != nil {
			return nil, fmt.Errorf("failed to scan event day bucket: %w", err)
		}
		buckets = append(buckets, models.EventDayBucket{
			Day:       models.DayKey(day),
			PageViews: int64(pageViews),
			AddToCart: int64(addToCart),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error reading event day buckets: %w", err)
	}
	return buckets, nil
}

// TopProductsByAddToCart ranks products by add-to-cart count.
func (s *ClickHouseEventStore) TopProductsByAddToCart(ctx context.Context, shop string, from, to time.Time, limit int) ([]models.ProductATC, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT product_id, count() AS atc
		FROM events
		WHERE shop = ?
		  AND event_type = 'add_to_cart'
		  AND product_id IS NOT NULL
		  AND timestamp >= ? AND timestamp < ?
		GROUP BY product_id
		ORDER BY atc DESC
		LIMIT ?
	`, shop, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top add-to-cart products: %w", err)
	}
	defer rows.Close()

	var ranked []models.ProductATC
	for rows.Next() {
		var productID *string
		var atc uint64
		if err := rows.Scan(&productID, &atc); err != nil {
			return nil, fmt.Errorf("failed to scan top product row: %w", err)
		}
		if productID == nil {
			continue
		}
		ranked = append(ranked, models.ProductATC{ProductID: *productID, ATC: int64(atc)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error reading top products: %w", err)
	}
	return ranked, nil
}

// ActiveShops lists shops with at least one event in the window.
func (s *ClickHouseEventStore) ActiveShops(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT shop
		FROM events
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY shop ASC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query active shops: %w", err)
	}
	defer rows.Close()

	var shops []string
	for rows.Next() {
		var shop string
		if err := rows.Scan(&shop); err != nil {
			return nil, fmt.Errorf("failed to scan shop: %w", err)
		}
		shops = append(shops, shop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error reading active shops: %w", err)
	}
	return shops, nil
}

// ShopDayStats computes one shop's rollup inputs for the window. The
// revenue figure is a demand proxy summed from add-to-cart prices, not
// order revenue.
func (s *ClickHouseEventStore) ShopDayStats(ctx context.Context, shop string, from, to time.Time) (*models.ShopDayStats, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT
			countIf(event_type = 'page_view') AS page_views,
			countIf(event_type = 'add_to_cart') AS add_to_cart,
			sumIf(
				ifNull(price, 0) * toFloat64(greatest(ifNull(quantity, 1), 1)),
				event_type = 'add_to_cart' AND isNotNull(price)
			) AS atc_revenue
		FROM events
		WHERE shop = ? AND timestamp >= ? AND timestamp < ?
	`, shop, from.UTC(), to.UTC())

	var pageViews, addToCart uint64
	var atcRevenue float64
	if err := row.Scan(&pageViews, &addToCart, &atcRevenue); err != nil {
		return nil, fmt.Errorf("failed to scan shop day stats: %w", err)
	}

	return &models.ShopDayStats{
		Shop:       shop,
		PageViews:  int64(pageViews),
		AddToCart:  int64(addToCart),
		ATCRevenue: atcRevenue,
	}, nil
}
