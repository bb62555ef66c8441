package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bdmapps/stickybar-analytics/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its tables.
//
//go:embed schema.sql
var schemaSQL string

// EnsurePostgresSchema applies schema.sql. Safe to run multiple times.
func EnsurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure postgres schema: %w", err)
	}
	return nil
}

// =============================================
// ATTRIBUTIONS
// =============================================

// PostgresAttributionRepo implements AttributionRepo on PostgreSQL.
type PostgresAttributionRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresAttributionRepo creates a Postgres-backed attribution repo.
func NewPostgresAttributionRepo(pool *pgxpool.Pool) *PostgresAttributionRepo {
	return &PostgresAttributionRepo{pool: pool}
}

// Upsert inserts or overwrites the attribution for its checkout token.
// Concurrent deliveries for the same token serialize on the primary key.
func (r *PostgresAttributionRepo) Upsert(ctx context.Context, a *models.Attribution) error {
	if a == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attributions (shop, checkout_token, product_id, variant_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (shop, checkout_token) DO UPDATE SET
			product_id  = EXCLUDED.product_id,
			variant_id  = EXCLUDED.variant_id,
			occurred_at = EXCLUDED.occurred_at
	`, a.Shop, a.CheckoutToken, a.ProductID, a.VariantID, a.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert attribution: %w", err)
	}
	return nil
}

// GetByToken returns the attribution for (shop, token) or nil.
func (r *PostgresAttributionRepo) GetByToken(ctx context.Context, shop, token string) (*models.Attribution, error) {
	var a models.Attribution
	err := r.pool.QueryRow(ctx, `
		SELECT shop, checkout_token, product_id, variant_id, occurred_at
		FROM attributions
		WHERE shop = $1 AND checkout_token = $2
	`, shop, token).Scan(&a.Shop, &a.CheckoutToken, &a.ProductID, &a.VariantID, &a.OccurredAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribution: %w", err)
	}
	return &a, nil
}

// =============================================
// CONVERSIONS
// =============================================

// PostgresConversionRepo implements ConversionRepo on PostgreSQL.
type PostgresConversionRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresConversionRepo creates a Postgres-backed conversion repo.
func NewPostgresConversionRepo(pool *pgxpool.Pool) *PostgresConversionRepo {
	return &PostgresConversionRepo{pool: pool}
}

// Insert writes a conversion and reports inserted=false on a duplicate
// (shop, order_id). RETURNING yields a row only when the insert landed,
// so a conflicting concurrent delivery surfaces as ErrNoRows, not as a
// second row.
func (r *PostgresConversionRepo) Insert(ctx context.Context, c *models.Conversion) (bool, error) {
	if c == nil {
		return false, nil
	}
	var one int
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversions (id, shop, order_id, checkout_token, product_id, variant_id, revenue, currency, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (shop, order_id) DO NOTHING
		RETURNING 1
	`, c.ID, c.Shop, c.OrderID, c.CheckoutToken, c.ProductID, c.VariantID, c.Revenue, c.Currency, c.OccurredAt.UTC()).Scan(&one)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert conversion: %w", err)
	}
	return true, nil
}

// ExistsByOrderID reports whether a conversion exists for the order.
func (r *PostgresConversionRepo) ExistsByOrderID(ctx context.Context, shop, orderID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversions WHERE shop = $1 AND order_id = $2)
	`, shop, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversion existence: %w", err)
	}
	return exists, nil
}

// WindowTotals returns conversion count and summed revenue for a shop.
func (r *PostgresConversionRepo) WindowTotals(ctx context.Context, shop string, from, to time.Time) (int64, float64, error) {
	var count int64
	var revenue float64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(revenue), 0)
		FROM conversions
		WHERE shop = $1 AND occurred_at >= $2 AND occurred_at < $3
	`, shop, from.UTC(), to.UTC()).Scan(&count, &revenue)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to total conversions: %w", err)
	}
	return count, revenue, nil
}

// DayBuckets groups a shop's conversions by UTC calendar day.
func (r *PostgresConversionRepo) DayBuckets(ctx context.Context, shop string, from, to time.Time) ([]models.ConversionDayBucket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			to_char(occurred_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			COUNT(*),
			COALESCE(SUM(revenue), 0)
		FROM conversions
		WHERE shop = $1 AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY day
		ORDER BY day ASC
	`, shop, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query conversion day buckets: %w", err)
	}
	defer rows.Close()

	var buckets []models.ConversionDayBucket
	for rows.Next() {
		var b models.ConversionDayBucket
		if err := rows.Scan(&b.Day, &b.Conversions, &b.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan conversion day bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error reading conversion day buckets: %w", err)
	}
	return buckets, nil
}

// TopProductsByRevenue ranks products by attributed revenue. The
// product id was copied from the attribution matched on
// (shop, checkout_token) when the conversion was recorded, so this
// grouping carries the strict-join semantics without a query-time join.
func (r *PostgresConversionRepo) TopProductsByRevenue(ctx context.Context, shop string, from, to time.Time, limit int) ([]models.ProductRevenue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, COUNT(*), COALESCE(SUM(revenue), 0) AS total
		FROM conversions
		WHERE shop = $1 AND product_id IS NOT NULL
		  AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY product_id
		ORDER BY total DESC
		LIMIT $4
	`, shop, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top revenue products: %w", err)
	}
	defer rows.Close()

	var ranked []models.ProductRevenue
	for rows.Next() {
		var p models.ProductRevenue
		if err := rows.Scan(&p.ProductID, &p.Conversions, &p.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan revenue product row: %w", err)
		}
		ranked = append(ranked, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error reading top revenue products: %w", err)
	}
	return ranked, nil
}

// =============================================
// DAILY METRICS
// =============================================

// PostgresDailyMetricRepo implements DailyMetricRepo on PostgreSQL.
type PostgresDailyMetricRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresDailyMetricRepo creates a Postgres-backed daily metric repo.
func NewPostgresDailyMetricRepo(pool *pgxpool.Pool) *PostgresDailyMetricRepo {
	return &PostgresDailyMetricRepo{pool: pool}
}

// Upsert inserts or replaces the rollup row for (shop, day).
func (r *PostgresDailyMetricRepo) Upsert(ctx context.Context, m *models.DailyMetric) error {
	if m == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_metrics (shop, day, page_views, add_to_cart, conversions, revenue)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (shop, day) DO UPDATE SET
			page_views  = EXCLUDED.page_views,
			add_to_cart = EXCLUDED.add_to_cart,
			conversions = EXCLUDED.conversions,
			revenue     = EXCLUDED.revenue
	`, m.Shop, m.Day.UTC(), m.PageViews, m.AddToCart, m.Conversions, m.Revenue)
	if err != nil {
		return fmt.Errorf("failed to upsert daily metric: %w", err)
	}
	return nil
}

// GetRange returns a shop's rollup rows for days in [from, to).
func (r *PostgresDailyMetricRepo) GetRange(ctx context.Context, shop string, from, to time.Time) ([]models.DailyMetric, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT shop, day, page_views, add_to_cart, conversions, revenue
		FROM daily_metrics
		WHERE shop = $1 AND day >= $2 AND day < $3
		ORDER BY day ASC
	`, shop, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer rows.Close()

	var out []models.DailyMetric
	for rows.Next() {
		var m models.DailyMetric
		if err := rows.Scan(&m.Shop, &m.Day, &m.PageViews, &m.AddToCart, &m.Conversions, &m.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error reading daily metrics: %w", err)
	}
	return out, nil
}
