package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bdmapps/stickybar-analytics/internal/models"
)

// =============================================
// ATTRIBUTIONS
// =============================================

// InMemoryAttributionRepo stores attributions in a map keyed by
// (shop, checkout token), which gives it the same at-most-one-row
// semantics the Postgres unique constraint provides.
type InMemoryAttributionRepo struct {
	mu   sync.RWMutex
	rows map[string]*models.Attribution
}

// NewInMemoryAttributionRepo creates a new empty attribution repo.
func NewInMemoryAttributionRepo() *InMemoryAttributionRepo {
	return &InMemoryAttributionRepo{
		rows: make(map[string]*models.Attribution),
	}
}

func attrKey(shop, token string) string {
	return shop + "\x00" + token
}

// Upsert inserts or overwrites the attribution for its checkout token.
func (r *InMemoryAttributionRepo) Upsert(ctx context.Context, a *models.Attribution) error {
	if a == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.rows[attrKey(a.Shop, a.CheckoutToken)] = &cp
	return nil
}

// GetByToken returns the attribution for (shop, token) or nil.
func (r *InMemoryAttributionRepo) GetByToken(ctx context.Context, shop, token string) (*models.Attribution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.rows[attrKey(shop, token)]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

// Len returns the number of stored attributions.
func (r *InMemoryAttributionRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// =============================================
// CONVERSIONS
// =============================================

// InMemoryConversionRepo stores conversions keyed by (shop, order id),
// rejecting duplicates the way the Postgres unique constraint does.
type InMemoryConversionRepo struct {
	mu    sync.RWMutex
	rows  map[string]*models.Conversion
	order []string // insertion order for deterministic iteration
}

// NewInMemoryConversionRepo creates a new empty conversion repo.
func NewInMemoryConversionRepo() *InMemoryConversionRepo {
	return &InMemoryConversionRepo{
		rows: make(map[string]*models.Conversion),
	}
}

func convKey(shop, orderID string) string {
	return shop + "\x00" + orderID
}

// Insert writes a conversion; inserted=false when the order already has one.
func (r *InMemoryConversionRepo) Insert(ctx context.Context, c *models.Conversion) (bool, error) {
	if c == nil {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := convKey(c.Shop, c.OrderID)
	if _, exists := r.rows[key]; exists {
		return false, nil
	}
	cp := *c
	r.rows[key] = &cp
	r.order = append(r.order, key)
	return true, nil
}

// ExistsByOrderID reports whether a conversion exists for the order.
func (r *InMemoryConversionRepo) ExistsByOrderID(ctx context.Context, shop, orderID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rows[convKey(shop, orderID)]
	return ok, nil
}

// WindowTotals returns conversion count and summed revenue for a shop.
func (r *InMemoryConversionRepo) WindowTotals(ctx context.Context, shop string, from, to time.Time) (int64, float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	var revenue float64
	for _, key := range r.order {
		c := r.rows[key]
		if c.Shop == shop && inWindow(c.OccurredAt, from, to) {
			count++
			revenue += c.Revenue
		}
	}
	return count, revenue, nil
}

// DayBuckets groups a shop's conversions by UTC calendar day.
func (r *InMemoryConversionRepo) DayBuckets(ctx context.Context, shop string, from, to time.Time) ([]models.ConversionDayBucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byDay := make(map[string]*models.ConversionDayBucket)
	for _, key := range r.order {
		c := r.rows[key]
		if c.Shop != shop || !inWindow(c.OccurredAt, from, to) {
			continue
		}
		day := models.DayKey(c.OccurredAt)
		b, ok := byDay[day]
		if !ok {
			b = &models.ConversionDayBucket{Day: day}
			byDay[day] = b
		}
		b.Conversions++
		b.Revenue += c.Revenue
	}

	buckets := make([]models.ConversionDayBucket, 0, len(byDay))
	for _, b := range byDay {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Day < buckets[j].Day })
	return buckets, nil
}

// TopProductsByRevenue ranks products by attributed revenue.
func (r *InMemoryConversionRepo) TopProductsByRevenue(ctx context.Context, shop string, from, to time.Time, limit int) ([]models.ProductRevenue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byProduct := make(map[string]*models.ProductRevenue)
	seen := make([]string, 0)
	for _, key := range r.order {
		c := r.rows[key]
		if c.Shop != shop || c.ProductID == nil || !inWindow(c.OccurredAt, from, to) {
			continue
		}
		p, ok := byProduct[*c.ProductID]
		if !ok {
			p = &models.ProductRevenue{ProductID: *c.ProductID}
			byProduct[*c.ProductID] = p
			seen = append(seen, *c.ProductID)
		}
		p.Conversions++
		p.Revenue += c.Revenue
	}

	ranked := make([]models.ProductRevenue, 0, len(seen))
	for _, pid := range seen {
		ranked = append(ranked, *byProduct[pid])
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Revenue > ranked[j].Revenue })

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// =============================================
// DAILY METRICS
// =============================================

// InMemoryDailyMetricRepo stores rollup rows keyed by (shop, day).
type InMemoryDailyMetricRepo struct {
	mu   sync.RWMutex
	rows map[string]*models.DailyMetric
}

// NewInMemoryDailyMetricRepo creates a new empty daily metric repo.
func NewInMemoryDailyMetricRepo() *InMemoryDailyMetricRepo {
	return &InMemoryDailyMetricRepo{
		rows: make(map[string]*models.DailyMetric),
	}
}

// Upsert inserts or replaces the row for (shop, day).
func (r *InMemoryDailyMetricRepo) Upsert(ctx context.Context, m *models.DailyMetric) error {
	if m == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	cp.Day = m.Day.UTC().Truncate(24 * time.Hour)
	r.rows[m.Shop+"\x00"+models.DayKey(m.Day)] = &cp
	return nil
}

// GetRange returns a shop's rollup rows for days in [from, to), sorted
// ascending by day.
func (r *InMemoryDailyMetricRepo) GetRange(ctx context.Context, shop string, from, to time.Time) ([]models.DailyMetric, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.DailyMetric, 0)
	for _, m := range r.rows {
		if m.Shop == shop && inWindow(m.Day, from, to) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}
