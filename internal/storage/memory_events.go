package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bdmapps/stickybar-analytics/internal/models"
)

// InMemoryEventStore keeps events in memory. Not durable; used for
// tests and as the degraded mode when ClickHouse is unreachable.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events []models.Event
}

// NewInMemoryEventStore creates a new empty in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{}
}

// Insert appends one event. The value is copied so callers cannot
// mutate stored rows.
func (s *InMemoryEventStore) Insert(ctx context.Context, e *models.Event) error {
	if e == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

// Len returns the number of stored events.
func (s *InMemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func inWindow(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}

// CountByType returns event counts per event type for a shop.
func (s *InMemoryEventStore) CountByType(ctx context.Context, shop string, from, to time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for i := range s.events {
		e := &s.events[i]
		if e.Shop == shop && inWindow(e.Timestamp, from, to) {
			counts[e.Type]++
		}
	}
	return counts, nil
}

// DayBuckets groups a shop's events by UTC calendar day.
func (s *InMemoryEventStore) DayBuckets(ctx context.Context, shop string, from, to time.Time) ([]models.EventDayBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := make(map[string]*models.EventDayBucket)
	for i := range s.events {
		e := &s.events[i]
		if e.Shop != shop || !inWindow(e.Timestamp, from, to) {
			continue
		}
		day := models.DayKey(e.Timestamp)
		b, ok := byDay[day]
		if !ok {
			b = &models.EventDayBucket{Day: day}
			byDay[day] = b
		}
		switch e.Type {
		case models.EventPageView:
			b.PageViews++
		case models.EventAddToCart:
			b.AddToCart++
		}
	}

	buckets := make([]models.EventDayBucket, 0, len(byDay))
	for _, b := range byDay {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Day < buckets[j].Day })
	return buckets, nil
}

// TopProductsByAddToCart ranks products by add-to-cart count.
func (s *InMemoryEventStore) TopProductsByAddToCart(ctx context.Context, shop string, from, to time.Time, limit int) ([]models.ProductATC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	order := make([]string, 0) // first-seen order keeps ties stable
	for i := range s.events {
		e := &s.events[i]
		if e.Shop != shop || e.Type != models.EventAddToCart || e.ProductID == nil {
			continue
		}
		if !inWindow(e.Timestamp, from, to) {
			continue
		}
		if _, ok := counts[*e.ProductID]; !ok {
			order = append(order, *e.ProductID)
		}
		counts[*e.ProductID]++
	}

	ranked := make([]models.ProductATC, 0, len(order))
	for _, pid := range order {
		ranked = append(ranked, models.ProductATC{ProductID: pid, ATC: counts[pid]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].ATC > ranked[j].ATC })

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// ActiveShops lists shops with at least one event in the window.
func (s *InMemoryEventStore) ActiveShops(ctx context.Context, from, to time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	shops := make([]string, 0)
	for i := range s.events {
		e := &s.events[i]
		if !inWindow(e.Timestamp, from, to) || seen[e.Shop] {
			continue
		}
		seen[e.Shop] = true
		shops = append(shops, e.Shop)
	}
	sort.Strings(shops)
	return shops, nil
}

// ShopDayStats computes one shop's rollup inputs for the window.
func (s *InMemoryEventStore) ShopDayStats(ctx context.Context, shop string, from, to time.Time) (*models.ShopDayStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.ShopDayStats{Shop: shop}
	for i := range s.events {
		e := &s.events[i]
		if e.Shop != shop || !inWindow(e.Timestamp, from, to) {
			continue
		}
		switch e.Type {
		case models.EventPageView:
			stats.PageViews++
		case models.EventAddToCart:
			stats.AddToCart++
			if e.Price != nil {
				qty := int64(1)
				if e.Quantity != nil && *e.Quantity > 1 {
					qty = *e.Quantity
				}
				stats.ATCRevenue += *e.Price * float64(qty)
			}
		}
	}
	return stats, nil
}
