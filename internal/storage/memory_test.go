package storage

import (
	"context"
	"testing"
	"time"

	"github.com/bdmapps/stickybar-analytics/internal/models"
)

const testShop = "demo.myshopify.com"

func ptr[T any](v T) *T { return &v }

func TestEventWindowIsHalfOpen(t *testing.T) {
	store := NewInMemoryEventStore()
	from := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	for _, ts := range []time.Time{
		from,                       // inclusive lower bound
		to.Add(-time.Nanosecond),   // just inside
		to,                         // exclusive upper bound
		from.Add(-time.Nanosecond), // just below
	} {
		if err := store.Insert(context.Background(), &models.Event{
			Shop: testShop, Type: models.EventPageView, Timestamp: ts,
		}); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := store.CountByType(context.Background(), testShop, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.EventPageView] != 2 {
		t.Errorf("count = %d, want 2: boundary events must land in exactly one window", counts[models.EventPageView])
	}
}

func TestTopProductsByAddToCartTiesAreStable(t *testing.T) {
	store := NewInMemoryEventStore()
	at := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	// prod_a seen first; both end up with one add-to-cart.
	for _, pid := range []string{"prod_a", "prod_b"} {
		if err := store.Insert(context.Background(), &models.Event{
			Shop: testShop, Type: models.EventAddToCart, Timestamp: at, ProductID: ptr(pid),
		}); err != nil {
			t.Fatal(err)
		}
	}

	ranked, err := store.TopProductsByAddToCart(context.Background(), testShop, at.Add(-time.Hour), at.Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 2 || ranked[0].ProductID != "prod_a" {
		t.Errorf("tied products must keep first-seen order, got %+v", ranked)
	}
}

func TestConversionInsertRejectsDuplicateOrder(t *testing.T) {
	repo := NewInMemoryConversionRepo()
	c := &models.Conversion{
		ID: "c1", Shop: testShop, OrderID: "1001",
		CheckoutToken: "tok", Revenue: 10, OccurredAt: time.Now().UTC(),
	}

	inserted, err := repo.Insert(context.Background(), c)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}

	dup := *c
	dup.ID = "c2"
	dup.Revenue = 99
	inserted, err = repo.Insert(context.Background(), &dup)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second insert for the same (shop, order) must report inserted=false")
	}

	count, revenue, _ := repo.WindowTotals(context.Background(), testShop,
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	if count != 1 || revenue != 10 {
		t.Errorf("totals = %d/%v, want 1/10", count, revenue)
	}
}

func TestConversionSameOrderDifferentShops(t *testing.T) {
	repo := NewInMemoryConversionRepo()
	now := time.Now().UTC()

	for i, shop := range []string{"a.myshopify.com", "b.myshopify.com"} {
		inserted, err := repo.Insert(context.Background(), &models.Conversion{
			ID: string(rune('a' + i)), Shop: shop, OrderID: "1001",
			CheckoutToken: "tok", OccurredAt: now,
		})
		if err != nil || !inserted {
			t.Fatalf("shop %s: inserted=%v err=%v", shop, inserted, err)
		}
	}
}

func TestShopDayStatsATCRevenue(t *testing.T) {
	store := NewInMemoryEventStore()
	at := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

	events := []*models.Event{
		{Shop: testShop, Type: models.EventAddToCart, Timestamp: at, Price: ptr(19.99), Quantity: ptr(int64(2))},
		{Shop: testShop, Type: models.EventAddToCart, Timestamp: at, Price: ptr(5.00)}, // no quantity: counts as 1
		{Shop: testShop, Type: models.EventAddToCart, Timestamp: at},                   // no price: excluded from revenue
		{Shop: testShop, Type: models.EventPageView, Timestamp: at},
	}
	for _, e := range events {
		if err := store.Insert(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := store.ShopDayStats(context.Background(), testShop, at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if stats.PageViews != 1 || stats.AddToCart != 3 {
		t.Errorf("stats = %+v, want pv=1 atc=3", stats)
	}
	want := 19.99*2 + 5.00
	if stats.ATCRevenue != want {
		t.Errorf("atcRevenue = %v, want %v", stats.ATCRevenue, want)
	}
}

func TestAttributionUpsertOverwrites(t *testing.T) {
	repo := NewInMemoryAttributionRepo()
	now := time.Now().UTC()

	for _, pid := range []string{"prod_1", "prod_2"} {
		if err := repo.Upsert(context.Background(), &models.Attribution{
			Shop: testShop, CheckoutToken: "tok_1", ProductID: ptr(pid), OccurredAt: now,
		}); err != nil {
			t.Fatal(err)
		}
	}

	if repo.Len() != 1 {
		t.Fatalf("rows = %d, want 1", repo.Len())
	}
	a, _ := repo.GetByToken(context.Background(), testShop, "tok_1")
	if a == nil || *a.ProductID != "prod_2" {
		t.Errorf("attribution = %+v, want latest product", a)
	}
}

func TestDailyMetricUpsertReplaces(t *testing.T) {
	repo := NewInMemoryDailyMetricRepo()
	day := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

	for _, pv := range []int64{10, 20} {
		if err := repo.Upsert(context.Background(), &models.DailyMetric{
			Shop: testShop, Day: day, PageViews: pv,
		}); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := repo.GetRange(context.Background(), testShop, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].PageViews != 20 {
		t.Errorf("rows = %+v, want single row with pv=20", rows)
	}
}
