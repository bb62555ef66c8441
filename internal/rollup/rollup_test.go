package rollup

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/models"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
)

var day = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

func seedShopDay(t *testing.T, events *storage.InMemoryEventStore, shop string, pageViews, addToCart int) {
	t.Helper()
	at := day.Add(10 * time.Hour)
	for i := 0; i < pageViews; i++ {
		if err := events.Insert(context.Background(), &models.Event{
			Shop: shop, Type: models.EventPageView, Timestamp: at,
		}); err != nil {
			t.Fatal(err)
		}
	}
	price := 19.99
	for i := 0; i < addToCart; i++ {
		if err := events.Insert(context.Background(), &models.Event{
			Shop: shop, Type: models.EventAddToCart, Timestamp: at, Price: &price,
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunForDayWritesOneRowPerShop(t *testing.T) {
	events := storage.NewInMemoryEventStore()
	convs := storage.NewInMemoryConversionRepo()
	dailies := storage.NewInMemoryDailyMetricRepo()

	seedShopDay(t, events, "a.myshopify.com", 3, 2)
	seedShopDay(t, events, "b.myshopify.com", 1, 0)

	if _, err := convs.Insert(context.Background(), &models.Conversion{
		ID: "c1", Shop: "a.myshopify.com", OrderID: "1001",
		CheckoutToken: "tok", Revenue: 19.99, OccurredAt: day.Add(12 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	runner := NewRunner(events, convs, dailies, 2, zap.NewNop(), nil)
	processed, failed, err := runner.RunForDay(context.Background(), day)
	if err != nil {
		t.Fatalf("RunForDay: %v", err)
	}
	if processed != 2 || failed != 0 {
		t.Fatalf("processed=%d failed=%d, want 2/0", processed, failed)
	}

	rows, err := dailies.GetRange(context.Background(), "a.myshopify.com", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows for shop a = %d, want 1", len(rows))
	}
	got := rows[0]
	if got.PageViews != 3 || got.AddToCart != 2 || got.Conversions != 1 {
		t.Errorf("rollup row = %+v, want pv=3 atc=2 conv=1", got)
	}
	if got.Revenue != 2*19.99 {
		t.Errorf("revenue = %v, want %v", got.Revenue, 2*19.99)
	}
}

func TestRunForDayRerunReplacesRows(t *testing.T) {
	events := storage.NewInMemoryEventStore()
	convs := storage.NewInMemoryConversionRepo()
	dailies := storage.NewInMemoryDailyMetricRepo()

	seedShopDay(t, events, "a.myshopify.com", 1, 0)

	runner := NewRunner(events, convs, dailies, 1, zap.NewNop(), nil)
	for i := 0; i < 3; i++ {
		if _, _, err := runner.RunForDay(context.Background(), day); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	rows, err := dailies.GetRange(context.Background(), "a.myshopify.com", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("reruns must not accumulate rows, got %d", len(rows))
	}
	if rows[0].PageViews != 1 {
		t.Errorf("pageViews = %d, want 1", rows[0].PageViews)
	}
}

// failingEventStore breaks ShopDayStats for one shop to exercise
// failure isolation.
type failingEventStore struct {
	*storage.InMemoryEventStore
	failShop string
}

func (f *failingEventStore) ShopDayStats(ctx context.Context, shop string, from, to time.Time) (*models.ShopDayStats, error) {
	if shop == f.failShop {
		return nil, errors.New("simulated aggregation failure")
	}
	return f.InMemoryEventStore.ShopDayStats(ctx, shop, from, to)
}

func TestRunForDayIsolatesShopFailures(t *testing.T) {
	inner := storage.NewInMemoryEventStore()
	events := &failingEventStore{InMemoryEventStore: inner, failShop: "bad.myshopify.com"}
	convs := storage.NewInMemoryConversionRepo()
	dailies := storage.NewInMemoryDailyMetricRepo()

	seedShopDay(t, inner, "bad.myshopify.com", 2, 0)
	seedShopDay(t, inner, "good.myshopify.com", 5, 1)

	runner := NewRunner(events, convs, dailies, 2, zap.NewNop(), nil)
	processed, failed, err := runner.RunForDay(context.Background(), day)
	if err != nil {
		t.Fatalf("a shop failure must not fail the run: %v", err)
	}
	if processed != 2 || failed != 1 {
		t.Fatalf("processed=%d failed=%d, want 2/1", processed, failed)
	}

	goodRows, _ := dailies.GetRange(context.Background(), "good.myshopify.com", day, day.AddDate(0, 0, 1))
	if len(goodRows) != 1 || goodRows[0].PageViews != 5 {
		t.Errorf("healthy shop must still be rolled up, got %+v", goodRows)
	}

	badRows, _ := dailies.GetRange(context.Background(), "bad.myshopify.com", day, day.AddDate(0, 0, 1))
	if len(badRows) != 0 {
		t.Errorf("failed shop must write nothing, got %+v", badRows)
	}
}

func TestSchedulerNextRun(t *testing.T) {
	s := NewScheduler(nil, 15*time.Minute, zap.NewNop())

	now := time.Date(2026, 8, 15, 23, 50, 0, 0, time.UTC)
	next := s.nextRun(now)
	want := time.Date(2026, 8, 16, 0, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextRun(%v) = %v, want %v", now, next, want)
	}

	// Just past midnight but before the delay window closes: run today.
	now = time.Date(2026, 8, 16, 0, 5, 0, 0, time.UTC)
	next = s.nextRun(now)
	if !next.Equal(want) {
		t.Errorf("nextRun(%v) = %v, want %v", now, next, want)
	}
}
