package analytics

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/models"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
)

const testShop = "demo.myshopify.com"

func newTestService() (*Service, *storage.InMemoryEventStore, *storage.InMemoryConversionRepo) {
	events := storage.NewInMemoryEventStore()
	convs := storage.NewInMemoryConversionRepo()
	return NewService(events, convs, nil, 0, zap.NewNop(), nil), events, convs
}

func insertEvent(t *testing.T, events *storage.InMemoryEventStore, eventType string, at time.Time, productID string) {
	t.Helper()
	e := &models.Event{
		ID:        "evt",
		Shop:      testShop,
		Type:      eventType,
		Timestamp: at,
	}
	if productID != "" {
		e.ProductID = &productID
	}
	if err := events.Insert(context.Background(), e); err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func insertConversion(t *testing.T, convs *storage.InMemoryConversionRepo, orderID string, revenue float64, at time.Time, productID string) {
	t.Helper()
	c := &models.Conversion{
		ID:            "conv-" + orderID,
		Shop:          testShop,
		OrderID:       orderID,
		CheckoutToken: "tok-" + orderID,
		Revenue:       revenue,
		Currency:      "USD",
		OccurredAt:    at,
	}
	if productID != "" {
		c.ProductID = &productID
	}
	if _, err := convs.Insert(context.Background(), c); err != nil {
		t.Fatalf("insert conversion: %v", err)
	}
}

func TestSummary(t *testing.T) {
	svc, events, convs := newTestService()
	now := time.Now().UTC()

	insertEvent(t, events, models.EventPageView, now.Add(-2*time.Hour), "")
	insertEvent(t, events, models.EventPageView, now.Add(-1*time.Hour), "")
	insertEvent(t, events, models.EventAddToCart, now.Add(-1*time.Hour), "prod_1")
	insertConversion(t, convs, "1001", 19.99, now.Add(-30*time.Minute), "prod_1")

	resp, err := svc.Summary(context.Background(), testShop, 7)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if resp.PageViews != 2 {
		t.Errorf("pageViews = %d, want 2", resp.PageViews)
	}
	if resp.AddToCart != 1 {
		t.Errorf("addToCart = %d, want 1", resp.AddToCart)
	}
	if resp.ATCRate != 50 {
		t.Errorf("atcRate = %v, want 50", resp.ATCRate)
	}
	if resp.Conversions != 1 {
		t.Errorf("conversions = %d, want 1", resp.Conversions)
	}
	if resp.Revenue != 19.99 {
		t.Errorf("revenue = %v, want 19.99", resp.Revenue)
	}
	if resp.Days != 7 {
		t.Errorf("days = %d, want 7", resp.Days)
	}
}

func TestSummaryZeroPageViewsRateIsZero(t *testing.T) {
	svc, events, _ := newTestService()
	insertEvent(t, events, models.EventAddToCart, time.Now().UTC().Add(-time.Hour), "prod_1")

	resp, err := svc.Summary(context.Background(), testShop, 7)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if resp.ATCRate != 0 {
		t.Errorf("atcRate = %v, want 0 when there are no page views", resp.ATCRate)
	}
}

func TestSummaryEmptyShop(t *testing.T) {
	svc, _, _ := newTestService()

	resp, err := svc.Summary(context.Background(), "unknown.myshopify.com", 30)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if resp.PageViews != 0 || resp.AddToCart != 0 || resp.Conversions != 0 || resp.Revenue != 0 || resp.ATCRate != 0 {
		t.Errorf("shop with no data should report zeroes, got %+v", resp)
	}
}

func TestTimeseriesMergesDaysWithoutDuplicates(t *testing.T) {
	svc, events, convs := newTestService()
	now := time.Now().UTC()
	yesterday := now.AddDate(0, 0, -1)
	threeDaysAgo := now.AddDate(0, 0, -3)

	// yesterday has both events and a conversion; it must appear once.
	insertEvent(t, events, models.EventPageView, yesterday, "")
	insertEvent(t, events, models.EventAddToCart, yesterday, "prod_1")
	insertConversion(t, convs, "1001", 42.00, yesterday, "prod_1")

	// three days ago has only a conversion.
	insertConversion(t, convs, "1002", 10.00, threeDaysAgo, "")

	resp, err := svc.Timeseries(context.Background(), testShop, 7)
	if err != nil {
		t.Fatalf("Timeseries: %v", err)
	}

	if len(resp.Points) != 2 {
		t.Fatalf("points = %d, want 2 (sparse, no zero fill)", len(resp.Points))
	}

	seen := make(map[string]bool)
	for _, p := range resp.Points {
		if seen[p.Day] {
			t.Fatalf("day %s appears more than once", p.Day)
		}
		seen[p.Day] = true
	}

	if resp.Points[0].Day >= resp.Points[1].Day {
		t.Errorf("points must be sorted ascending: %s then %s", resp.Points[0].Day, resp.Points[1].Day)
	}

	merged := resp.Points[1]
	if merged.Day != models.DayKey(yesterday) {
		t.Fatalf("last point day = %s, want %s", merged.Day, models.DayKey(yesterday))
	}
	if merged.PageViews != 1 || merged.AddToCart != 1 || merged.Conversions != 1 || merged.Revenue != 42.00 {
		t.Errorf("merged day = %+v, want both sides combined", merged)
	}
}

func TestProducts(t *testing.T) {
	svc, events, convs := newTestService()
	now := time.Now().UTC()

	insertEvent(t, events, models.EventAddToCart, now.Add(-time.Hour), "prod_1")
	insertEvent(t, events, models.EventAddToCart, now.Add(-time.Hour), "prod_1")
	insertEvent(t, events, models.EventAddToCart, now.Add(-time.Hour), "prod_2")

	insertConversion(t, convs, "1001", 50.00, now.Add(-time.Hour), "prod_2")
	insertConversion(t, convs, "1002", 15.00, now.Add(-time.Hour), "prod_1")

	resp, err := svc.Products(context.Background(), testShop, 7)
	if err != nil {
		t.Fatalf("Products: %v", err)
	}

	if len(resp.TopATC) != 2 || resp.TopATC[0].ProductID != "prod_1" || resp.TopATC[0].ATC != 2 {
		t.Errorf("topAtc = %+v, want prod_1 first with 2", resp.TopATC)
	}
	if len(resp.TopRevenue) != 2 || resp.TopRevenue[0].ProductID != "prod_2" || resp.TopRevenue[0].Revenue != 50.00 {
		t.Errorf("topRevenue = %+v, want prod_2 first with 50.00", resp.TopRevenue)
	}
}

func TestProductsEmptyListsNotNil(t *testing.T) {
	svc, _, _ := newTestService()

	resp, err := svc.Products(context.Background(), testShop, 7)
	if err != nil {
		t.Fatalf("Products: %v", err)
	}
	if resp.TopATC == nil || resp.TopRevenue == nil {
		t.Error("empty rankings must be empty slices, not nil")
	}
}
