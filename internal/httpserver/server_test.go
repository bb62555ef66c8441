package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/config"
	"github.com/bdmapps/stickybar-analytics/internal/models"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
	"github.com/bdmapps/stickybar-analytics/internal/webhook"
)

const (
	testShop   = "demo.myshopify.com"
	testSecret = "shpss_test_secret"
)

func newTestServer(t *testing.T) (http.Handler, *Stores) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Shopify.WebhookSecret = testSecret
	cfg.Metrics.Enabled = false

	deps := &Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	}
	stores := BuildStores(deps)
	return NewServer(deps, stores), stores
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// ---- /track ----

func TestTrackEndpoint(t *testing.T) {
	h, stores := newTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/track",
		`{"shop":"demo.myshopify.com","event":"page_view","sessionId":"s1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rr.Code, rr.Body.String())
	}

	var resp map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || !resp["ok"] {
		t.Fatalf("body = %s, want {\"ok\":true}", rr.Body.String())
	}

	if stores.Events.(*storage.InMemoryEventStore).Len() != 1 {
		t.Error("expected one stored event")
	}
}

func TestTrackMissingRequiredFields(t *testing.T) {
	h, stores := newTestServer(t)

	for _, body := range []string{
		`{}`,
		`{"shop":"demo.myshopify.com"}`,
		`{"event":"page_view"}`,
	} {
		rr := doJSON(t, h, http.MethodPost, "/track", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rr.Code)
		}
	}

	if stores.Events.(*storage.InMemoryEventStore).Len() != 0 {
		t.Error("rejected requests must not store events")
	}
}

func TestTrackMalformedOptionalFieldAccepted(t *testing.T) {
	h, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/track",
		`{"shop":"demo.myshopify.com","event":"add_to_cart","price":{"bogus":true}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("malformed optional field must not reject, got %d", rr.Code)
	}
}

func TestTrackMethodNotAllowed(t *testing.T) {
	h, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodGet, "/track", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}

// ---- /checkout ----

func TestCheckoutUpsertIdempotent(t *testing.T) {
	h, stores := newTestServer(t)

	body := `{"shop":"demo.myshopify.com","checkoutToken":"tok_1","productId":"prod_1"}`
	for i := 0; i < 3; i++ {
		rr := doJSON(t, h, http.MethodPost, "/checkout", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d", i, rr.Code)
		}
	}

	if stores.Attributions.(*storage.InMemoryAttributionRepo).Len() != 1 {
		t.Error("repeated checkout deliveries must keep a single attribution row")
	}
}

func TestCheckoutMissingToken(t *testing.T) {
	h, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodPost, "/checkout", `{"shop":"demo.myshopify.com"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

// ---- /webhooks/orders-paid ----

func signedWebhook(t *testing.T, h http.Handler, body []byte, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders-paid", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.ShopDomainHeader, testShop)
	if secret != "" {
		req.Header.Set(webhook.SignatureHeader, webhook.Sign(secret, body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, stores := newTestServer(t)
	body := []byte(`{"id":1001,"checkout_token":"tok_1","total_price":"19.99"}`)

	rr := signedWebhook(t, h, body, "wrong-secret")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	if exists, _ := stores.Conversions.ExistsByOrderID(context.Background(), testShop, "1001"); exists {
		t.Error("rejected delivery must not be processed")
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h, _ := newTestServer(t)
	rr := signedWebhook(t, h, []byte(`{"id":1001}`), "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestWebhookReplayRecordsOneConversion(t *testing.T) {
	h, stores := newTestServer(t)

	checkout := doJSON(t, h, http.MethodPost, "/checkout",
		`{"shop":"demo.myshopify.com","checkoutToken":"tok_1","productId":"prod_1"}`)
	if checkout.Code != http.StatusOK {
		t.Fatalf("checkout: %d", checkout.Code)
	}

	body := []byte(`{"id":1001,"checkout_token":"tok_1","total_price":"19.99","currency":"USD","processed_at":"2026-08-15T14:00:00Z"}`)

	for i := 0; i < 3; i++ {
		rr := signedWebhook(t, h, body, testSecret)
		if rr.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200; body %s", i, rr.Code, rr.Body.String())
		}
	}

	from := mustTime(t, "2026-08-15T00:00:00Z")
	to := mustTime(t, "2026-08-16T00:00:00Z")
	count, revenue, err := stores.Conversions.WindowTotals(context.Background(), testShop, from, to)
	if err != nil {
		t.Fatalf("WindowTotals: %v", err)
	}
	if count != 1 {
		t.Errorf("conversions = %d, want exactly 1 after replays", count)
	}
	if revenue != 19.99 {
		t.Errorf("revenue = %v, want 19.99", revenue)
	}
}

func TestWebhookNoAttributionStillAcknowledged(t *testing.T) {
	h, _ := newTestServer(t)

	body := []byte(`{"id":2002,"checkout_token":"tok_unknown","total_price":"5.00"}`)
	rr := signedWebhook(t, h, body, testSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the platform stops retrying", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %s", rr.Body.String())
	}
	if resp["status"] != "no_attribution" {
		t.Errorf("status = %q, want no_attribution", resp["status"])
	}
}

func TestWebhookMissingOrderID(t *testing.T) {
	h, _ := newTestServer(t)
	body := []byte(`{"checkout_token":"tok_1","total_price":"5.00"}`)
	rr := signedWebhook(t, h, body, testSecret)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

// ---- dashboard reads ----

func TestSummaryEndpoint(t *testing.T) {
	h, _ := newTestServer(t)

	if rr := doJSON(t, h, http.MethodPost, "/track",
		`{"shop":"demo.myshopify.com","event":"page_view"}`); rr.Code != http.StatusOK {
		t.Fatalf("track: %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodPost, "/track",
		`{"shop":"demo.myshopify.com","event":"add_to_cart","productId":"prod_1"}`); rr.Code != http.StatusOK {
		t.Fatalf("track: %d", rr.Code)
	}

	rr := doJSON(t, h, http.MethodGet, "/summary?shop="+testShop+"&days=7", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp models.SummaryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.PageViews != 1 || resp.AddToCart != 1 {
		t.Errorf("summary = %+v, want pv=1 atc=1", resp)
	}
	if resp.ATCRate != 100 {
		t.Errorf("atcRate = %v, want 100", resp.ATCRate)
	}
}

func TestSummaryRequiresShop(t *testing.T) {
	h, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodGet, "/summary", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestSummaryDaysClamped(t *testing.T) {
	h, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodGet, "/summary?shop="+testShop+"&days=9999", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp models.SummaryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Days != maxDays {
		t.Errorf("days = %d, want clamped to %d", resp.Days, maxDays)
	}

	rr = doJSON(t, h, http.MethodGet, "/summary?shop="+testShop+"&days=-5", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Days != 1 {
		t.Errorf("days = %d, want clamped to 1", resp.Days)
	}
}

func TestTimeseriesEndpointNoDuplicateDays(t *testing.T) {
	h, _ := newTestServer(t)

	for i := 0; i < 2; i++ {
		if rr := doJSON(t, h, http.MethodPost, "/track",
			`{"shop":"demo.myshopify.com","event":"page_view"}`); rr.Code != http.StatusOK {
			t.Fatalf("track: %d", rr.Code)
		}
	}

	rr := doJSON(t, h, http.MethodGet, "/timeseries?shop="+testShop+"&days=7", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp models.TimeseriesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, p := range resp.Points {
		if seen[p.Day] {
			t.Fatalf("day %s appears twice", p.Day)
		}
		seen[p.Day] = true
	}
}

func TestProductsEndpoint(t *testing.T) {
	h, _ := newTestServer(t)

	rr := doJSON(t, h, http.MethodGet, "/products?shop="+testShop, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp models.ProductsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Days != defaultDays {
		t.Errorf("days = %d, want default %d", resp.Days, defaultDays)
	}
	if resp.TopATC == nil || resp.TopRevenue == nil {
		t.Error("empty rankings must serialize as [], not null")
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	rr := doJSON(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %s: %v", s, err)
	}
	return v
}
