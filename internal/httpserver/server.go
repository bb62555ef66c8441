package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/analytics"
	"github.com/bdmapps/stickybar-analytics/internal/attribution"
	"github.com/bdmapps/stickybar-analytics/internal/config"
	"github.com/bdmapps/stickybar-analytics/internal/database"
	"github.com/bdmapps/stickybar-analytics/internal/ingest"
	"github.com/bdmapps/stickybar-analytics/internal/metrics"
	"github.com/bdmapps/stickybar-analytics/internal/middleware"
	"github.com/bdmapps/stickybar-analytics/internal/models"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
	"github.com/bdmapps/stickybar-analytics/internal/webhook"
)

const (
	defaultDays = 30
	maxDays     = 365

	// maxBodyBytes bounds request bodies; storefront events and order
	// webhooks are both small.
	maxBodyBytes = 1 << 20
)

// Dependencies holds all external dependencies for the server. Any
// database handle may be nil; the server then falls back to in-memory
// stores so a partial outage degrades instead of failing startup.
type Dependencies struct {
	PG      *database.PostgresDB
	CH      *database.ClickHouseDB
	Redis   *database.RedisDB
	Geo     ingest.CountryResolver
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Stores bundles the storage implementations the server was wired
// with. Exposed so the rollup runner in main shares the same stores.
type Stores struct {
	Events       storage.EventStore
	Attributions storage.AttributionRepo
	Conversions  storage.ConversionRepo
	Dailies      storage.DailyMetricRepo
}

// Server wraps HTTP handlers and the analytics services.
type Server struct {
	ingestService  *ingest.Service
	tracker        *attribution.Tracker
	recorder       *attribution.Recorder
	analytics      *analytics.Service
	webhookSecret string
	logger        *zap.Logger
	metrics       *metrics.Metrics
	config        *config.Config
}

// BuildStores wires the storage layer from whatever databases are
// reachable.
func BuildStores(deps *Dependencies) *Stores {
	st := &Stores{}

	if deps.CH != nil {
		st.Events = storage.NewClickHouseEventStore(deps.CH.Conn)
	} else {
		deps.Logger.Warn("clickhouse unavailable, using in-memory event store")
		st.Events = storage.NewInMemoryEventStore()
	}

	if deps.PG != nil {
		st.Attributions = storage.NewPostgresAttributionRepo(deps.PG.Pool)
		st.Conversions = storage.NewPostgresConversionRepo(deps.PG.Pool)
		st.Dailies = storage.NewPostgresDailyMetricRepo(deps.PG.Pool)
	} else {
		deps.Logger.Warn("postgres unavailable, using in-memory repositories")
		st.Attributions = storage.NewInMemoryAttributionRepo()
		st.Conversions = storage.NewInMemoryConversionRepo()
		st.Dailies = storage.NewInMemoryDailyMetricRepo()
	}

	return st
}

// NewServer constructs an http.Handler with all routes registered.
func NewServer(deps *Dependencies, stores *Stores) http.Handler {
	var cache *redis.Client
	if deps.Redis != nil {
		cache = deps.Redis.Client
	}

	s := &Server{
		ingestService: ingest.NewService(stores.Events, deps.Geo, deps.Logger, deps.Metrics),
		tracker:       attribution.NewTracker(stores.Attributions, deps.Logger, deps.Metrics),
		recorder:      attribution.NewRecorder(stores.Attributions, stores.Conversions, deps.Logger, deps.Metrics),
		analytics:     analytics.NewService(stores.Events, stores.Conversions, cache, deps.Config.Cache.TTL, deps.Logger, deps.Metrics),
		webhookSecret: deps.Config.Shopify.WebhookSecret,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		config:        deps.Config,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Storefront ingestion (no auth; rate limited by the track bucket)
	mux.HandleFunc("/track", s.handleTrack)
	mux.HandleFunc("/checkout", s.handleCheckout)

	// Platform webhooks (HMAC-verified, no API key)
	mux.HandleFunc("/webhooks/orders-paid", s.handleOrdersPaid)

	// Dashboard reads (API key required)
	mux.HandleFunc("/summary", s.handleSummary)
	mux.HandleFunc("/timeseries", s.handleTimeseries)
	mux.HandleFunc("/products", s.handleProducts)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Event Ingestion ----

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()

	var req models.TrackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.recordIngestOutcome("rejected", "invalid_json", start)
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	_, err := s.ingestService.Track(r.Context(), &req, middleware.ClientIP(r))
	if err != nil {
		if errors.Is(err, ingest.ErrValidation) {
			s.recordIngestOutcome("rejected", "missing_fields", start)
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.recordIngestOutcome("error", "", start)
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.recordIngestOutcome("ok", "", start)
	s.jsonResponse(w, map[string]bool{"ok": true})
}

func (s *Server) recordIngestOutcome(status, rejectReason string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordIngestLatency(status, time.Since(start))
	if rejectReason != "" {
		s.metrics.RecordIngestRejected(rejectReason)
	}
}

// ---- Checkout Attribution ----

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.CheckoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	if _, err := s.tracker.TrackCheckout(r.Context(), &req); err != nil {
		if errors.Is(err, attribution.ErrValidation) {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]bool{"ok": true})
}

// ---- Orders Paid Webhook ----

// handleOrdersPaid verifies the platform signature over the raw body
// before parsing anything. After verification every business outcome
// (recorded, no token, no attribution, duplicate) returns 200 so the
// platform stops retrying; only a storage failure returns 500 and
// leans on the retry plus the idempotent write.
func (s *Server) handleOrdersPaid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !webhook.VerifySignature(s.webhookSecret, body, r.Header.Get(webhook.SignatureHeader)) {
		if s.metrics != nil {
			s.metrics.RecordWebhookRejection("bad_signature")
		}
		s.logger.Warn("webhook signature verification failed",
			zap.String("shop", r.Header.Get(webhook.ShopDomainHeader)),
			zap.String("remote_addr", r.RemoteAddr),
		)
		s.errorResponse(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	shop := r.Header.Get(webhook.ShopDomainHeader)

	var payload models.OrderPaidPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		if s.metrics != nil {
			s.metrics.RecordWebhookRejection("bad_payload")
		}
		s.errorResponse(w, "invalid payload", http.StatusBadRequest)
		return
	}

	outcome, _, err := s.recorder.RecordOrderPaid(r.Context(), shop, &payload)
	if err != nil {
		if errors.Is(err, attribution.ErrValidation) {
			if s.metrics != nil {
				s.metrics.RecordWebhookRejection("bad_payload")
			}
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]string{"status": string(outcome)})
}

// ---- Dashboard Reports ----

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	shop, days, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	resp, err := s.analytics.Summary(r.Context(), shop, days)
	if err != nil {
		s.logger.Error("summary query failed", zap.String("shop", shop), zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, resp)
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	shop, days, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	resp, err := s.analytics.Timeseries(r.Context(), shop, days)
	if err != nil {
		s.logger.Error("timeseries query failed", zap.String("shop", shop), zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, resp)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	shop, days, ok := s.reportParams(w, r)
	if !ok {
		return
	}

	resp, err := s.analytics.Products(r.Context(), shop, days)
	if err != nil {
		s.logger.Error("products query failed", zap.String("shop", shop), zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, resp)
}

// reportParams validates the shared query parameters of the dashboard
// endpoints. days defaults to 30 and is clamped to [1, 365].
func (s *Server) reportParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", 0, false
	}

	shop := r.URL.Query().Get("shop")
	if shop == "" {
		s.errorResponse(w, "shop is required", http.StatusBadRequest)
		return "", 0, false
	}

	days := defaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			days = v
		}
	}
	if days < 1 {
		days = 1
	}
	if days > maxDays {
		days = maxDays
	}

	return shop, days, true
}

// ---- Helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
