package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/metrics"
	"github.com/bdmapps/stickybar-analytics/internal/models"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
)

// topProductsLimit caps the ranked product lists returned by /products.
const topProductsLimit = 20

// Service answers the merchant dashboard queries. Reads hit the raw
// stores over a trailing [now-days, now) window; responses are cached
// in Redis per (report, shop, days) so a dashboard refresh storm does
// not fan out to the databases.
type Service struct {
	events      storage.EventStore
	conversions storage.ConversionRepo
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewService creates an analytics service. cache may be nil, which
// disables response caching.
func NewService(events storage.EventStore, conversions storage.ConversionRepo, cache *redis.Client, cacheTTL time.Duration, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		events:      events,
		conversions: conversions,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger,
		metrics:     m,
	}
}

// Summary returns whole-window totals for a shop.
func (s *Service) Summary(ctx context.Context, shop string, days int) (*models.SummaryResponse, error) {
	key := s.cacheKey("summary", shop, days)
	var cached models.SummaryResponse
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	from, to := window(days)

	counts, err := s.events.CountByType(ctx, shop, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	convCount, revenue, err := s.conversions.WindowTotals(ctx, shop, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to total conversions: %w", err)
	}

	pageViews := counts[models.EventPageView]
	addToCart := counts[models.EventAddToCart]

	resp := &models.SummaryResponse{
		Days:        days,
		PageViews:   pageViews,
		AddToCart:   addToCart,
		ATCRate:     rate(addToCart, pageViews),
		Conversions: convCount,
		Revenue:     revenue,
	}

	s.cacheSet(ctx, key, resp)
	return resp, nil
}

// Timeseries returns per-day points merging event and conversion
// totals. Points are sparse and sorted ascending by day; a day appears
// at most once even when both sides have activity on it.
func (s *Service) Timeseries(ctx context.Context, shop string, days int) (*models.TimeseriesResponse, error) {
	key := s.cacheKey("timeseries", shop, days)
	var cached models.TimeseriesResponse
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	from, to := window(days)

	eventBuckets, err := s.events.DayBuckets(ctx, shop, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query event day buckets: %w", err)
	}
	convBuckets, err := s.conversions.DayBuckets(ctx, shop, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversion day buckets: %w", err)
	}

	merged := make(map[string]*models.TimeseriesPoint)
	for _, b := range eventBuckets {
		merged[b.Day] = &models.TimeseriesPoint{
			Day:       b.Day,
			PageViews: b.PageViews,
			AddToCart: b.AddToCart,
		}
	}
	for _, b := range convBuckets {
		p, ok := merged[b.Day]
		if !ok {
			p = &models.TimeseriesPoint{Day: b.Day}
			merged[b.Day] = p
		}
		p.Conversions = b.Conversions
		p.Revenue = b.Revenue
	}

	points := make([]models.TimeseriesPoint, 0, len(merged))
	for _, p := range merged {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })

	resp := &models.TimeseriesResponse{Days: days, Points: points}
	s.cacheSet(ctx, key, resp)
	return resp, nil
}

// Products returns the two ranked product lists for a shop.
func (s *Service) Products(ctx context.Context, shop string, days int) (*models.ProductsResponse, error) {
	key := s.cacheKey("products", shop, days)
	var cached models.ProductsResponse
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	from, to := window(days)

	topATC, err := s.events.TopProductsByAddToCart(ctx, shop, from, to, topProductsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank products by add-to-cart: %w", err)
	}
	topRevenue, err := s.conversions.TopProductsByRevenue(ctx, shop, from, to, topProductsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank products by revenue: %w", err)
	}

	if topATC == nil {
		topATC = []models.ProductATC{}
	}
	if topRevenue == nil {
		topRevenue = []models.ProductRevenue{}
	}

	resp := &models.ProductsResponse{Days: days, TopATC: topATC, TopRevenue: topRevenue}
	s.cacheSet(ctx, key, resp)
	return resp, nil
}

// window returns the trailing half-open [now-days, now) query window.
func window(days int) (time.Time, time.Time) {
	to := time.Now().UTC()
	return to.AddDate(0, 0, -days), to
}

// rate returns the add-to-cart rate as a percentage, guarding the
// division: a shop with add-to-carts but no page views (tracking
// misconfigured, or bot traffic filtered upstream) reports zero
// instead of Inf.
func rate(numerator, denominator int64) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator) * 100
}

func (s *Service) cacheKey(report, shop string, days int) string {
	return fmt.Sprintf("stickybar:report:%s:%s:%d", report, shop, days)
}

// cacheGet reads and unmarshals a cached response. Any cache failure is
// treated as a miss.
func (s *Service) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(false)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("report cache entry corrupt", zap.String("key", key), zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(false)
		}
		return false
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(true)
	}
	return true
}

// cacheSet stores a response best-effort; failures only log.
func (s *Service) cacheSet(ctx context.Context, key string, v interface{}) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
}
