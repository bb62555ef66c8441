package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics pipeline.
type Metrics struct {
	// Ingest metrics
	EventsIngested *prometheus.CounterVec
	IngestRejected *prometheus.CounterVec
	IngestLatency  *prometheus.HistogramVec

	// Attribution metrics
	AttributionUpserts prometheus.Counter

	// Conversion metrics
	ConversionsRecorded prometheus.Counter
	ConversionsSkipped  *prometheus.CounterVec
	ConversionRevenue   prometheus.Counter

	// Webhook metrics
	WebhookRejections *prometheus.CounterVec

	// Rollup metrics
	RollupRuns         *prometheus.CounterVec
	RollupShopFailures prometheus.Counter
	RollupDuration     prometheus.Histogram

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// System metrics
	DBConnections *prometheus.GaugeVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Behavioral events accepted and persisted",
			},
			[]string{"event_type"},
		),
		IngestRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_rejected_total",
				Help:      "Track requests rejected before storage",
			},
			[]string{"reason"},
		),
		IngestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_latency_seconds",
				Help:      "Track request processing latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"status"},
		),

		AttributionUpserts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribution_upserts_total",
				Help:      "Checkout attribution upserts applied",
			},
		),

		ConversionsRecorded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_recorded_total",
				Help:      "Conversion rows written",
			},
		),
		ConversionsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_skipped_total",
				Help:      "Order webhooks that produced no conversion row",
			},
			[]string{"reason"}, // no_token, no_attribution, duplicate
		),
		ConversionRevenue: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversion_revenue_total",
				Help:      "Total attributed order revenue",
			},
		),

		WebhookRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_rejections_total",
				Help:      "Webhook deliveries rejected before processing",
			},
			[]string{"reason"}, // bad_signature, bad_payload
		),

		RollupRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_runs_total",
				Help:      "Daily rollup executions",
			},
			[]string{"status"}, // ok, partial
		),
		RollupShopFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_shop_failures_total",
				Help:      "Per-shop rollup failures (isolated, non-fatal)",
			},
		),
		RollupDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rollup_duration_seconds",
				Help:      "Wall time of one full rollup run",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),

		CacheLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_cache_lookups_total",
				Help:      "Dashboard report cache lookups",
			},
			[]string{"result"}, // hit, miss
		),

		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),

		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
	}

	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEventIngested records one persisted behavioral event.
func (m *Metrics) RecordEventIngested(eventType string) {
	m.EventsIngested.WithLabelValues(eventType).Inc()
}

// RecordIngestRejected records a track request rejected before storage.
func (m *Metrics) RecordIngestRejected(reason string) {
	m.IngestRejected.WithLabelValues(reason).Inc()
}

// RecordIngestLatency records track request latency.
func (m *Metrics) RecordIngestLatency(status string, latency time.Duration) {
	m.IngestLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordAttributionUpsert records an attribution upsert.
func (m *Metrics) RecordAttributionUpsert() {
	m.AttributionUpserts.Inc()
}

// RecordConversion records a new conversion row and its revenue.
func (m *Metrics) RecordConversion(revenue float64) {
	m.ConversionsRecorded.Inc()
	if revenue > 0 {
		m.ConversionRevenue.Add(revenue)
	}
}

// RecordConversionSkipped records an order webhook that wrote nothing.
func (m *Metrics) RecordConversionSkipped(reason string) {
	m.ConversionsSkipped.WithLabelValues(reason).Inc()
}

// RecordWebhookRejection records a webhook rejected before processing.
func (m *Metrics) RecordWebhookRejection(reason string) {
	m.WebhookRejections.WithLabelValues(reason).Inc()
}

// RecordRollupRun records one rollup execution.
func (m *Metrics) RecordRollupRun(status string, duration time.Duration) {
	m.RollupRuns.WithLabelValues(status).Inc()
	m.RollupDuration.Observe(duration.Seconds())
}

// RecordRollupShopFailure records an isolated per-shop rollup failure.
func (m *Metrics) RecordRollupShopFailure() {
	m.RollupShopFailures.Inc()
}

// RecordCacheLookup records a report cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
