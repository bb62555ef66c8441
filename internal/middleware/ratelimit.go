package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bdmapps/stickybar-analytics/internal/config"
	"github.com/bdmapps/stickybar-analytics/internal/metrics"
)

// RateLimitMiddleware implements token bucket rate limiting with two
// buckets: storefront ingestion traffic (/track, /checkout) gets the
// large bucket, dashboard reads get the management bucket. The webhook
// path is exempt because Shopify punishes slow or rejected deliveries
// by dropping the subscription.
type RateLimitMiddleware struct {
	cfg          config.RateLimitConfig
	logger       *zap.Logger
	metrics      *metrics.Metrics
	trackLimiter *rate.Limiter
	mgmtLimiter  *rate.Limiter
}

// NewRateLimitMiddleware creates a new rate limiting middleware.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, logger *zap.Logger, m *metrics.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		trackLimiter: rate.NewLimiter(rate.Limit(cfg.TrackRPS), cfg.TrackBurst),
		mgmtLimiter:  rate.NewLimiter(rate.Limit(cfg.MgmtRPS), cfg.MgmtBurst),
	}
}

// Handler wraps an http.Handler with rate limiting.
func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled || rl.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		var limiter *rate.Limiter
		if rl.isIngestEndpoint(r.URL.Path) {
			limiter = rl.trackLimiter
		} else {
			limiter = rl.mgmtLimiter
		}

		if !limiter.Allow() {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitHit(r.URL.Path)
			}
			rl.logger.Warn("rate limit exceeded",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			rl.tooManyRequests(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isIngestEndpoint returns true for storefront-facing write paths.
func (rl *RateLimitMiddleware) isIngestEndpoint(path string) bool {
	return path == "/track" || path == "/checkout"
}

func (rl *RateLimitMiddleware) isExempt(path string) bool {
	return strings.HasPrefix(path, "/webhooks/") || path == "/health" || path == "/metrics"
}

// tooManyRequests sends a 429 response.
func (rl *RateLimitMiddleware) tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

// ClientIP extracts the client IP from proxy headers, falling back to
// the connection address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
