package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/metrics"
	"github.com/bdmapps/stickybar-analytics/internal/models"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
)

// ErrValidation marks a request missing its required fields. The HTTP
// layer maps it to 400; everything else on the track path is a storage
// failure and maps to 500.
var ErrValidation = errors.New("validation failed")

// CountryResolver stamps events with a country from the client IP.
type CountryResolver interface {
	Country(ip string) string
}

// Service is the event ingestor: it validates the two required fields,
// normalizes everything else best-effort, and appends exactly one event
// row per accepted call. There is no deduplication: a user adding to
// cart twice is two events.
type Service struct {
	store   storage.EventStore
	geo     CountryResolver
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates an ingest service. geo may be nil (no enrichment).
func NewService(store storage.EventStore, geo CountryResolver, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		geo:     geo,
		logger:  logger,
		metrics: m,
	}
}

// Track validates, normalizes and persists one behavioral event.
// Malformed optional fields degrade to nil rather than rejecting the
// request: storefront scripts must never be blocked by analytics.
func (s *Service) Track(ctx context.Context, req *models.TrackRequest, clientIP string) (*models.Event, error) {
	if req == nil || req.Shop == "" || req.Event == "" {
		return nil, fmt.Errorf("%w: shop and event are required", ErrValidation)
	}

	e := &models.Event{
		ID:        uuid.New().String(),
		Shop:      req.Shop,
		Type:      req.Event,
		Timestamp: eventTime(req),
		ProductID: rawString(req.ProductID),
		VariantID: rawString(req.VariantID),
		Quantity:  rawInt(req.Quantity),
		Price:     rawFloat(req.Price),
		SessionID: rawString(req.SessionID),
	}

	if s.geo != nil {
		e.Country = s.geo.Country(clientIP)
	}

	if err := s.store.Insert(ctx, e); err != nil {
		s.logger.Error("failed to persist event",
			zap.String("shop", e.Shop),
			zap.String("event_type", e.Type),
			zap.Error(err),
		)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordEventIngested(e.Type)
	}

	s.logger.Debug("event ingested",
		zap.String("shop", e.Shop),
		zap.String("event_type", e.Type),
		zap.String("event_id", e.ID),
	)

	return e, nil
}

// eventTime picks the client timestamp when it parses, preferring the
// canonical field over the legacy `ts` spelling, and falls back to the
// server clock.
func eventTime(req *models.TrackRequest) time.Time {
	if t := rawTime(req.Timestamp); t != nil {
		return *t
	}
	if t := rawTime(req.TS); t != nil {
		return *t
	}
	return time.Now().UTC()
}

// Best-effort raw field parsers. A value that cannot be interpreted is
// dropped, never surfaced as an error.

func rawString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return &s
	}
	// Producers send numeric product/variant ids as bare numbers.
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n.String() != "" {
		v := n.String()
		return &v
	}
	return nil
}

func rawInt(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}
	var i int64
	if err := json.Unmarshal(raw, &i); err == nil {
		return &i
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

func rawFloat(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	// Shopify-style money strings ("19.99").
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

func rawTime(raw json.RawMessage) *time.Time {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			u := t.UTC()
			return &u
		}
		return nil
	}
	// Epoch producers: seconds or milliseconds since 1970.
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		var t time.Time
		if n > 1e12 {
			t = time.UnixMilli(n)
		} else {
			t = time.Unix(n, 0)
		}
		u := t.UTC()
		return &u
	}
	return nil
}
