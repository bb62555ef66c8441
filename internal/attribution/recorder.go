package attribution

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/metrics"
	"github.com/bdmapps/stickybar-analytics/internal/models"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
)

// Outcome classifies what a webhook delivery did. Every outcome except
// a storage failure is a success from the platform's point of view:
// the delivery was consumed and must not be retried.
type Outcome string

const (
	OutcomeRecorded      Outcome = "recorded"
	OutcomeNoToken       Outcome = "no_token"
	OutcomeNoAttribution Outcome = "no_attribution"
	OutcomeDuplicate     Outcome = "duplicate"
)

// Recorder turns orders/paid webhook deliveries into conversions. An
// order converts only when its checkout token matches a stored
// attribution for the same shop, and at most one conversion ever
// exists per (shop, order id).
type Recorder struct {
	attributions storage.AttributionRepo
	conversions  storage.ConversionRepo
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewRecorder creates a conversion recorder.
func NewRecorder(attributions storage.AttributionRepo, conversions storage.ConversionRepo, logger *zap.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		attributions: attributions,
		conversions:  conversions,
		logger:       logger,
		metrics:      m,
	}
}

// RecordOrderPaid runs the guarded conversion write for one delivery.
// It returns a non-nil error only on storage failure; business no-ops
// (no token, no attribution, duplicate order) are reported through the
// outcome so the handler can acknowledge the delivery.
func (r *Recorder) RecordOrderPaid(ctx context.Context, shop string, payload *models.OrderPaidPayload) (Outcome, *models.Conversion, error) {
	if payload == nil || shop == "" || payload.ID.String() == "" {
		return "", nil, fmt.Errorf("%w: shop and order id are required", ErrValidation)
	}
	orderID := payload.ID.String()

	if payload.CheckoutToken == "" {
		r.skip(shop, orderID, string(OutcomeNoToken))
		return OutcomeNoToken, nil, nil
	}

	attr, err := r.attributions.GetByToken(ctx, shop, payload.CheckoutToken)
	if err != nil {
		return "", nil, fmt.Errorf("failed to look up attribution: %w", err)
	}
	if attr == nil {
		r.skip(shop, orderID, string(OutcomeNoAttribution))
		return OutcomeNoAttribution, nil, nil
	}

	// Cheap pre-check; the unique constraint below is the real guard
	// against a concurrent duplicate delivery.
	exists, err := r.conversions.ExistsByOrderID(ctx, shop, orderID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to check for existing conversion: %w", err)
	}
	if exists {
		r.skip(shop, orderID, string(OutcomeDuplicate))
		return OutcomeDuplicate, nil, nil
	}

	c := &models.Conversion{
		ID:            uuid.New().String(),
		Shop:          shop,
		OrderID:       orderID,
		CheckoutToken: payload.CheckoutToken,
		ProductID:     attr.ProductID,
		VariantID:     attr.VariantID,
		Revenue:       parseRevenue(payload.TotalPrice),
		Currency:      currencyOrDefault(payload.Currency),
		OccurredAt:    orderTime(payload),
	}

	inserted, err := r.conversions.Insert(ctx, c)
	if err != nil {
		r.logger.Error("failed to insert conversion",
			zap.String("shop", shop),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return "", nil, err
	}
	if !inserted {
		r.skip(shop, orderID, string(OutcomeDuplicate))
		return OutcomeDuplicate, nil, nil
	}

	if r.metrics != nil {
		r.metrics.RecordConversion(c.Revenue)
	}

	r.logger.Info("conversion recorded",
		zap.String("shop", shop),
		zap.String("order_id", orderID),
		zap.Float64("revenue", c.Revenue),
		zap.String("currency", c.Currency),
	)

	return OutcomeRecorded, c, nil
}

func (r *Recorder) skip(shop, orderID, reason string) {
	if r.metrics != nil {
		r.metrics.RecordConversionSkipped(reason)
	}
	r.logger.Debug("conversion skipped",
		zap.String("shop", shop),
		zap.String("order_id", orderID),
		zap.String("reason", reason),
	)
}

// parseRevenue reads Shopify's decimal-string money format. Malformed
// amounts record a zero-revenue conversion rather than dropping the
// order.
func parseRevenue(totalPrice string) float64 {
	if totalPrice == "" {
		return 0
	}
	v, err := strconv.ParseFloat(totalPrice, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return "USD"
	}
	return currency
}

// orderTime prefers processed_at, then created_at, then the server
// clock.
func orderTime(payload *models.OrderPaidPayload) time.Time {
	for _, s := range []string{payload.ProcessedAt, payload.CreatedAt} {
		if s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
