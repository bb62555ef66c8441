package attribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/metrics"
	"github.com/bdmapps/stickybar-analytics/internal/models"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
)

// ErrValidation marks a request missing its required fields. The HTTP
// layer maps it to 400.
var ErrValidation = errors.New("validation failed")

// Tracker records checkout-token attributions. Upserts are idempotent:
// replays and out-of-order deliveries for the same token converge to
// the latest product/variant instead of accumulating rows.
type Tracker struct {
	repo    storage.AttributionRepo
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewTracker creates a checkout attribution tracker.
func NewTracker(repo storage.AttributionRepo, logger *zap.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		repo:    repo,
		logger:  logger,
		metrics: m,
	}
}

// TrackCheckout validates and upserts one attribution.
func (t *Tracker) TrackCheckout(ctx context.Context, req *models.CheckoutRequest) (*models.Attribution, error) {
	if req == nil || req.Shop == "" || req.Token() == "" {
		return nil, fmt.Errorf("%w: shop and checkoutToken are required", ErrValidation)
	}

	a := &models.Attribution{
		Shop:          req.Shop,
		CheckoutToken: req.Token(),
		ProductID:     optional(req.ProductID),
		VariantID:     optional(req.VariantID),
		OccurredAt:    occurredAt(req.OccurredAt),
	}

	if err := t.repo.Upsert(ctx, a); err != nil {
		t.logger.Error("failed to upsert attribution",
			zap.String("shop", a.Shop),
			zap.String("checkout_token", a.CheckoutToken),
			zap.Error(err),
		)
		return nil, err
	}

	if t.metrics != nil {
		t.metrics.RecordAttributionUpsert()
	}

	t.logger.Debug("attribution recorded",
		zap.String("shop", a.Shop),
		zap.String("checkout_token", a.CheckoutToken),
	)

	return a, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// occurredAt parses the client timestamp, falling back to the server
// clock when absent or malformed.
func occurredAt(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
