package rollup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bdmapps/stickybar-analytics/internal/metrics"
	"github.com/bdmapps/stickybar-analytics/internal/models"
	"github.com/bdmapps/stickybar-analytics/internal/storage"
)

// Runner computes the nightly per-shop daily metric rows. A run covers
// one closed UTC day and upserts one row per shop that produced events
// that day. Shop failures are isolated: a shop whose aggregation or
// write fails is logged and skipped, and the run continues.
type Runner struct {
	events      storage.EventStore
	conversions storage.ConversionRepo
	dailies     storage.DailyMetricRepo
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewRunner creates a rollup runner. concurrency bounds the number of
// shops aggregated in parallel.
func NewRunner(events storage.EventStore, conversions storage.ConversionRepo, dailies storage.DailyMetricRepo, concurrency int, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		events:      events,
		conversions: conversions,
		dailies:     dailies,
		concurrency: concurrency,
		logger:      logger,
		metrics:     m,
	}
}

// RunForDay rolls up the UTC calendar day containing day. Rerunning
// for the same day replaces the existing rows, so manual backfills are
// safe. Returns the number of shops processed and the number that
// failed.
func (r *Runner) RunForDay(ctx context.Context, day time.Time) (processed, failed int64, err error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)
	started := time.Now()

	shops, err := r.events.ActiveShops(ctx, from, to)
	if err != nil {
		r.logger.Error("rollup failed to list active shops",
			zap.String("day", models.DayKey(from)),
			zap.Error(err),
		)
		return 0, 0, err
	}

	var failures int64
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for _, shop := range shops {
		wg.Add(1)
		sem <- struct{}{}
		go func(shop string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := r.rollupShop(ctx, shop, from, to); err != nil {
				atomic.AddInt64(&failures, 1)
				if r.metrics != nil {
					r.metrics.RecordRollupShopFailure()
				}
				r.logger.Error("rollup failed for shop",
					zap.String("shop", shop),
					zap.String("day", models.DayKey(from)),
					zap.Error(err),
				)
			}
		}(shop)
	}
	wg.Wait()

	status := "ok"
	if failures > 0 {
		status = "partial"
	}
	if r.metrics != nil {
		r.metrics.RecordRollupRun(status, time.Since(started))
	}

	r.logger.Info("rollup run finished",
		zap.String("day", models.DayKey(from)),
		zap.Int("shops", len(shops)),
		zap.Int64("failures", failures),
		zap.Duration("elapsed", time.Since(started)),
	)

	return int64(len(shops)), failures, nil
}

// rollupShop aggregates one shop's day and upserts its metric row.
func (r *Runner) rollupShop(ctx context.Context, shop string, from, to time.Time) error {
	stats, err := r.events.ShopDayStats(ctx, shop, from, to)
	if err != nil {
		return err
	}

	convCount, _, err := r.conversions.WindowTotals(ctx, shop, from, to)
	if err != nil {
		return err
	}

	return r.dailies.Upsert(ctx, &models.DailyMetric{
		Shop:        shop,
		Day:         from,
		PageViews:   stats.PageViews,
		AddToCart:   stats.AddToCart,
		Conversions: convCount,
		Revenue:     stats.ATCRevenue,
	})
}
