package rollup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler fires the runner once per night, a configurable delay
// after UTC midnight, covering the day that just closed. The delay
// lets late events for the closed day land before aggregation reads
// them.
type Scheduler struct {
	runner *Runner
	delay  time.Duration
	logger *zap.Logger
}

// NewScheduler creates a nightly scheduler for runner.
func NewScheduler(runner *Runner, delay time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		delay:  delay,
		logger: logger,
	}
}

// Start blocks until ctx is canceled, running the rollup each night.
// Call it from its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		next := s.nextRun(time.Now().UTC())
		s.logger.Info("rollup scheduled", zap.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("rollup scheduler stopped")
			return
		case <-timer.C:
		}

		// The run covers the UTC day that ended at the most recent
		// midnight.
		closedDay := time.Now().UTC().Add(-s.delay).Add(-time.Hour).Truncate(24 * time.Hour)
		if _, _, err := s.runner.RunForDay(ctx, closedDay); err != nil {
			s.logger.Error("scheduled rollup run failed", zap.Error(err))
		}
	}
}

// nextRun returns the next UTC midnight plus the configured delay that
// is still in the future.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	midnight := now.Truncate(24 * time.Hour)
	run := midnight.Add(s.delay)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
