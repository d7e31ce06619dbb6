package worker

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs the retry sweep on a fixed interval inside the server
// process, for deployments without an external cron.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(sweeper *Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Start runs sweeps until the context is cancelled. A sweep that is still
// running when the next tick fires delays that tick rather than overlapping.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("retry scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return
		case <-ticker.C:
			s.sweeper.RetryFailedDeliveries(ctx)
		}
	}
}
