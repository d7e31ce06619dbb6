package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/metrics"
	"github.com/Priya8975/agency-portal/internal/store"
)

// SweepStore is the persistence the sweeper needs.
type SweepStore interface {
	GetSubscription(ctx context.Context, id string) (*domain.WebhookSubscription, error)
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit, maxAttempts int, lease time.Duration) ([]domain.WebhookDelivery, error)
	UpdateDeliveryAttempt(ctx context.Context, d *domain.WebhookDelivery) error
	ReleaseDelivery(ctx context.Context, id string) error
}

// Locker serialises sweeps across replicas. release is nil when acquired is false.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), acquired bool, err error)
}

// SweeperConfig holds the sweep knobs; zero values fall back to defaults.
type SweeperConfig struct {
	BatchSize   int
	Concurrency int
	Lease       time.Duration
	Deadline    time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.Deadline <= 0 {
		c.Deadline = 4 * time.Minute
	}
	return c
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Claimed   int  `json:"claimed"`
	Succeeded int  `json:"succeeded"`
	Retrying  int  `json:"retrying"`
	Abandoned int  `json:"abandoned"`
	Skipped   int  `json:"skipped"`
	LockHeld  bool `json:"lock_held,omitempty"`
}

// Sweeper retries failed deliveries whose next_retry has passed.
type Sweeper struct {
	store     SweepStore
	deliverer *Deliverer
	observer  Observer
	lock      Locker
	cfg       SweeperConfig
	logger    *slog.Logger

	// Now is the sweeper's clock.
	Now func() time.Time
}

func NewSweeper(s SweepStore, d *Deliverer, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     s,
		deliverer: d,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) WithObserver(o Observer) *Sweeper {
	s.observer = o
	return s
}

func (s *Sweeper) WithLock(l Locker) *Sweeper {
	s.lock = l
	return s
}

// RetryFailedDeliveries runs one sweep. It never fails: every per-delivery
// problem is logged and the rest of the batch carries on.
func (s *Sweeper) RetryFailedDeliveries(ctx context.Context) SweepReport {
	if s.lock != nil {
		release, acquired, err := s.lock.Acquire(ctx, s.cfg.Deadline+time.Minute)
		switch {
		case err != nil:
			// Row claims still keep concurrent sweeps apart.
			s.logger.Warn("sweep lock unavailable, continuing without it", "error", err)
		case !acquired:
			s.logger.Info("sweep already running elsewhere, skipping")
			metrics.SweepRuns.WithLabelValues("locked").Inc()
			return SweepReport{LockHeld: true}
		default:
			defer release()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	claimed, err := s.store.ClaimDueDeliveries(ctx, s.Now(), s.cfg.BatchSize, domain.MaxDeliveryAttempts, s.cfg.Lease)
	if err != nil {
		s.logger.Error("failed to claim due deliveries", "error", err)
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return SweepReport{}
	}

	report := SweepReport{Claimed: len(claimed)}
	metrics.SweepClaimed.Add(float64(len(claimed)))
	if len(claimed) == 0 {
		metrics.SweepRuns.WithLabelValues("empty").Inc()
		return report
	}

	var mu sync.Mutex
	tally := func(outcome string) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case domain.DeliverySucceeded:
			report.Succeeded++
		case domain.DeliveryRetrying:
			report.Retrying++
		case domain.DeliveryAbandoned:
			report.Abandoned++
		default:
			report.Skipped++
		}
	}

	pool := NewPool(s.cfg.Concurrency, s.logger)
	pool.Start(ctx)
	for _, d := range claimed {
		pool.Submit(func(ctx context.Context) {
			outcome := ""
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("retry panicked", "delivery_id", d.ID, "panic", r)
					s.release(d.ID)
					outcome = ""
				}
				tally(outcome)
			}()
			outcome = s.retry(ctx, d)
		})
	}
	pool.Stop()

	s.logger.Info("retry sweep complete",
		"claimed", report.Claimed,
		"succeeded", report.Succeeded,
		"retrying", report.Retrying,
		"abandoned", report.Abandoned,
		"skipped", report.Skipped,
	)
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	return report
}

// retry re-sends one claimed delivery and returns its new state, or "" when
// it was skipped.
func (s *Sweeper) retry(ctx context.Context, d domain.WebhookDelivery) string {
	if ctx.Err() != nil {
		s.release(d.ID)
		return ""
	}

	sub, err := s.store.GetSubscription(ctx, d.SubscriptionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to load subscription", "delivery_id", d.ID, "subscription_id", d.SubscriptionID, "error", err)
		}
		s.release(d.ID)
		return ""
	}
	if !sub.Active {
		s.logger.Debug("subscription inactive, skipping retry", "delivery_id", d.ID, "subscription_id", sub.ID)
		s.release(d.ID)
		return ""
	}

	res := s.deliverer.Deliver(ctx, sub.URL, []byte(d.Payload), sub.Secret, d.Event)
	ApplyRetry(&d, res, s.Now())

	// Record the outcome even if the sweep deadline has just passed.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.UpdateDeliveryAttempt(writeCtx, &d); err != nil {
		s.logger.Error("failed to record retry", "delivery_id", d.ID, "error", fmt.Errorf("updating delivery: %w", err))
		return ""
	}

	if s.observer != nil {
		s.observer.Observe(writeCtx, SourceRetry, *sub, d)
	}
	return d.State
}

func (s *Sweeper) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.ReleaseDelivery(ctx, id); err != nil {
		s.logger.Error("failed to release delivery claim", "delivery_id", id, "error", err)
	}
}
