package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/worker"
	"golang.org/x/sync/errgroup"
)

// TestEvent is the event name of deliveries sent by SendTest.
const TestEvent = "webhook.test"

// FanOutStore is the persistence the dispatcher needs.
type FanOutStore interface {
	FindMatchingSubscriptions(ctx context.Context, ownerID, event string) ([]domain.WebhookSubscription, error)
	CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error
}

// FanOutEngine delivers an event to every matching subscription of a tenant.
type FanOutEngine struct {
	store     FanOutStore
	deliverer *worker.Deliverer
	observer  worker.Observer
	logger    *slog.Logger

	// Now stamps envelopes and schedules first retries.
	Now func() time.Time
}

func NewFanOutEngine(s FanOutStore, d *worker.Deliverer, logger *slog.Logger) *FanOutEngine {
	return &FanOutEngine{
		store:     s,
		deliverer: d,
		logger:    logger,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (f *FanOutEngine) WithObserver(o worker.Observer) *FanOutEngine {
	f.observer = o
	return f
}

// TriggerWebhooks sends event to all of ownerID's active subscriptions that
// listen for it, concurrently, and records one delivery per subscription. It
// returns the number of matched subscriptions and never fails: every problem
// is logged so the business operation that fired the event is unaffected.
func (f *FanOutEngine) TriggerWebhooks(ctx context.Context, ownerID, event string, data any) int {
	if !domain.IsKnownEvent(event) {
		f.logger.Warn("triggering unknown event", "owner_id", ownerID, "event", event)
	}

	subs, err := f.store.FindMatchingSubscriptions(ctx, ownerID, event)
	if err != nil {
		f.logger.Error("failed to find matching subscriptions", "owner_id", ownerID, "event", event, "error", err)
		return 0
	}
	if len(subs) == 0 {
		f.logger.Debug("no matching subscriptions", "owner_id", ownerID, "event", event)
		return 0
	}

	now := f.Now()
	payload, err := buildEnvelope(event, data, now)
	if err != nil {
		f.logger.Error("failed to encode webhook payload", "owner_id", ownerID, "event", event, "error", err)
		return 0
	}

	var g errgroup.Group
	for _, sub := range subs {
		g.Go(func() error {
			f.deliver(ctx, sub, event, payload)
			return nil
		})
	}
	_ = g.Wait()

	f.logger.Info("fan-out complete",
		"owner_id", ownerID,
		"event", event,
		"subscriptions", len(subs),
	)
	return len(subs)
}

func (f *FanOutEngine) deliver(ctx context.Context, sub domain.WebhookSubscription, event string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("delivery panicked", "subscription_id", sub.ID, "event", event, "panic", r)
		}
	}()

	res := f.deliverer.Deliver(ctx, sub.URL, payload, sub.Secret, event)
	d := worker.NewDelivery(sub, event, payload, res, f.Now())

	// The attempt happened; record it even if the caller has gone away.
	writeCtx := context.WithoutCancel(ctx)
	if err := f.store.CreateDelivery(writeCtx, d); err != nil {
		f.logger.Error("failed to record delivery",
			"subscription_id", sub.ID,
			"event", event,
			"success", res.Success,
			"error", err,
		)
		return
	}

	if f.observer != nil {
		f.observer.Observe(writeCtx, worker.SourceDispatch, sub, *d)
	}
}

// SendTest sends a signed TestEvent to sub once without recording it.
func (f *FanOutEngine) SendTest(ctx context.Context, sub domain.WebhookSubscription) (worker.Result, error) {
	payload, err := buildEnvelope(TestEvent, map[string]string{
		"subscription_id": sub.ID,
		"message":         "This is a test delivery.",
	}, f.Now())
	if err != nil {
		return worker.Result{}, err
	}
	return f.deliverer.Deliver(ctx, sub.URL, payload, sub.Secret, TestEvent), nil
}

// buildEnvelope encodes the body every subscriber receives. The bytes are
// produced once per trigger so each subscription signs and stores the same body.
func buildEnvelope(event string, data any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(domain.Envelope{
		Event:     event,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Data:      raw,
	})
}
