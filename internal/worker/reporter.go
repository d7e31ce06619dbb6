package worker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/metrics"
	ws "github.com/Priya8975/agency-portal/internal/websocket"
)

// Delivery sources.
const (
	SourceDispatch = "dispatch"
	SourceRetry    = "retry"
)

// Observer is told about every delivery attempt after it has been recorded.
type Observer interface {
	Observe(ctx context.Context, source string, sub domain.WebhookSubscription, d domain.WebhookDelivery)
}

// Broadcaster pushes delivery events to live clients.
type Broadcaster interface {
	Broadcast(event ws.DeliveryEvent)
}

// StreakTracker counts consecutive abandoned deliveries per subscription.
type StreakTracker interface {
	RecordAbandoned(ctx context.Context, subscriptionID string) (int64, error)
	Reset(ctx context.Context, subscriptionID string) error
}

// Deactivator turns a subscription off.
type Deactivator interface {
	SetSubscriptionActive(ctx context.Context, id string, active bool) error
}

// Reporter is the Observer used in production: it logs, records metrics,
// feeds the websocket hub and applies the auto-disable policy.
type Reporter struct {
	logger       *slog.Logger
	hub          Broadcaster
	tracker      StreakTracker
	subs         Deactivator
	disableAfter int64
}

func NewReporter(logger *slog.Logger, hub Broadcaster) *Reporter {
	return &Reporter{logger: logger, hub: hub}
}

// WithAutoDisable deactivates a subscription once after consecutive deliveries
// to it have been abandoned. after <= 0 leaves subscriptions active forever.
func (r *Reporter) WithAutoDisable(tracker StreakTracker, subs Deactivator, after int) *Reporter {
	r.tracker = tracker
	r.subs = subs
	r.disableAfter = int64(after)
	return r
}

func (r *Reporter) Observe(ctx context.Context, source string, sub domain.WebhookSubscription, d domain.WebhookDelivery) {
	metrics.WebhookDeliveries.WithLabelValues(source, strings.ToLower(d.State)).Inc()
	metrics.WebhookLatency.WithLabelValues(source).Observe(float64(d.ResponseTimeMs))

	errMsg := ""
	if d.ErrorMessage != nil {
		errMsg = *d.ErrorMessage
	}

	if d.Success {
		r.logger.Info("delivery successful",
			"delivery_id", d.ID,
			"subscription_id", sub.ID,
			"event", d.Event,
			"attempt", d.Attempts,
			"status_code", d.StatusCode,
			"response_time_ms", d.ResponseTimeMs,
		)
	} else {
		r.logger.Warn("delivery failed",
			"delivery_id", d.ID,
			"subscription_id", sub.ID,
			"event", d.Event,
			"attempt", d.Attempts,
			"state", d.State,
			"error", errMsg,
			"status_code", d.StatusCode,
			"response_time_ms", d.ResponseTimeMs,
		)
	}

	if r.hub != nil {
		r.hub.Broadcast(ws.DeliveryEvent{
			Type:           feedType(d),
			DeliveryID:     d.ID,
			SubscriptionID: sub.ID,
			OwnerID:        sub.OwnerID,
			URL:            sub.URL,
			Event:          d.Event,
			Attempt:        d.Attempts,
			StatusCode:     d.StatusCode,
			ResponseMs:     d.ResponseTimeMs,
			Error:          errMsg,
			Timestamp:      time.Now().UTC(),
		})
	}

	r.applyPolicy(ctx, sub, d)
}

func (r *Reporter) applyPolicy(ctx context.Context, sub domain.WebhookSubscription, d domain.WebhookDelivery) {
	if r.tracker == nil || r.disableAfter <= 0 {
		return
	}

	switch d.State {
	case domain.DeliverySucceeded:
		if err := r.tracker.Reset(ctx, sub.ID); err != nil {
			r.logger.Error("failed to reset abandoned streak", "subscription_id", sub.ID, "error", err)
		}

	case domain.DeliveryAbandoned:
		streak, err := r.tracker.RecordAbandoned(ctx, sub.ID)
		if err != nil {
			r.logger.Error("failed to record abandoned delivery", "subscription_id", sub.ID, "error", err)
			return
		}
		if streak < r.disableAfter {
			return
		}
		if err := r.subs.SetSubscriptionActive(ctx, sub.ID, false); err != nil {
			r.logger.Error("failed to deactivate subscription", "subscription_id", sub.ID, "error", err)
			return
		}
		metrics.SubscriptionsDisabled.Inc()
		r.logger.Warn("subscription deactivated after repeated abandoned deliveries",
			"subscription_id", sub.ID,
			"owner_id", sub.OwnerID,
			"streak", streak,
		)
		_ = r.tracker.Reset(ctx, sub.ID)
	}
}

func feedType(d domain.WebhookDelivery) string {
	switch d.State {
	case domain.DeliverySucceeded:
		return ws.EventDeliverySuccess
	case domain.DeliveryAbandoned:
		return ws.EventDeliveryAbandoned
	case domain.DeliveryRetrying:
		return ws.EventDeliveryRetrying
	default:
		return ws.EventDeliveryFailed
	}
}
