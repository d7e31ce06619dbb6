package worker

import (
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
)

// FirstRetryDelay is how long a delivery waits after its initial attempt fails.
const FirstRetryDelay = 5 * time.Minute

const backoffBase = 5 * time.Minute

// Backoff is the delay before the next retry once a delivery has made
// attempts sends: 2^attempts * 5min.
func Backoff(attempts int) time.Duration {
	return time.Duration(1<<attempts) * backoffBase
}

// NewDelivery builds the record of a first attempt.
func NewDelivery(sub domain.WebhookSubscription, event string, payload []byte, res Result, now time.Time) *domain.WebhookDelivery {
	d := &domain.WebhookDelivery{
		SubscriptionID: sub.ID,
		Event:          event,
		Payload:        string(payload),
		Attempts:       1,
	}
	recordResult(d, res)
	if res.Success {
		d.State = domain.DeliverySucceeded
	} else {
		next := now.Add(FirstRetryDelay)
		d.NextRetry = &next
		d.State = domain.DeliveryPending
	}
	return d
}

// ApplyRetry folds the outcome of a retry into d: attempts grows by one, a
// success or the final failed attempt clears next_retry, any other failure
// schedules the next retry with Backoff.
func ApplyRetry(d *domain.WebhookDelivery, res Result, now time.Time) {
	d.Attempts++
	recordResult(d, res)

	switch {
	case res.Success:
		d.NextRetry = nil
		d.State = domain.DeliverySucceeded
	case d.Attempts >= domain.MaxDeliveryAttempts:
		d.NextRetry = nil
		d.State = domain.DeliveryAbandoned
	default:
		next := now.Add(Backoff(d.Attempts))
		d.NextRetry = &next
		d.State = domain.DeliveryRetrying
	}
}

func recordResult(d *domain.WebhookDelivery, res Result) {
	d.Success = res.Success
	d.StatusCode = res.StatusCode
	d.ResponseTimeMs = int(res.Duration.Milliseconds())

	d.ResponseBody = nil
	if res.StatusCode != nil {
		body := res.ResponseBody
		d.ResponseBody = &body
	}

	d.ErrorMessage = nil
	if res.Error != "" {
		msg := res.Error
		d.ErrorMessage = &msg
	}
}
