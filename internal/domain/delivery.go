package domain

import (
	"time"
)

// Delivery states. PENDING and RETRYING are eligible for the retry sweep,
// SUCCEEDED and ABANDONED are terminal.
const (
	DeliveryPending   = "PENDING"
	DeliveryRetrying  = "RETRYING"
	DeliverySucceeded = "SUCCEEDED"
	DeliveryAbandoned = "ABANDONED"
)

// MaxDeliveryAttempts caps the total number of sends for one delivery,
// the initial attempt included.
const MaxDeliveryAttempts = 3

// WebhookDelivery is one event sent to one subscription. It is created on the
// first attempt and updated in place by every retry.
type WebhookDelivery struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	Event          string     `json:"event"`
	Payload        string     `json:"payload"`
	ResponseBody   *string    `json:"response_body,omitempty"`
	StatusCode     *int       `json:"status_code"`
	Success        bool       `json:"success"`
	Attempts       int        `json:"attempts"`
	NextRetry      *time.Time `json:"next_retry"`
	State          string     `json:"state"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	ResponseTimeMs int        `json:"response_time_ms"`
	ClaimedUntil   *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether no further automatic attempt will be made.
func (d WebhookDelivery) Terminal() bool {
	return d.State == DeliverySucceeded || d.State == DeliveryAbandoned
}

// Retryable reports whether a manual requeue is allowed.
func (d WebhookDelivery) Retryable() bool {
	return !d.Success && d.Attempts < MaxDeliveryAttempts
}
