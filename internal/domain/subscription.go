package domain

import (
	"slices"
	"time"
)

// WebhookSubscription is a tenant-owned endpoint that receives signed events.
type WebhookSubscription struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscribes reports whether the subscription listens for event.
func (s WebhookSubscription) Subscribes(event string) bool {
	return slices.Contains(s.Events, event)
}

type CreateSubscriptionRequest struct {
	URL    string   `json:"url" validate:"required,url,max=2048"`
	Events []string `json:"events" validate:"required,min=1,dive,webhook_event"`
}

type UpdateSubscriptionRequest struct {
	URL    *string  `json:"url,omitempty" validate:"omitempty,url,max=2048"`
	Events []string `json:"events,omitempty" validate:"omitempty,min=1,dive,webhook_event"`
	Active *bool    `json:"active,omitempty"`
}

type CreateSubscriptionResponse struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}
