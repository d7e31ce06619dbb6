package store

import (
	"context"
	"errors"
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
)

// ErrNotFound is returned when a row does not exist or is not visible to the tenant.
var ErrNotFound = errors.New("not found")

// SubscriptionStore persists webhook subscriptions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error
	GetSubscription(ctx context.Context, id string) (*domain.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, ownerID string) ([]domain.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, ownerID, id string, req domain.UpdateSubscriptionRequest) (*domain.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, ownerID, id string) error
	SetSubscriptionActive(ctx context.Context, id string, active bool) error
	// FindMatchingSubscriptions returns the owner's active subscriptions that include event.
	FindMatchingSubscriptions(ctx context.Context, ownerID, event string) ([]domain.WebhookSubscription, error)
}

// DeliveryStore persists webhook deliveries.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error
	GetDelivery(ctx context.Context, id string) (*domain.WebhookDelivery, error)
	ListDeliveries(ctx context.Context, subscriptionID, state string, limit int) ([]domain.WebhookDelivery, error)
	// ClaimDueDeliveries leases up to limit failed deliveries of active
	// subscriptions with attempts below maxAttempts and next_retry <= now.
	// Rows leased by another caller are skipped until their lease expires.
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit, maxAttempts int, lease time.Duration) ([]domain.WebhookDelivery, error)
	// UpdateDeliveryAttempt writes the outcome fields of d and clears its lease.
	UpdateDeliveryAttempt(ctx context.Context, d *domain.WebhookDelivery) error
	ReleaseDelivery(ctx context.Context, id string) error
	// RequeueDelivery makes a retryable delivery owned by ownerID due at now.
	// A delivery leased by a running sweep is left alone and ErrDeliveryInFlight
	// is returned.
	RequeueDelivery(ctx context.Context, ownerID, id string, now time.Time) (*domain.WebhookDelivery, error)
	GetDeliveryMetrics(ctx context.Context, ownerID string) (*DeliveryMetrics, error)
}

// PortalStore persists the entities whose creation is gated by entitlements.
// The guard callbacks run inside the same critical section as the insert, so
// the count they see cannot change before the row is written.
type PortalStore interface {
	GetBillingSubscription(ctx context.Context, ownerID string) (*domain.BillingSubscription, error)
	UpsertBillingSubscription(ctx context.Context, sub *domain.BillingSubscription) error

	CountActiveRequests(ctx context.Context, ownerID string) (int, error)
	CreateRequest(ctx context.Context, req *domain.ServiceRequest, guard func(activeCount int) error) error
	ListRequests(ctx context.Context, ownerID string) ([]domain.ServiceRequest, error)
	UpdateRequestStatus(ctx context.Context, ownerID, id, status string) (*domain.ServiceRequest, error)

	CreateMeeting(ctx context.Context, m *domain.Meeting) error

	CountSeats(ctx context.Context, ownerID string) (int, error)
	CreateInvite(ctx context.Context, inv *domain.TeamInvite) error
	GetInvite(ctx context.Context, token string) (*domain.TeamInvite, error)
	// AcceptInvite adds userID to the inviting owner's team.
	AcceptInvite(ctx context.Context, token, userID string, guard func(seatsInUse int) error) (*domain.TeamMember, error)
}

// Store is everything the application persists.
type Store interface {
	SubscriptionStore
	DeliveryStore
	PortalStore
}

// ErrInviteUsed is returned when accepting an invite that was already accepted.
var ErrInviteUsed = errors.New("invite already accepted")

// ErrDeliveryInFlight is returned when requeueing a delivery a sweep is currently retrying.
var ErrDeliveryInFlight = errors.New("delivery is being retried")

// ErrAlreadyMember is returned when a user accepts an invite to a team they already belong to.
var ErrAlreadyMember = errors.New("already a team member")
