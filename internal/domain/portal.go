package domain

import "time"

// Service request statuses.
const (
	RequestSubmitted  = "SUBMITTED"
	RequestInReview   = "IN_REVIEW"
	RequestInProgress = "IN_PROGRESS"
	RequestCompleted  = "COMPLETED"
	RequestCancelled  = "CANCELLED"
)

// ActiveRequestStatuses count against a plan's active request quota.
var ActiveRequestStatuses = []string{RequestSubmitted, RequestInReview, RequestInProgress}

func IsActiveRequestStatus(status string) bool {
	switch status {
	case RequestSubmitted, RequestInReview, RequestInProgress:
		return true
	}
	return false
}

// Meeting types.
const (
	MeetingCheckIn      = "CHECK_IN"
	MeetingUXReview     = "UX_REVIEW"
	MeetingStrategyCall = "STRATEGY_CALL"
)

// BillingSubscription is the tenant's plan as last synced from the payment provider.
type BillingSubscription struct {
	OwnerID   string    `json:"owner_id"`
	PlanID    string    `json:"plan_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ServiceRequest struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Meeting struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Type        string    `json:"type"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type TeamMember struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	// UserID is the account that accepted the invite.
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type TeamInvite struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Token      string     `json:"token,omitempty"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type CreateRequestRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=10000"`
}

type UpdateRequestStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=SUBMITTED IN_REVIEW IN_PROGRESS COMPLETED CANCELLED"`
}

type CreateMeetingRequest struct {
	Type        string    `json:"type" validate:"required,oneof=CHECK_IN UX_REVIEW STRATEGY_CALL"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Notes       string    `json:"notes" validate:"max=2000"`
}

type CreateInviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=admin member viewer"`
}

type SyncBillingRequest struct {
	PlanID string `json:"plan_id"`
	Status string `json:"status" validate:"required"`
}
