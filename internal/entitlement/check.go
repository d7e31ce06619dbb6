package entitlement

import (
	"fmt"

	"github.com/Priya8975/agency-portal/internal/domain"
)

// Violation codes.
const (
	CodeRequestLimit     = "request_limit_reached"
	CodeMeetingNotInPlan = "meeting_type_not_included"
	CodeSeatLimit        = "seat_limit_reached"
)

// Violation is an expected rejection of an action the plan does not allow.
// Message is shown to the customer verbatim.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (v *Violation) Error() string { return v.Message }

// CheckRequestCreate rejects a new request when activeCount already fills the quota.
func CheckRequestCreate(e Entitlements, activeCount int) error {
	if activeCount < e.MaxActiveRequests {
		return nil
	}
	return &Violation{
		Code: CodeRequestLimit,
		Message: fmt.Sprintf(
			"Your %s plan allows %d active %s at a time. Complete or cancel an existing request, or upgrade your plan.",
			e.Tier.Name(), e.MaxActiveRequests, plural(e.MaxActiveRequests, "request", "requests"),
		),
	}
}

// CheckMeeting rejects meeting types the plan does not include. Check-ins
// are always allowed.
func CheckMeeting(e Entitlements, meetingType string) error {
	switch meetingType {
	case domain.MeetingUXReview:
		if !e.HasUXReview {
			return &Violation{
				Code:    CodeMeetingNotInPlan,
				Message: fmt.Sprintf("UX review calls are not included in your %s plan.", e.Tier.Name()),
			}
		}
	case domain.MeetingStrategyCall:
		if !e.HasStrategyCalls {
			return &Violation{
				Code:    CodeMeetingNotInPlan,
				Message: fmt.Sprintf("Strategy calls are not included in your %s plan.", e.Tier.Name()),
			}
		}
	}
	return nil
}

// CheckSeat rejects a new member when seatsInUse (owner included) fills the plan.
func CheckSeat(e Entitlements, seatsInUse int) error {
	if seatsInUse < e.MaxSeats {
		return nil
	}
	return &Violation{
		Code: CodeSeatLimit,
		Message: fmt.Sprintf(
			"Your %s plan includes %d team %s, and all of them are in use.",
			e.Tier.Name(), e.MaxSeats, plural(e.MaxSeats, "seat", "seats"),
		),
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
