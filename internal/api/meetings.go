package api

import (
	"net/http"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/entitlement"
)

func (h *PortalHandler) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(ctx)

	var req domain.CreateMeetingRequest
	if !decode(w, r, &req) {
		return
	}

	ent, err := h.entitlements(ctx, owner)
	if err != nil {
		h.logger.Error("failed to resolve entitlements", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to schedule meeting")
		return
	}
	if err := entitlement.CheckMeeting(ent, req.Type); err != nil {
		h.respondViolation(w, owner, err)
		return
	}

	m := &domain.Meeting{
		OwnerID:     owner,
		Type:        req.Type,
		ScheduledAt: req.ScheduledAt.UTC(),
		Notes:       req.Notes,
	}
	if err := h.store.CreateMeeting(ctx, m); err != nil {
		h.logger.Error("failed to create meeting", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to schedule meeting")
		return
	}
	respondJSON(w, http.StatusCreated, m)
}
