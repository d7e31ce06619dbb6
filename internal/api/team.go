package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/entitlement"
	"github.com/Priya8975/agency-portal/internal/store"
	"github.com/go-chi/chi/v5"
)

func (h *PortalHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(ctx)

	var req domain.CreateInviteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}

	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create invite")
		return
	}

	inv := &domain.TeamInvite{
		OwnerID: owner,
		Email:   req.Email,
		Role:    req.Role,
		Token:   hex.EncodeToString(b),
	}
	if err := h.store.CreateInvite(ctx, inv); err != nil {
		h.logger.Error("failed to create invite", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create invite")
		return
	}
	respondJSON(w, http.StatusCreated, inv)
}

// AcceptInvite adds the calling user to the inviting tenant's team if the
// tenant's plan has a free seat.
func (h *PortalHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := ownerID(ctx)
	token := chi.URLParam(r, "token")

	inv, err := h.store.GetInvite(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "invite not found")
			return
		}
		h.logger.Error("failed to load invite", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to accept invite")
		return
	}

	if inv.OwnerID == user {
		respondError(w, http.StatusBadRequest, "cannot accept an invite to your own team")
		return
	}

	ent, err := h.entitlements(ctx, inv.OwnerID)
	if err != nil {
		h.logger.Error("failed to resolve entitlements", "owner_id", inv.OwnerID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to accept invite")
		return
	}

	member, err := h.store.AcceptInvite(ctx, token, user, func(seatsInUse int) error {
		return entitlement.CheckSeat(ent, seatsInUse)
	})
	switch {
	case err == nil:
		h.logger.Info("team invite accepted", "owner_id", inv.OwnerID, "user_id", user, "email", inv.Email, "member_id", member.ID)
		respondJSON(w, http.StatusCreated, member)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "invite not found")
	case errors.Is(err, store.ErrInviteUsed):
		respondError(w, http.StatusConflict, "invite already accepted")
	case errors.Is(err, store.ErrAlreadyMember):
		respondError(w, http.StatusConflict, "already a member of this team")
	case h.respondViolation(w, inv.OwnerID, err):
	default:
		h.logger.Error("failed to accept invite", "owner_id", inv.OwnerID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to accept invite")
	}
}
