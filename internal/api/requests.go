package api

import (
	"errors"
	"net/http"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/entitlement"
	"github.com/Priya8975/agency-portal/internal/store"
	"github.com/go-chi/chi/v5"
)

// CreateRequest opens a service request if the plan's active request quota
// has room. The count and insert happen atomically in the store.
func (h *PortalHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(ctx)

	var req domain.CreateRequestRequest
	if !decode(w, r, &req) {
		return
	}

	ent, err := h.entitlements(ctx, owner)
	if err != nil {
		h.logger.Error("failed to resolve entitlements", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create request")
		return
	}

	sr := &domain.ServiceRequest{
		OwnerID:     owner,
		Title:       req.Title,
		Description: req.Description,
	}
	err = h.store.CreateRequest(ctx, sr, func(active int) error {
		return entitlement.CheckRequestCreate(ent, active)
	})
	if err != nil {
		if h.respondViolation(w, owner, err) {
			return
		}
		h.logger.Error("failed to create request", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create request")
		return
	}

	h.emit(ctx, owner, domain.EventProjectCreated, sr)
	respondJSON(w, http.StatusCreated, sr)
}

func (h *PortalHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.store.ListRequests(r.Context(), ownerID(r.Context()))
	if err != nil {
		h.logger.Error("failed to list requests", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	respondJSON(w, http.StatusOK, requests)
}

func (h *PortalHandler) UpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(ctx)

	var req domain.UpdateRequestStatusRequest
	if !decode(w, r, &req) {
		return
	}

	sr, err := h.store.UpdateRequestStatus(ctx, owner, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "request not found")
			return
		}
		h.logger.Error("failed to update request status", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update request")
		return
	}

	h.emit(ctx, owner, domain.EventProjectStatusChanged, sr)
	respondJSON(w, http.StatusOK, sr)
}
