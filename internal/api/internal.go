package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/entitlement"
	"github.com/Priya8975/agency-portal/internal/store"
	"github.com/Priya8975/agency-portal/internal/worker"
	"github.com/go-chi/chi/v5"
)

// InternalHandler serves endpoints for the platform itself: the cron
// scheduler and the billing integration.
type InternalHandler struct {
	store   store.PortalStore
	sweeper *worker.Sweeper
	catalog *entitlement.Catalog
	logger  *slog.Logger
}

func NewInternalHandler(s store.PortalStore, sw *worker.Sweeper, catalog *entitlement.Catalog, logger *slog.Logger) *InternalHandler {
	return &InternalHandler{store: s, sweeper: sw, catalog: catalog, logger: logger}
}

// RetryWebhooks runs one retry sweep and returns its report.
func (h *InternalHandler) RetryWebhooks(w http.ResponseWriter, r *http.Request) {
	report := h.sweeper.RetryFailedDeliveries(context.WithoutCancel(r.Context()))
	respondJSON(w, http.StatusOK, report)
}

// SyncBilling records the plan the payment provider reports for a tenant.
func (h *InternalHandler) SyncBilling(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncBillingRequest
	if !decode(w, r, &req) {
		return
	}

	sub := &domain.BillingSubscription{
		OwnerID: chi.URLParam(r, "ownerID"),
		PlanID:  req.PlanID,
		Status:  req.Status,
	}
	if err := h.store.UpsertBillingSubscription(r.Context(), sub); err != nil {
		h.logger.Error("failed to sync billing subscription", "owner_id", sub.OwnerID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to sync billing")
		return
	}

	ent := h.catalog.Resolve(entitlement.PlanFor(sub))
	h.logger.Info("billing subscription synced", "owner_id", sub.OwnerID, "status", sub.Status, "tier", ent.Tier)
	respondJSON(w, http.StatusOK, map[string]any{
		"subscription": sub,
		"entitlements": ent,
	})
}
