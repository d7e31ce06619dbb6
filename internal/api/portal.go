package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Priya8975/agency-portal/internal/engine"
	"github.com/Priya8975/agency-portal/internal/entitlement"
	"github.com/Priya8975/agency-portal/internal/metrics"
	"github.com/Priya8975/agency-portal/internal/store"
)

// PortalHandler serves the client-facing actions whose limits depend on the
// tenant's plan.
type PortalHandler struct {
	store   store.PortalStore
	catalog *entitlement.Catalog
	fanout  *engine.FanOutEngine
	logger  *slog.Logger
}

func NewPortalHandler(s store.PortalStore, catalog *entitlement.Catalog, f *engine.FanOutEngine, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{store: s, catalog: catalog, fanout: f, logger: logger}
}

// entitlements resolves the tenant's current plan. A tenant without a billing
// record gets the lowest tier.
func (h *PortalHandler) entitlements(ctx context.Context, owner string) (entitlement.Entitlements, error) {
	sub, err := h.store.GetBillingSubscription(ctx, owner)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return entitlement.Entitlements{}, err
	}
	return h.catalog.Resolve(entitlement.PlanFor(sub)), nil
}

// respondViolation writes a 403 for entitlement violations and reports
// whether err was one.
func (h *PortalHandler) respondViolation(w http.ResponseWriter, owner string, err error) bool {
	var v *entitlement.Violation
	if !errors.As(err, &v) {
		return false
	}
	h.logger.Info("entitlement check rejected action", "owner_id", owner, "code", v.Code)
	metrics.EntitlementRejections.WithLabelValues(v.Code).Inc()
	respondJSON(w, http.StatusForbidden, v)
	return true
}

// emit notifies the tenant's webhooks without holding up the response.
func (h *PortalHandler) emit(ctx context.Context, owner, event string, data any) {
	if h.fanout == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go h.fanout.TriggerWebhooks(ctx, owner, event, data)
}

type usage struct {
	ActiveRequests int `json:"active_requests"`
	SeatsInUse     int `json:"seats_in_use"`
}

type entitlementsResponse struct {
	PlanID       string                   `json:"plan_id"`
	Plan         string                   `json:"plan"`
	Entitlements entitlement.Entitlements `json:"entitlements"`
	Usage        usage                    `json:"usage"`
}

// Entitlements reports what the tenant's plan allows and how much is in use.
func (h *PortalHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerID(ctx)

	sub, err := h.store.GetBillingSubscription(ctx, owner)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("failed to load billing subscription", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load entitlements")
		return
	}
	planID := entitlement.PlanFor(sub)
	ent := h.catalog.Resolve(planID)

	active, err := h.store.CountActiveRequests(ctx, owner)
	if err != nil {
		h.logger.Error("failed to count active requests", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load entitlements")
		return
	}
	seats, err := h.store.CountSeats(ctx, owner)
	if err != nil {
		h.logger.Error("failed to count seats", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load entitlements")
		return
	}

	respondJSON(w, http.StatusOK, entitlementsResponse{
		PlanID:       planID,
		Plan:         ent.Tier.Name(),
		Entitlements: ent,
		Usage:        usage{ActiveRequests: active, SeatsInUse: seats},
	})
}
