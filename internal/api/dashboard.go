package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/agency-portal/internal/store"
	ws "github.com/Priya8975/agency-portal/internal/websocket"
)

type DashboardHandler struct {
	store  store.DeliveryStore
	hub    *ws.Hub
	logger *slog.Logger
}

func NewDashboardHandler(s store.DeliveryStore, hub *ws.Hub, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{store: s, hub: hub, logger: logger}
}

// Metrics returns the tenant's aggregated delivery statistics.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r.Context())

	m, err := h.store.GetDeliveryMetrics(r.Context(), owner)
	if err != nil {
		h.logger.Error("failed to get delivery metrics", "owner_id", owner, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	type metricsResponse struct {
		store.DeliveryMetrics
		WebSocketClients int `json:"websocket_clients"`
	}

	resp := metricsResponse{DeliveryMetrics: *m}
	if h.hub != nil {
		resp.WebSocketClients = h.hub.OwnerClientCount(owner)
	}
	respondJSON(w, http.StatusOK, resp)
}
