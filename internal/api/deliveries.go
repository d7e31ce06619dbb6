package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/agency-portal/internal/store"
	"github.com/go-chi/chi/v5"
)

type DeliveryHandler struct {
	store  store.DeliveryStore
	logger *slog.Logger
}

func NewDeliveryHandler(s store.DeliveryStore, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{store: s, logger: logger}
}

// Retry makes a failed, non-terminal delivery due for the next sweep. The
// attempt count is untouched so the retry cap still holds.
func (h *DeliveryHandler) Retry(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.RequeueDelivery(r.Context(), ownerID(r.Context()), chi.URLParam(r, "id"), time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "delivery not found or not retryable")
			return
		}
		if errors.Is(err, store.ErrDeliveryInFlight) {
			respondError(w, http.StatusConflict, "delivery is being retried, try again shortly")
			return
		}
		h.logger.Error("failed to requeue delivery", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to requeue delivery")
		return
	}
	respondJSON(w, http.StatusAccepted, d)
}
