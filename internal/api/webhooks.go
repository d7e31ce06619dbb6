package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/engine"
	"github.com/Priya8975/agency-portal/internal/store"
	"github.com/go-chi/chi/v5"
)

type WebhookHandler struct {
	store   store.Store
	fanout  *engine.FanOutEngine
	tracker *engine.FailureTracker
	logger  *slog.Logger
}

func NewWebhookHandler(s store.Store, f *engine.FanOutEngine, tracker *engine.FailureTracker, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{store: s, fanout: f, tracker: tracker, logger: logger}
}

// newSecret returns a signing secret shown to the tenant once, at creation.
func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if !decode(w, r, &req) {
		return
	}

	secret, err := newSecret()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}

	sub := &domain.WebhookSubscription{
		OwnerID: ownerID(r.Context()),
		URL:     req.URL,
		Secret:  secret,
		Events:  req.Events,
		Active:  true,
	}
	if err := h.store.CreateSubscription(r.Context(), sub); err != nil {
		h.logger.Error("failed to create subscription", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	respondJSON(w, http.StatusCreated, domain.CreateSubscriptionResponse{
		ID:     sub.ID,
		URL:    sub.URL,
		Events: sub.Events,
		Secret: sub.Secret,
	})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions(r.Context(), ownerID(r.Context()))
	if err != nil {
		h.logger.Error("failed to list subscriptions", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	for i := range subs {
		subs[i].Secret = ""
	}
	respondJSON(w, http.StatusOK, subs)
}

// load fetches the subscription named in the URL if the tenant owns it.
func (h *WebhookHandler) load(w http.ResponseWriter, r *http.Request) (*domain.WebhookSubscription, bool) {
	sub, err := h.store.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if err == nil && sub.OwnerID != ownerID(r.Context()) {
		err = store.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "webhook not found")
		} else {
			h.logger.Error("failed to get subscription", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to get webhook")
		}
		return nil, false
	}
	return sub, true
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}
	sub.Secret = ""

	type webhookDetail struct {
		domain.WebhookSubscription
		AbandonedStreak *int64 `json:"abandoned_streak,omitempty"`
	}
	resp := webhookDetail{WebhookSubscription: *sub}
	if h.tracker != nil {
		if n, err := h.tracker.Streak(r.Context(), sub.ID); err == nil {
			resp.AbandonedStreak = &n
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateSubscriptionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.URL == nil && req.Events == nil && req.Active == nil {
		respondError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), ownerID(r.Context()), chi.URLParam(r, "id"), req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.logger.Error("failed to update subscription", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}

	// Reactivating starts a fresh streak.
	if req.Active != nil && *req.Active && h.tracker != nil {
		if err := h.tracker.Reset(r.Context(), sub.ID); err != nil {
			h.logger.Warn("failed to reset abandoned streak", "subscription_id", sub.ID, "error", err)
		}
	}

	sub.Secret = ""
	respondJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.DeleteSubscription(r.Context(), ownerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.logger.Error("failed to delete subscription", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test sends a signed test event to the webhook and reports the outcome.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	res, err := h.fanout.SendTest(r.Context(), *sub)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build test event")
		return
	}

	type testResponse struct {
		Success        bool   `json:"success"`
		StatusCode     *int   `json:"status_code"`
		ResponseTimeMs int64  `json:"response_time_ms"`
		Error          string `json:"error,omitempty"`
	}
	respondJSON(w, http.StatusOK, testResponse{
		Success:        res.Success,
		StatusCode:     res.StatusCode,
		ResponseTimeMs: res.Duration.Milliseconds(),
		Error:          res.Error,
	})
}

func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	state := r.URL.Query().Get("state")
	switch state {
	case "", domain.DeliveryPending, domain.DeliveryRetrying, domain.DeliverySucceeded, domain.DeliveryAbandoned:
	default:
		respondError(w, http.StatusBadRequest, "unknown state filter")
		return
	}

	deliveries, err := h.store.ListDeliveries(r.Context(), sub.ID, state, queryLimit(r, 50, 200))
	if err != nil {
		h.logger.Error("failed to list deliveries", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	respondJSON(w, http.StatusOK, deliveries)
}

// Events lists the event names a webhook can subscribe to.
func (h *WebhookHandler) Events(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"events": domain.KnownEvents()})
}
