package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/engine"
)

type EventHandler struct {
	fanout *engine.FanOutEngine
}

func NewEventHandler(f *engine.FanOutEngine) *EventHandler {
	return &EventHandler{fanout: f}
}

type triggerEventResponse struct {
	Event   string `json:"event"`
	Matched int    `json:"matched"`
}

// Trigger fans an event out to the tenant's webhooks. Delivery failures are
// recorded for retry and never fail the request.
func (h *EventHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req domain.TriggerEventRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage(`{}`)
	}

	// Deliveries are recorded even if the caller disconnects.
	matched := h.fanout.TriggerWebhooks(context.WithoutCancel(r.Context()), ownerID(r.Context()), req.Event, req.Data)

	respondJSON(w, http.StatusAccepted, triggerEventResponse{Event: req.Event, Matched: matched})
}
