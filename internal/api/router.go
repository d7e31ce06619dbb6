package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/agency-portal/internal/engine"
	"github.com/Priya8975/agency-portal/internal/entitlement"
	"github.com/Priya8975/agency-portal/internal/metrics"
	"github.com/Priya8975/agency-portal/internal/store"
	"github.com/Priya8975/agency-portal/internal/worker"
	ws "github.com/Priya8975/agency-portal/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Deps are the components the HTTP API is built from. Tracker, Limiter and
// Hub are optional.
type Deps struct {
	Store          store.Store
	FanOut         *engine.FanOutEngine
	Sweeper        *worker.Sweeper
	Catalog        *entitlement.Catalog
	Hub            *ws.Hub
	Tracker        *engine.FailureTracker
	Limiter        *engine.RateLimiter
	RateLimit      int
	InternalSecret string
	HealthChecks   map[string]Check
	Logger         *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(corsMiddleware)

	webhooks := NewWebhookHandler(d.Store, d.FanOut, d.Tracker, d.Logger)
	deliveries := NewDeliveryHandler(d.Store, d.Logger)
	events := NewEventHandler(d.FanOut)
	portal := NewPortalHandler(d.Store, d.Catalog, d.FanOut, d.Logger)
	internal := NewInternalHandler(d.Store, d.Sweeper, d.Catalog, d.Logger)
	dashboard := NewDashboardHandler(d.Store, d.Hub, d.Logger)

	r.Handle("/metrics", metrics.Handler())
	if d.Hub != nil {
		r.Get("/ws", d.Hub.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(Version, d.HealthChecks))

		r.Group(func(r chi.Router) {
			r.Use(requireInternal(d.InternalSecret))
			r.Post("/cron/retry-webhooks", internal.RetryWebhooks)
			r.Put("/internal/billing/{ownerID}", internal.SyncBilling)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireTenant)
			r.Use(rateLimit(d.Limiter, d.RateLimit))

			r.Route("/webhooks", func(r chi.Router) {
				r.Get("/", webhooks.List)
				r.Post("/", webhooks.Create)
				r.Get("/events", webhooks.Events)
				r.Get("/{id}", webhooks.Get)
				r.Patch("/{id}", webhooks.Update)
				r.Delete("/{id}", webhooks.Delete)
				r.Post("/{id}/test", webhooks.Test)
				r.Get("/{id}/deliveries", webhooks.Deliveries)
			})

			r.Post("/deliveries/{id}/retry", deliveries.Retry)
			r.Post("/events", events.Trigger)

			r.Route("/requests", func(r chi.Router) {
				r.Get("/", portal.ListRequests)
				r.Post("/", portal.CreateRequest)
				r.Patch("/{id}/status", portal.UpdateRequestStatus)
			})
			r.Post("/meetings", portal.CreateMeeting)
			r.Post("/team/invites", portal.CreateInvite)
			r.Post("/team/invites/{token}/accept", portal.AcceptInvite)
			r.Get("/entitlements", portal.Entitlements)

			r.Get("/dashboard/metrics", dashboard.Metrics)
		})
	})

	return r
}
