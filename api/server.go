/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/units/*      Unit management, assignment, readings
  /api/tenancies/*  Tenancy lifecycle operations
  /api/tenants/*    Per-tenant billing views
  /api/readings     Water meter readings
  /api/charges      Recurring flat charges

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Unit routes
		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Post("/", h.CreateUnit)
			r.Get("/{id}", h.GetUnit)
			r.Post("/{id}/maintenance", h.SetMaintenance)
			r.Post("/{id}/assign", h.AssignTenant)
			r.Get("/{id}/readings", h.ListReadings)
		})

		// Tenancy lifecycle routes
		r.Route("/tenancies", func(r chi.Router) {
			r.Get("/{id}", h.GetTenancy)
			r.Post("/{id}/switch", h.SwitchUnit)
			r.Post("/{id}/vacate", h.VacateTenant)
			r.Post("/{id}/refund", h.RefundDeposit)
			r.Post("/{id}/renew", h.RenewLease)
			r.Get("/{id}/deposit", h.GetDeposit)
		})

		// Per-tenant billing views
		r.Route("/tenants", func(r chi.Router) {
			r.Get("/{id}/charges", h.ListCharges)
		})

		// Billing routes
		r.Post("/readings", h.RecordReading)
		r.Post("/charges", h.IssueCharge)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
