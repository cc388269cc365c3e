/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the storefront
  5. Metrics:    Prometheus request counters/latency

ROUTE GROUPS:
  /api/accounts/*    Account credit balances and history
  /api/referrals/*   Referral code validation
  /api/checkout/*    Credit payments
  /api/orders/*      Purchase credit awards
  /api/admin/*       Adjustments, stats, audit
  /metrics           Prometheus scrape endpoint
  /healthz           Liveness probe

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(MetricsMiddleware())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}/credits", h.GetCredits)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/referral", h.GetReferral)
		})

		// Referral routes
		r.Route("/referrals", func(r chi.Router) {
			r.Post("/check", h.CheckReferral)
		})

		// Checkout routes
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/validate", h.ValidatePayment)
			r.Post("/spend", h.Spend)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Post("/credits", h.PurchaseCredits)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Get("/stats", h.GetStats)
			r.Get("/accounts/{id}/audit", h.AuditAccount)
		})
	})

	// Operational endpoints
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
