/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. requestLogger: slog line per request, request id (uuid) in context and header
  2. Recoverer:     Panic recovery (500 instead of crash)
  3. metrics:       Prometheus request counter and latency histogram
  4. CORS:          Cross-origin requests for a browser frontend

ROUTE GROUPS:
  /healthz              Liveness + database ping
  /metrics              Prometheus exposition
  /api/cards/*          Card administration
  /api/recharges/*      Recharge workflow
  /api/imports/*        Expense file imports
  /api/expenses/*       Imported expenses and their validation
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. The X-Actor-ID header is trusted.

SEE ALSO:
  - handlers.go, imports.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/fuel-ledger/fund"
)

// RouterOptions configures cross-cutting router behaviour.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", ActorHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/cards", func(r chi.Router) {
			r.Get("/", h.ListCards)
			r.Post("/", h.CreateCard)
			r.Get("/{id}", h.GetCard)
			r.Get("/{id}/audit", h.GetCardAudit)
			r.Post("/{id}/activate", h.cardTransition(h.Cards.Activate))
			r.Post("/{id}/suspend", h.cardTransition(h.Cards.Suspend))
			r.Post("/{id}/expire", h.cardTransition(h.Cards.MarkExpired))
		})

		r.Route("/recharges", func(r chi.Router) {
			r.Get("/", h.ListRecharges)
			r.Post("/", h.CreateRecharge)
			r.Get("/{id}", h.GetRecharge)
			r.Delete("/{id}", h.DeleteRecharge)
			r.Post("/{id}/submit", h.rechargeTransition(fund.ActionSubmit, h.Recharges.Submit))
			r.Post("/{id}/approve", h.rechargeTransition(fund.ActionApprove, h.Recharges.Approve))
			r.Post("/{id}/post", h.rechargeTransition(fund.ActionPost, h.Recharges.Post))
			r.Post("/{id}/cancel", h.rechargeTransition(fund.ActionCancel, h.Recharges.Cancel))
		})

		r.Route("/imports", func(r chi.Router) {
			r.Get("/", h.ListImports)
			r.Post("/", h.CreateImport)
			r.Get("/{id}", h.GetImport)
			r.Get("/{id}/lines", h.GetImportLines)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Get("/{id}", h.GetExpense)
			r.Get("/{id}/receipt", h.GetExpenseReceipt)
			r.Post("/{id}/validate", h.ValidateExpense)
			r.Post("/{id}/reject", h.RejectExpense)
			r.Post("/{id}/reset", h.ResetExpense)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "No such route", nil)
	})

	return r
}
