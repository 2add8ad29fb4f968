/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: One zap line per request
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the back office
  5. Actor:         X-Actor-* headers -> banking.Actor (API routes only)

ROUTE GROUPS:
  /api/v1/health           Liveness, no actor needed
  /api/v1/comptes/*        Accounts, balances, statements
  /api/v1/clients/*        Client lookups
  /api/v1/transactions/*   Entry settlement
  /api/v1/admin/*          Sweeps
  /api/v1/scenarios/*      Demo data (admin)

SECURITY NOTE:
  Authentication happens upstream. The engine trusts the X-Actor-* headers
  and applies authorization itself.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Actor extraction and request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			HeaderActorID, HeaderActorRole, HeaderActorClientID},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Group(func(r chi.Router) {
			r.Use(ActorFromHeaders)

			r.Route("/comptes", func(r chi.Router) {
				r.Get("/", h.ListAccounts)
				r.Post("/", h.CreateAccount)
				r.Get("/number/{number}", h.GetAccountByNumber)
				r.Get("/{id}", h.GetAccount)
				r.Put("/{id}", h.UpdateAccount)
				r.Delete("/{id}", h.DeleteAccount)
				r.Post("/{id}/block", h.BlockAccount)
				r.Post("/{id}/unblock", h.UnblockAccount)
				r.Get("/{id}/balance", h.GetBalance)
				r.Get("/{id}/transactions", h.GetTransactions)
				r.Post("/{id}/transactions", h.RecordEntry)
				r.Get("/{id}/audit", h.GetAuditTrail)
				r.Get("/{id}/client", h.GetAccountHolder)
			})

			r.Get("/clients/{phone}/comptes", h.ListClientAccounts)
			r.Post("/transactions/{id}/status", h.SetEntryStatus)

			r.Route("/admin/sweeps", func(r chi.Router) {
				r.Post("/archive", h.RunArchiveSweep)
				r.Post("/unarchive", h.RunUnarchiveSweep)
				r.Post("/run", h.RunScheduler)
				r.Get("/last", h.LastSchedulerRun)
			})

			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		})
	})

	return r
}
