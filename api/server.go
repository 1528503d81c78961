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
  4. CORS:       Cross-origin requests for the portal frontends

ROUTE GROUPS:
  /api/students/*      Student + ledger operations
  /api/claims/*        Claim submission and gate decisions
  /api/categories      Certification catalog
  /api/certificates    Minted certificates
  /api/scenarios/*     Demo scenarios

SECURITY NOTE:
  No authentication middleware. Actor identity is carried in request
  bodies by the external auth layer; the engine only enforces the claim
  pipeline's own rules.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/{id}", h.GetStudent)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/claims", h.ListStudentClaims)
			r.Get("/{id}/certificates", h.ListStudentCertificates)
			r.Post("/{id}/credits", h.GrantCredits)
		})

		// Claim routes
		r.Route("/claims", func(r chi.Router) {
			r.Post("/", h.SubmitClaim)
			r.Get("/", h.ListClaims)
			r.Get("/{id}", h.GetClaim)
			r.Post("/{id}/poc", h.PocDecision)
			r.Post("/{id}/admin", h.AdminDecision)
		})

		// Catalog routes
		r.Get("/categories", h.ListCategories)

		// Certificate routes
		r.Get("/certificates", h.ListCertificates)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
