package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/rolechat-memory/internal/memory"
	"github.com/iammorganparry/rolechat-memory/internal/store"
	"github.com/iammorganparry/rolechat-memory/internal/vectorstore"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	svc *memory.Service,
	index vectorstore.Index,
	llmHealth HealthChecker,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db, index, llmHealth)
	sessionH := NewSessionHandler(svc)
	memoryH := NewMemoryHandler(svc)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionH.GetOrCreate)
			r.Post("/{id}/end", sessionH.End)
		})
		r.Post("/context", sessionH.Context)
		r.Post("/exchanges", sessionH.Exchange)

		r.Route("/users/{userID}/characters/{character}", func(r chi.Router) {
			r.Get("/summary", memoryH.Summary)
			r.Get("/memories", memoryH.List)
			r.Delete("/memories", memoryH.Clear)
			r.Get("/entities", memoryH.Entities)
		})
		r.Delete("/memories/{id}", memoryH.Delete)
	})

	return r
}
