package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/othala/internal/backlinks"
	"github.com/starford/othala/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// migrator, if non-nil, enables the maintenance endpoints.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, migrator *backlinks.Migrator, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, migrator)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", h.ListNotes)
	r.Post("/notes", h.CreateNote)
	r.Get("/notes/*", h.GetNote)
	r.Put("/notes/*", h.UpdateNote)
	r.Delete("/notes/*", h.DeleteNote)

	// Link graph.
	r.Get("/graph", h.Graph)
	r.Get("/backlinks/*", h.Backlinks)
	r.Get("/outgoing/*", h.OutgoingLinks)

	// Search.
	r.Get("/search", h.Search)

	// Propagation queue health.
	r.Get("/queue", h.QueueStatus)

	// Vault maintenance.
	if migrator != nil {
		r.Post("/maintenance/validate", h.Validate)
		r.Post("/maintenance/repair", h.Repair)
	}

	// SSE endpoint (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
