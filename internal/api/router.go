package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/todosync/internal/index"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(ledger index.Ledger, sync Syncer, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(ledger, sync)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Reconciled TODO snapshot.
	r.Get("/todos", h.ListTodos)
	r.Get("/todos/{id}", h.GetTodo)

	// Search.
	r.Get("/search", h.Search)

	// Pass history and manual trigger.
	r.Get("/passes", h.ListPasses)
	r.Post("/sync", h.Sync)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
