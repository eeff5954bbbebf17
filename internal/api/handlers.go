package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/todosync/internal/index"
	"github.com/starford/todosync/internal/syncer"
)

// Syncer runs synchronization passes on demand.
type Syncer interface {
	FullPass(ctx context.Context) (*syncer.Result, error)
}

// Handler holds API route handlers.
type Handler struct {
	ledger index.Ledger
	sync   Syncer
}

// NewHandler creates a new Handler.
func NewHandler(ledger index.Ledger, sync Syncer) *Handler {
	return &Handler{ledger: ledger, sync: sync}
}

// ListTodos handles GET /api/todos.
//
//	@Summary		List reconciled TODOs with optional pagination and filtering
//	@Tags			todos
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			path	query		string	false	"Filter by file path"
//	@Param			status	query		string	false	"Filter by status"	Enums(Not Started, In Progress, Completed)
//	@Success		200		{object}	TodoListResponse
//	@Security		BearerAuth
//	@Router			/todos [get]
func (h *Handler) ListTodos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, total, err := h.ledger.ListTodos(intParam(r, "limit"), intParam(r, "offset"), q.Get("path"), q.Get("status"))
	if err != nil {
		writeError(w, "list todos", err)
		return
	}
	writeJSON(w, http.StatusOK, TodoListResponse{Todos: items, Total: total})
}

// GetTodo handles GET /api/todos/{id}.
//
//	@Summary		Get a single TODO by its Notion identifier
//	@Tags			todos
//	@Produce		json
//	@Param			id	path		string	true	"Normalized Notion page id"
//	@Success		200	{object}	ToDo
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/todos/{id} [get]
func (h *Handler) GetTodo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	td, err := h.ledger.GetTodo(id)
	if err != nil {
		writeError(w, "get todo "+id, err)
		return
	}
	writeJSON(w, http.StatusOK, td)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across TODO text
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	hits, err := h.ledger.Search(q, intParam(r, "limit"))
	if err != nil {
		writeError(w, "search", err)
		return
	}
	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, SearchResult(hit))
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// ListPasses handles GET /api/passes.
//
//	@Summary		Recent synchronization passes, newest first
//	@Tags			sync
//	@Produce		json
//	@Param			limit	query		int	false	"Max results"
//	@Success		200		{object}	PassListResponse
//	@Security		BearerAuth
//	@Router			/passes [get]
func (h *Handler) ListPasses(w http.ResponseWriter, r *http.Request) {
	passes, err := h.ledger.ListPasses(intParam(r, "limit"))
	if err != nil {
		writeError(w, "list passes", err)
		return
	}
	writeJSON(w, http.StatusOK, PassListResponse{Passes: passes})
}

// Sync handles POST /api/sync.
//
//	@Summary		Run a full synchronization pass now
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	SyncResponse
//	@Failure		502	{object}	SyncResponse
//	@Failure		503	{object}	SyncResponse
//	@Failure		500	{object}	SyncResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.sync.FullPass(r.Context())
	if res == nil {
		writeError(w, "sync", err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, syncResponse(res))
}

func syncResponse(res *syncer.Result) SyncResponse {
	out := SyncResponse{Pass: res.Row(), Failures: []FailureDTO{}}
	if res.Report == nil {
		return out
	}
	for _, f := range res.Report.Failures {
		out.Failures = append(out.Failures, FailureDTO{
			ExternalID: f.ExternalID,
			Path:       f.Path,
			Text:       f.Text,
			Error:      f.Err.Error(),
		})
	}
	return out
}
