package api

import (
	"github.com/starford/todosync/internal/index"
	"github.com/starford/todosync/internal/models"
)

// ToDo is a reconciled TODO (aliased from the domain layer).
type ToDo = models.ToDo

// Pass is one pass history entry (aliased from the ledger).
type Pass = index.PassRow

// TodoListResponse wraps paginated TODO listings.
type TodoListResponse struct {
	Todos []ToDo `json:"todos" validate:"required"`
	Total int    `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	ExternalID string `json:"external_id" example:"abc123def456" validate:"required"`
	Path       string `json:"path" example:"cmd/app/main.go" validate:"required"`
	Text       string `json:"text" example:"fix bug" validate:"required"`
	Snippet    string `json:"snippet" example:"...fix <b>bug</b>..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// PassListResponse wraps the pass history.
type PassListResponse struct {
	Passes []Pass `json:"passes" validate:"required"`
}

// FailureDTO describes one entity that could not be synchronized.
type FailureDTO struct {
	ExternalID string `json:"external_id,omitempty" example:"abc123def456"`
	Path       string `json:"path" example:"main.go"`
	Text       string `json:"text" example:"fix bug"`
	Error      string `json:"error" example:"notion: update page: rate limited"`
}

// SyncResponse is returned by a manual sync.
type SyncResponse struct {
	Pass     Pass         `json:"pass" validate:"required"`
	Failures []FailureDTO `json:"failures" validate:"required"`
}
