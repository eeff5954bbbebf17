package index

import "github.com/starford/todosync/internal/models"

// Ledger defines the persistence operations used by the orchestrator and the
// read-only surfaces. Consumers depend on this interface rather than *DB.
type Ledger interface {
	ReplaceTodos(todos []models.ToDo) error
	GetTodo(id string) (*models.ToDo, error)
	ListTodos(limit, offset int, path, status string) ([]models.ToDo, int, error)
	Search(query string, limit int) ([]SearchResult, error)

	UpsertFile(meta models.FileMeta) error
	DeleteFile(path string) error
	GetChecksum(path string) (string, error)
	AllChecksums() (map[string]string, error)

	RecordPass(p PassRow) (int64, error)
	ListPasses(limit int) ([]PassRow, error)

	Close() error
}

// Verify *DB satisfies Ledger at compile time.
var _ Ledger = (*DB)(nil)
