//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"

	"github.com/starford/todosync/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE on the todos table.
	return nil
}

func ftsReset(_ *sql.Tx) error { return nil }

func ftsInsert(_ *sql.Tx, _ models.ToDo) error { return nil }

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT external_id, file_path, text, substr(text, 1, 200)
		FROM todos
		WHERE text LIKE ? OR file_path LIKE ?
		ORDER BY file_path, external_id
		LIMIT ?
	`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ExternalID, &r.Path, &r.Text, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
