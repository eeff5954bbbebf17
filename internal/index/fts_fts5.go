//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"

	"github.com/starford/todosync/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS todos_fts USING fts5(
			external_id UNINDEXED,
			file_path,
			text,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsReset(tx *sql.Tx) error {
	if _, err := tx.Exec(`DELETE FROM todos_fts`); err != nil {
		return fmt.Errorf("index: reset fts: %w", err)
	}
	return nil
}

func ftsInsert(tx *sql.Tx, td models.ToDo) error {
	_, err := tx.Exec(`INSERT INTO todos_fts (external_id, file_path, text) VALUES (?, ?, ?)`,
		td.ExternalID, td.Source.RelativePath, td.Text)
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

// Search performs an FTS5 full-text search and returns matching results with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT external_id,
		       file_path,
		       text,
		       snippet(todos_fts, 2, '<b>', '</b>', '...', 32)
		FROM todos_fts
		WHERE todos_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
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
