package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/todosync/internal/apperr"
	"github.com/starford/todosync/internal/models"
)

// SearchResult represents one search hit.
type SearchResult struct {
	ExternalID string `json:"external_id"`
	Path       string `json:"path"`
	Text       string `json:"text"`
	Snippet    string `json:"snippet"`
}

// PassRow is one entry of the pass history.
type PassRow struct {
	ID        int64         `json:"id"`
	Kind      string        `json:"kind"`
	Path      string        `json:"path,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Pulled    int           `json:"pulled"`
	Completed int           `json:"completed"`
	Archived  int           `json:"archived"`
	Islands   int           `json:"islands"`
	Unchanged int           `json:"unchanged"`
	Failures  int           `json:"failures"`
	Rewrites  int           `json:"rewrites"`
	Error     string        `json:"error,omitempty"`
}

// ReplaceTodos swaps the stored snapshot for todos within a transaction.
func (db *DB) ReplaceTodos(todos []models.ToDo) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM todos`); err != nil {
		return fmt.Errorf("index: clear todos: %w", err)
	}
	if err := ftsReset(tx); err != nil {
		return err
	}

	if len(todos) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO todos
				(external_id, text, file_name, file_path, span, line, form, status, link, last_changed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare todo insert: %w", err)
		}
		defer stmt.Close()
		for _, td := range todos {
			if td.ExternalID == "" {
				continue
			}
			_, err := stmt.Exec(td.ExternalID, td.Text, td.Source.Filename, td.Source.RelativePath,
				td.Span.String(), td.Span.Start.Line, int(td.Form), string(td.Status), td.ExternalLink, td.LastChanged)
			if err != nil {
				return fmt.Errorf("index: insert todo: %w", err)
			}
			if err := ftsInsert(tx, td); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

const todoColumns = `external_id, text, file_name, file_path, span, form, status, link, last_changed`

func scanTodo(sc interface{ Scan(...any) error }) (models.ToDo, error) {
	var (
		td     models.ToDo
		span   string
		form   int
		status string
	)
	if err := sc.Scan(&td.ExternalID, &td.Text, &td.Source.Filename, &td.Source.RelativePath,
		&span, &form, &status, &td.ExternalLink, &td.LastChanged); err != nil {
		return td, err
	}
	s, err := models.ParseSpan(span)
	if err != nil {
		return td, err
	}
	td.Span = s
	td.Form = models.CommentForm(form)
	td.Status = models.Status(status)
	return td, nil
}

// GetTodo returns one TODO by identifier.
func (db *DB) GetTodo(id string) (*models.ToDo, error) {
	row := db.conn.QueryRow(`SELECT `+todoColumns+` FROM todos WHERE external_id = ?`, id)
	td, err := scanTodo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: todo %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get todo: %w", err)
	}
	return &td, nil
}

// ListTodos returns a page of TODOs ordered by file and line, optionally
// filtered by file path and status, plus the total number of matches.
func (db *DB) ListTodos(limit, offset int, path, status string) ([]models.ToDo, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		where []string
		args  []any
	)
	if path != "" {
		where = append(where, "file_path = ?")
		args = append(args, path)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM todos`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count todos: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+todoColumns+` FROM todos`+cond+
		` ORDER BY file_path, line, external_id LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list todos: %w", err)
	}
	defer rows.Close()

	out := []models.ToDo{}
	for rows.Next() {
		td, err := scanTodo(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("index: scan todo: %w", err)
		}
		out = append(out, td)
	}
	return out, total, rows.Err()
}

// UpsertFile records the checksum last seen for a file.
func (db *DB) UpsertFile(meta models.FileMeta) error {
	_, err := db.conn.Exec(`
		INSERT INTO files (path, checksum, mod_time, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			mod_time   = excluded.mod_time,
			updated_at = excluded.updated_at
	`, meta.Path, meta.Checksum, meta.ModTime, time.Now())
	if err != nil {
		return fmt.Errorf("index: upsert file: %w", err)
	}
	return nil
}

// DeleteFile forgets a file.
func (db *DB) DeleteFile(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete file: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for a file, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM files WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns path → checksum for every known file.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM files`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// RecordPass appends a pass to the history and returns its id.
func (db *DB) RecordPass(p PassRow) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO passes
			(kind, path, started_at, duration_ms, created, updated, pulled, completed,
			 archived, islands, unchanged, failures, rewrites, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Kind, p.Path, p.StartedAt, p.Duration.Milliseconds(), p.Created, p.Updated, p.Pulled,
		p.Completed, p.Archived, p.Islands, p.Unchanged, p.Failures, p.Rewrites, p.Error)
	if err != nil {
		return 0, fmt.Errorf("index: record pass: %w", err)
	}
	return res.LastInsertId()
}

// ListPasses returns the most recent passes, newest first.
func (db *DB) ListPasses(limit int) ([]PassRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, kind, path, started_at, duration_ms, created, updated, pulled, completed,
		       archived, islands, unchanged, failures, rewrites, error
		FROM passes
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("index: list passes: %w", err)
	}
	defer rows.Close()

	out := []PassRow{}
	for rows.Next() {
		var (
			p  PassRow
			ms int64
		)
		if err := rows.Scan(&p.ID, &p.Kind, &p.Path, &p.StartedAt, &ms, &p.Created, &p.Updated, &p.Pulled,
			&p.Completed, &p.Archived, &p.Islands, &p.Unchanged, &p.Failures, &p.Rewrites, &p.Error); err != nil {
			return nil, fmt.Errorf("index: scan pass: %w", err)
		}
		p.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, p)
	}
	return out, rows.Err()
}
