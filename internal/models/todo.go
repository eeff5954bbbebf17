// Package models defines the domain types for todosync.
package models

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/starford/todosync/internal/ident"
)

// Status is the workflow state of a task as stored in Notion.
type Status string

// Known statuses. StatusNone means the record carries no status.
const (
	StatusNone       Status = ""
	StatusNotStarted Status = "Not Started"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
)

// ParseStatus maps a Notion select option name to a Status.
// Unknown names map to StatusNone.
func ParseStatus(name string) Status {
	switch s := Status(name); s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return s
	default:
		return StatusNone
	}
}

// CommentForm is the syntactic shape of a TODO comment.
type CommentForm int

const (
	LineComment CommentForm = iota
	BlockComment
)

// Position is a zero-based line and byte column.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before reports whether p sorts before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Span is a half-open range of a comment inside a file.
type Span struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// String serializes the span the way it is stored in the Position field.
func (s Span) String() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// ParseSpan decodes a serialized span. An empty string is the zero span.
func ParseSpan(raw string) (Span, error) {
	var s Span
	if raw == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Span{}, fmt.Errorf("models: parse span %q: %w", raw, err)
	}
	return s, nil
}

// SourceFile identifies the file a TODO was found in.
type SourceFile struct {
	Filename     string `json:"file_name"`
	RelativePath string `json:"file_path"`
}

// NewSourceFile builds a SourceFile for path. RelativePath is relative to root
// (slash separated); when root is empty or path lies outside it, the absolute
// path is used instead.
func NewSourceFile(root, path string) SourceFile {
	sf := SourceFile{Filename: filepath.Base(path)}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if root != "" {
		if rel, err := filepath.Rel(root, abs); err == nil && !filepath.IsAbs(rel) && rel != ".." && !hasParentPrefix(rel) {
			sf.RelativePath = filepath.ToSlash(rel)
			return sf
		}
	}
	sf.RelativePath = filepath.ToSlash(abs)
	return sf
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

// ToDo is one task, either extracted from a comment or read from Notion.
type ToDo struct {
	Text         string      `json:"text"`
	Source       SourceFile  `json:"source"`
	Span         Span        `json:"span"`
	LastChanged  time.Time   `json:"last_changed"`
	Status       Status      `json:"status,omitempty"`
	ExternalID   string      `json:"external_id,omitempty"`
	ExternalLink string      `json:"external_link,omitempty"`
	Form         CommentForm `json:"-"`
}

// Linked reports whether the entity carries a usable identifier. A malformed
// link (ident.NoID) does not count.
func (t ToDo) Linked() bool {
	return t.ExternalID != "" && t.ExternalID != ident.NoID
}

// FileMeta is a lightweight description of a workspace file.
type FileMeta struct {
	Path     string    `json:"path"`
	Checksum string    `json:"checksum"`
	ModTime  time.Time `json:"mod_time"`
}
