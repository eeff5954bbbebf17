// Package reconcile merges locally extracted TODOs with remote task records.
package reconcile

import (
	"sort"

	"github.com/starford/todosync/internal/models"
)

// Session owns the local and remote stores of one synchronization context.
// It is not safe for concurrent passes; callers serialize access.
type Session struct {
	Local  map[string]models.ToDo
	Remote map[string]models.ToDo

	// pending holds local entities without a usable identifier.
	pending []models.ToDo
	// held lists files that could not be read this pass; their remote
	// records are not archived.
	held map[string]struct{}
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		Local:  make(map[string]models.ToDo),
		Remote: make(map[string]models.ToDo),
		held:   make(map[string]struct{}),
	}
}

// Reset discards all local state ahead of a full pass.
func (s *Session) Reset() {
	s.Local = make(map[string]models.ToDo)
	s.pending = nil
	s.held = make(map[string]struct{})
}

// Add stores a freshly extracted entity. Linked entities are keyed by id and
// a later scan overwrites an earlier one with the same id. Entities without an
// id or with a malformed one are pending.
func (s *Session) Add(td models.ToDo) {
	if !td.Linked() {
		s.pending = append(s.pending, td)
		return
	}
	s.Local[td.ExternalID] = td
}

// HoldFile marks relPath as unreadable: remote records pointing at it are
// left alone until the file is scanned again.
func (s *Session) HoldFile(relPath string) {
	s.held[relPath] = struct{}{}
}

// Held reports whether relPath is currently held.
func (s *Session) Held(relPath string) bool {
	_, ok := s.held[relPath]
	return ok
}

// ForgetFile drops every local entity extracted from relPath and releases
// any hold on it.
func (s *Session) ForgetFile(relPath string) {
	delete(s.held, relPath)
	for id, td := range s.Local {
		if td.Source.RelativePath == relPath {
			delete(s.Local, id)
		}
	}
	kept := s.pending[:0]
	for _, td := range s.pending {
		if td.Source.RelativePath != relPath {
			kept = append(kept, td)
		}
	}
	s.pending = kept
}

// Pending returns a copy of the entities still awaiting an identifier.
func (s *Session) Pending() []models.ToDo {
	return append([]models.ToDo(nil), s.pending...)
}

// Todos returns the local store sorted by file and position.
func (s *Session) Todos() []models.ToDo {
	out := make([]models.ToDo, 0, len(s.Local))
	for _, td := range s.Local {
		out = append(out, td)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source.RelativePath != out[j].Source.RelativePath {
			return out[i].Source.RelativePath < out[j].Source.RelativePath
		}
		return out[i].Span.Start.Before(out[j].Span.Start)
	})
	return out
}

func sortedKeys(m map[string]models.ToDo) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
