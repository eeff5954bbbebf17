package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/todosync/internal/apperr"
	"github.com/starford/todosync/internal/ident"
	"github.com/starford/todosync/internal/models"
)

// Remote is the task record store.
type Remote interface {
	// Query returns the current remote snapshot keyed by normalized id.
	Query(ctx context.Context) (map[string]models.ToDo, error)
	// Create inserts a record and returns its normalized id and link.
	Create(ctx context.Context, td models.ToDo) (id, link string, err error)
	// Update overwrites the record with td.
	Update(ctx context.Context, id string, td models.ToDo) error
	// MarkCompleted sets the record's status to Completed.
	MarkCompleted(ctx context.Context, id string) error
}

// Action says how a comment must be rewritten.
type Action int

const (
	// EmbedLink appends the newly created record's link.
	EmbedLink Action = iota
	// Refresh replaces the comment text with the remote text.
	Refresh
	// Blank removes the comment.
	Blank
)

func (a Action) String() string {
	switch a {
	case EmbedLink:
		return "embed"
	case Refresh:
		return "refresh"
	case Blank:
		return "blank"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Rewrite is a scheduled in-place edit of a source file.
type Rewrite struct {
	Action Action
	ToDo   models.ToDo
}

// Failure records one entity that could not be synchronized.
type Failure struct {
	ExternalID string
	Path       string
	Text       string
	Err        error
}

// Report summarizes one reconciliation.
type Report struct {
	Created   int
	Updated   int
	Pulled    int
	Completed int
	Archived  int
	Islands   int
	Unchanged int
	Failures  []Failure
	Rewrites  []Rewrite

	// Identifiers touched by the pass, for notifications.
	CreatedIDs   []string
	CompletedIDs []string
	ArchivedIDs  []string
}

// Writes returns the number of remote writes issued.
func (r *Report) Writes() int {
	return r.Created + r.Updated + r.Archived
}

// Engine runs reconciliation passes against a Remote.
type Engine struct {
	remote Remote
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(remote Remote, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{remote: remote, logger: logger}
}

// Reconcile fetches a fresh remote snapshot into s and merges it with the
// local store. Per-entity failures are collected in the report; only a query
// failure or a configuration error aborts the pass.
func (e *Engine) Reconcile(ctx context.Context, s *Session) (*Report, error) {
	remote, err := e.remote.Query(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: query: %w", err)
	}
	s.Remote = remote

	rep := &Report{}
	visited := make(map[string]struct{}, len(s.Local)+len(s.pending))

	if err := e.createPending(ctx, s, rep, visited); err != nil {
		return rep, err
	}

	for _, id := range sortedKeys(s.Local) {
		if _, done := visited[id]; done {
			continue
		}
		local := s.Local[id]
		r, ok := s.Remote[id]
		if !ok {
			rep.Islands++
			e.logger.Warn("reconcile: linked record not found remotely",
				slog.String("id", id),
				slog.String("path", local.Source.RelativePath),
				slog.String("text", local.Text))
			continue
		}
		visited[id] = struct{}{}

		if err := e.merge(ctx, s, rep, local, r); err != nil {
			return rep, err
		}
	}

	if err := e.archiveOrphans(ctx, s, rep, visited); err != nil {
		return rep, err
	}
	return rep, nil
}

func (e *Engine) createPending(ctx context.Context, s *Session, rep *Report, visited map[string]struct{}) error {
	var failed []models.ToDo
	for _, td := range s.pending {
		if td.ExternalID == ident.NoID {
			rep.fail(td, fmt.Errorf("%w: %q", apperr.ErrMalformedIdentifier, td.ExternalLink))
			e.logger.Warn("reconcile: malformed link, not creating",
				slog.String("path", td.Source.RelativePath),
				slog.String("link", td.ExternalLink))
			failed = append(failed, td)
			continue
		}

		id, link, err := e.remote.Create(ctx, td)
		if err != nil {
			if errors.Is(err, apperr.ErrConfiguration) {
				return err
			}
			rep.fail(td, err)
			e.logger.Warn("reconcile: create failed",
				slog.String("path", td.Source.RelativePath),
				slog.String("error", err.Error()))
			failed = append(failed, td)
			continue
		}

		td.ExternalID = id
		td.ExternalLink = link
		td.Status = models.StatusNotStarted
		s.Local[id] = td
		s.Remote[id] = td
		visited[id] = struct{}{}
		rep.Created++
		rep.CreatedIDs = append(rep.CreatedIDs, id)
		rep.Rewrites = append(rep.Rewrites, Rewrite{Action: EmbedLink, ToDo: td})
	}
	s.pending = failed
	return nil
}

func (e *Engine) merge(ctx context.Context, s *Session, rep *Report, local, r models.ToDo) error {
	id := local.ExternalID

	switch {
	case r.Status == models.StatusCompleted:
		local.Status = models.StatusCompleted
		delete(s.Local, id)
		rep.Completed++
		rep.CompletedIDs = append(rep.CompletedIDs, id)
		rep.Rewrites = append(rep.Rewrites, Rewrite{Action: Blank, ToDo: local})

	case r.LastChanged.After(local.LastChanged):
		merged := local
		merged.Text = r.Text
		merged.Status = r.Status
		merged.LastChanged = r.LastChanged
		s.Local[id] = merged
		rep.Pulled++
		if merged.Text != local.Text {
			rep.Rewrites = append(rep.Rewrites, Rewrite{Action: Refresh, ToDo: merged})
		}

	default:
		local.Status = r.Status
		s.Local[id] = local
		if inSync(local, r) {
			rep.Unchanged++
			return nil
		}
		if err := e.remote.Update(ctx, id, local); err != nil {
			if errors.Is(err, apperr.ErrConfiguration) {
				return err
			}
			rep.fail(local, err)
			e.logger.Warn("reconcile: update failed", slog.String("id", id), slog.String("error", err.Error()))
			return nil
		}
		s.Remote[id] = local
		rep.Updated++
	}
	return nil
}

// inSync reports whether writing local to the remote would change nothing.
// Only the span start is compared: embedding a link moves the end column.
func inSync(local, r models.ToDo) bool {
	return local.Text == r.Text &&
		local.Source == r.Source &&
		local.Span.Start == r.Span.Start
}

func (e *Engine) archiveOrphans(ctx context.Context, s *Session, rep *Report, visited map[string]struct{}) error {
	for _, id := range sortedKeys(s.Remote) {
		r := s.Remote[id]
		if _, ok := visited[id]; ok || r.Status == models.StatusCompleted {
			continue
		}
		if s.Held(r.Source.RelativePath) {
			rep.Unchanged++
			e.logger.Warn("reconcile: source unreadable, not archiving",
				slog.String("id", id),
				slog.String("path", r.Source.RelativePath))
			continue
		}
		e.logger.Info("reconcile: no local comment, moving to completed",
			slog.String("id", id),
			slog.String("path", r.Source.RelativePath),
			slog.String("text", r.Text))
		if err := e.remote.MarkCompleted(ctx, id); err != nil {
			if errors.Is(err, apperr.ErrConfiguration) {
				return err
			}
			rep.fail(r, err)
			continue
		}
		r.Status = models.StatusCompleted
		s.Remote[id] = r
		rep.Archived++
		rep.ArchivedIDs = append(rep.ArchivedIDs, id)
	}
	return nil
}

func (r *Report) fail(td models.ToDo, err error) {
	r.Failures = append(r.Failures, Failure{
		ExternalID: td.ExternalID,
		Path:       td.Source.RelativePath,
		Text:       td.Text,
		Err:        err,
	})
}
