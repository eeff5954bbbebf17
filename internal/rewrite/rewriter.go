package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/starford/todosync/internal/apperr"
	"github.com/starford/todosync/internal/extract"
	"github.com/starford/todosync/internal/reconcile"
	"github.com/starford/todosync/internal/storage"
)

// Rewriter edits comments in place.
type Rewriter struct {
	store  storage.Provider
	guard  *Guard
	logger *slog.Logger
}

// New creates a Rewriter. store may be nil when no workspace is open;
// Apply then fails with apperr.ErrNoWorkspace.
func New(store storage.Provider, guard *Guard, logger *slog.Logger) *Rewriter {
	if guard == nil {
		guard = NewGuard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{store: store, guard: guard, logger: logger}
}

// Apply performs the rewrites, one atomic write per file. Within a file the
// edits are applied from the last span to the first so that earlier spans
// keep their positions. It returns the number of edits applied; per-file
// failures are joined into the returned error.
func (r *Rewriter) Apply(ctx context.Context, rewrites []reconcile.Rewrite) (int, error) {
	if len(rewrites) == 0 {
		return 0, nil
	}
	if r.store == nil || r.store.Root() == "" {
		return 0, apperr.ErrNoWorkspace
	}

	byFile := make(map[string][]reconcile.Rewrite)
	var paths []string
	for _, rw := range rewrites {
		p := rw.ToDo.Source.RelativePath
		if _, ok := byFile[p]; !ok {
			paths = append(paths, p)
		}
		byFile[p] = append(byFile[p], rw)
	}
	sort.Strings(paths)

	applied := 0
	var errs []error
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		n, err := r.applyFile(p, byFile[p])
		applied += n
		if err != nil {
			r.logger.Error("rewrite: file failed", slog.String("path", p), slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return applied, errors.Join(errs...)
}

func (r *Rewriter) applyFile(path string, rws []reconcile.Rewrite) (int, error) {
	sort.SliceStable(rws, func(i, j int) bool {
		return rws[j].ToDo.Span.Start.Before(rws[i].ToDo.Span.Start)
	})

	applied := 0
	err := r.guard.Do(path, func() ([]byte, error) {
		data, _, err := r.store.Read(path)
		if err != nil {
			return nil, fmt.Errorf("rewrite: %w", err)
		}
		text := string(data)
		idx := extract.NewLineIndex(text)

		for _, rw := range rws {
			start, ok1 := idx.Offset(rw.ToDo.Span.Start)
			end, ok2 := idx.Offset(rw.ToDo.Span.End)
			if !ok1 || !ok2 || end < start || !isComment(text[start:end]) {
				r.logger.Warn("rewrite: span no longer matches a comment, skipping",
					slog.String("path", path),
					slog.String("span", rw.ToDo.Span.String()),
					slog.String("action", rw.Action.String()))
				continue
			}
			repl := ""
			if rw.Action != reconcile.Blank {
				repl = Render(rw.ToDo)
			}
			text = text[:start] + repl + text[end:]
			applied++
		}
		if applied == 0 {
			return nil, nil
		}
		out := []byte(text)
		if err := r.store.Write(path, out); err != nil {
			return nil, fmt.Errorf("rewrite: %w", err)
		}
		r.logger.Info("rewrite: file updated", slog.String("path", path), slog.Int("edits", applied))
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

func isComment(s string) bool {
	return strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/*")
}
