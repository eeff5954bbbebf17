// Package syncer drives synchronization passes: it scans the workspace,
// reconciles against the remote store, rewrites comments and records the
// outcome in the ledger.
package syncer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/todosync/internal/checksum"
	"github.com/starford/todosync/internal/extract"
	"github.com/starford/todosync/internal/index"
	"github.com/starford/todosync/internal/models"
	"github.com/starford/todosync/internal/reconcile"
	"github.com/starford/todosync/internal/rewrite"
	"github.com/starford/todosync/internal/storage"
)

// Pass kinds.
const (
	KindFull = "full"
	KindFile = "file"
)

// Result describes one finished pass.
type Result struct {
	Kind      string
	Path      string
	StartedAt time.Time
	Duration  time.Duration
	Files     int
	Rewritten int
	Report    *reconcile.Report
	Err       error
}

// Row converts the result to a ledger history entry.
func (r *Result) Row() index.PassRow {
	row := index.PassRow{
		Kind:      r.Kind,
		Path:      r.Path,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		Rewrites:  r.Rewritten,
	}
	if rep := r.Report; rep != nil {
		row.Created = rep.Created
		row.Updated = rep.Updated
		row.Pulled = rep.Pulled
		row.Completed = rep.Completed
		row.Archived = rep.Archived
		row.Islands = rep.Islands
		row.Unchanged = rep.Unchanged
		row.Failures = len(rep.Failures)
	}
	if r.Err != nil {
		row.Error = r.Err.Error()
	}
	return row
}

// Notifier is called after every pass, successful or not.
type Notifier func(res *Result)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier registers a pass notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notify = n }
}

// Orchestrator serializes passes over one session.
type Orchestrator struct {
	mu      sync.Mutex
	session *reconcile.Session
	primed  bool

	store    storage.Provider
	engine   *reconcile.Engine
	rewriter *rewrite.Rewriter
	guard    *rewrite.Guard
	ledger   index.Ledger
	logger   *slog.Logger
	notify   Notifier

	last atomic.Pointer[Result]
}

// New creates an Orchestrator.
func New(store storage.Provider, remote reconcile.Remote, ledger index.Ledger, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		session: reconcile.NewSession(),
		guard:   rewrite.NewGuard(),
		store:   store,
		ledger:  ledger,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.engine = reconcile.NewEngine(remote, logger)
	o.rewriter = rewrite.New(store, o.guard, logger)
	return o
}

// Last returns the most recent pass result, or nil.
func (o *Orchestrator) Last() *Result {
	return o.last.Load()
}

// FullPass rescans every eligible file into a fresh session and reconciles it.
func (o *Orchestrator) FullPass(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fullPass(ctx)
}

func (o *Orchestrator) fullPass(ctx context.Context) (*Result, error) {
	res := &Result{Kind: KindFull, StartedAt: time.Now()}

	metas, err := o.store.List()
	if err != nil {
		return o.finish(res, err)
	}

	o.session.Reset()
	seen := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return o.finish(res, err)
		}
		data, mod, err := o.store.Read(m.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			// Keep the file's records alive until it can be read again.
			o.logger.Warn("sync: read failed, holding file", slog.String("path", m.Path), slog.String("error", err.Error()))
			o.session.HoldFile(m.Path)
			seen[m.Path] = struct{}{}
			continue
		}
		o.scanInto(m.Path, data, mod)
		seen[m.Path] = struct{}{}
		res.Files++
	}
	o.forgetStaleFiles(seen)

	if err := o.reconcile(ctx, res); err != nil {
		return o.finish(res, err)
	}
	o.primed = true
	return o.finish(res, nil)
}

// FilePass rescans a single file (relative to the workspace root) and
// reconciles the session against a fresh remote snapshot. A missing file
// contributes no entities. Before the first full pass it runs a full pass
// instead, since the session does not yet describe the rest of the workspace.
func (o *Orchestrator) FilePass(ctx context.Context, path string) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.primed {
		return o.fullPass(ctx)
	}

	res := &Result{Kind: KindFile, Path: path, StartedAt: time.Now()}

	data, mod, err := o.store.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		o.session.ForgetFile(path)
		o.guard.Forget(path)
		if err := o.ledger.DeleteFile(path); err != nil {
			o.logger.Warn("sync: forget file failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	case err != nil:
		// The session keeps the file's previous entities.
		return o.finish(res, err)
	default:
		o.session.ForgetFile(path)
		if o.store.Match(path) {
			o.scanInto(path, data, mod)
			res.Files = 1
		}
	}

	if err := o.reconcile(ctx, res); err != nil {
		return o.finish(res, err)
	}
	return o.finish(res, nil)
}

// scanInto extracts the TODOs of one file into the session and records the
// file's checksum.
func (o *Orchestrator) scanInto(path string, data []byte, mod time.Time) {
	src := models.NewSourceFile(o.store.Root(), filepath.Join(o.store.Root(), filepath.FromSlash(path)))
	for _, td := range extract.File(string(data), src, mod) {
		if r, ok := o.session.Remote[td.ExternalID]; ok && td.Linked() {
			td.Status = r.Status
		}
		o.session.Add(td)
	}
	meta := models.FileMeta{Path: path, Checksum: checksum.Sum(data), ModTime: mod}
	if err := o.ledger.UpsertFile(meta); err != nil {
		o.logger.Warn("sync: record checksum failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// reconcile runs the engine, applies rewrites, rescans rewritten files and
// stores the resulting snapshot.
func (o *Orchestrator) reconcile(ctx context.Context, res *Result) error {
	rep, err := o.engine.Reconcile(ctx, o.session)
	res.Report = rep
	if err != nil {
		return err
	}

	n, rwErr := o.rewriter.Apply(ctx, rep.Rewrites)
	res.Rewritten = n
	for _, p := range rewrittenPaths(rep.Rewrites) {
		data, mod, err := o.store.Read(p)
		if err != nil {
			continue
		}
		o.session.ForgetFile(p)
		o.scanInto(p, data, mod)
	}

	if err := o.ledger.ReplaceTodos(o.session.Todos()); err != nil {
		o.logger.Error("sync: store snapshot failed", slog.String("error", err.Error()))
	}
	return rwErr
}

func (o *Orchestrator) forgetStaleFiles(seen map[string]struct{}) {
	known, err := o.ledger.AllChecksums()
	if err != nil {
		o.logger.Warn("sync: list known files failed", slog.String("error", err.Error()))
		return
	}
	for p := range known {
		if _, ok := seen[p]; ok {
			continue
		}
		if err := o.ledger.DeleteFile(p); err != nil {
			o.logger.Warn("sync: forget file failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) finish(res *Result, err error) (*Result, error) {
	res.Err = err
	res.Duration = time.Since(res.StartedAt)

	if _, recErr := o.ledger.RecordPass(res.Row()); recErr != nil {
		o.logger.Warn("sync: record pass failed", slog.String("error", recErr.Error()))
	}

	attrs := []any{
		slog.String("kind", res.Kind),
		slog.Int("files", res.Files),
		slog.Int("rewritten", res.Rewritten),
		slog.Duration("duration", res.Duration),
	}
	if res.Path != "" {
		attrs = append(attrs, slog.String("path", res.Path))
	}
	if rep := res.Report; rep != nil {
		attrs = append(attrs,
			slog.Int("created", rep.Created),
			slog.Int("updated", rep.Updated),
			slog.Int("pulled", rep.Pulled),
			slog.Int("completed", rep.Completed),
			slog.Int("archived", rep.Archived),
			slog.Int("islands", rep.Islands),
			slog.Int("failures", len(rep.Failures)),
		)
		for _, f := range rep.Failures {
			o.logger.Warn("sync: entity failed",
				slog.String("id", f.ExternalID),
				slog.String("path", f.Path),
				slog.String("error", f.Err.Error()))
		}
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		o.logger.Error("sync: pass failed", attrs...)
	} else {
		o.logger.Info("sync: pass completed", attrs...)
	}

	o.last.Store(res)
	if o.notify != nil {
		o.notify(res)
	}
	return res, err
}

func rewrittenPaths(rws []reconcile.Rewrite) []string {
	set := make(map[string]struct{})
	for _, rw := range rws {
		set[rw.ToDo.Source.RelativePath] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
