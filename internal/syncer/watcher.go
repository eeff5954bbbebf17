package syncer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/todosync/internal/checksum"
)

// WatchConfig tunes the watcher.
type WatchConfig struct {
	// Debounce is the quiet period after the last event for a file before an
	// incremental pass runs.
	Debounce time.Duration
	// Interval between periodic full passes; zero disables them.
	Interval time.Duration
}

// Watch follows workspace changes until ctx is cancelled. Each changed file
// triggers a debounced incremental pass unless the change is the process's own
// rewrite or leaves the file content unchanged. New directories created at
// runtime are added to the watch list.
func (o *Orchestrator) Watch(ctx context.Context, cfg WatchConfig) error {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	root := o.store.Root()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := o.addDirsRecursive(w, root); err != nil {
		return err
	}
	o.logger.Info("watcher: started", slog.String("root", root))

	var tickC <-chan time.Time
	if cfg.Interval > 0 {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	due := make(chan string, 64)
	timers := make(map[string]*time.Timer)
	schedule := func(rel string) {
		if t, ok := timers[rel]; ok {
			t.Reset(cfg.Debounce)
			return
		}
		timers[rel] = time.AfterFunc(cfg.Debounce, func() {
			select {
			case due <- rel:
			case <-ctx.Done():
			}
		})
	}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("watcher: stopped")
			return nil

		case <-tickC:
			if _, err := o.FullPass(ctx); err != nil && ctx.Err() == nil {
				o.logger.Warn("watcher: periodic pass failed", slog.String("error", err.Error()))
			}

		case rel := <-due:
			delete(timers, rel)
			o.handleChange(ctx, rel)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					o.watchNewDir(w, ev.Name, schedule)
					continue
				}
			}

			rel, relErr := o.store.Rel(ev.Name)
			if relErr != nil || !o.store.Match(rel) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule(rel)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			o.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// handleChange runs an incremental pass for rel when its content differs from
// what the ledger last saw and was not written by the rewriter.
func (o *Orchestrator) handleChange(ctx context.Context, rel string) {
	if o.guard.Saving(rel) {
		return
	}
	known, err := o.ledger.GetChecksum(rel)
	if err != nil {
		o.logger.Warn("watcher: checksum lookup failed", slog.String("path", rel), slog.String("error", err.Error()))
	}

	data, _, err := o.store.Read(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if known == "" {
			return
		}
	case err != nil:
		o.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	default:
		if o.guard.Suppress(rel, data) {
			o.logger.Debug("watcher: own write ignored", slog.String("path", rel))
			return
		}
		if checksum.Equal(data, known) {
			return
		}
	}

	o.logger.Debug("watcher: file changed", slog.String("path", rel))
	if _, err := o.FilePass(ctx, rel); err != nil && ctx.Err() == nil {
		o.logger.Warn("watcher: incremental pass failed", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

// watchNewDir adds a directory created at runtime and schedules any eligible
// files already inside it.
func (o *Orchestrator) watchNewDir(w *fsnotify.Watcher, dir string, schedule func(string)) {
	if err := o.addDirsRecursive(w, dir); err != nil {
		o.logger.Warn("watcher: add new dir failed", slog.String("path", dir), slog.String("error", err.Error()))
		return
	}
	o.logger.Debug("watcher: watching new dir", slog.String("path", dir))
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, relErr := o.store.Rel(p); relErr == nil && o.store.Match(rel) {
			schedule(rel)
		}
		return nil
	})
}

// addDirsRecursive adds root and all its non-excluded subdirectories to the watcher.
func (o *Orchestrator) addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := o.store.Rel(p); relErr == nil && o.store.ExcludedDir(rel) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
