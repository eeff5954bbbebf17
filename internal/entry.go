// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/todosync/internal/api"
	"github.com/starford/todosync/internal/index"
	"github.com/starford/todosync/internal/mcpserver"
	"github.com/starford/todosync/internal/notion"
	"github.com/starford/todosync/internal/sse"
	"github.com/starford/todosync/internal/storage"
	"github.com/starford/todosync/internal/syncer"
)

// components holds the wired services shared by every entry point.
type components struct {
	cfg    *Config
	logger *slog.Logger
	ledger *index.DB
	orch   *syncer.Orchestrator
}

func (rt *components) Close() {
	if err := rt.ledger.Close(); err != nil {
		rt.logger.Warn("ledger close failed", slog.String("error", err.Error()))
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup builds the logger, workspace, ledger, remote adapter and orchestrator.
func setup(app *application, syncOpts ...syncer.Option) (*components, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("workspace_root", cfg.Workspace.Root),
		slog.Any("include", cfg.Workspace.Include),
		slog.Any("exclude", cfg.Workspace.Exclude),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Duration("sync_interval", cfg.Sync.Interval),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Workspace.Root, cfg.Workspace.Include, cfg.Workspace.Exclude)
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	ledger, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	remote := app.remote
	if remote == nil {
		nc := cfg.Notion.Client(store.Root())
		client := notion.New(nc, logger)
		logger.Info("Notion adapter ready",
			slog.String("project_tag", client.ProjectTag()),
			slog.Bool("database_configured", nc.DatabaseID != ""))
		remote = client
	}

	orch := syncer.New(store, remote, ledger, logger, syncOpts...)
	return &components{cfg: cfg, logger: logger, ledger: ledger, orch: orch}, nil
}

// SyncOnce runs a single full pass and returns its result.
func SyncOnce(ctx context.Context, opts ...Option) (*syncer.Result, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	rt, err := setup(app)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.orch.FullPass(ctx)
}

// ServeMCP serves the MCP tools on stdio. Logs go to stderr since stdout
// carries the protocol.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	app.logOut = os.Stderr
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := mcpserver.New(rt.ledger, rt.orch, app.version)
	rt.logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// Run starts the daemon: an initial full pass, the file watcher with periodic
// passes, and the HTTP API when enabled.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := setup(app, syncer.WithNotifier(broker.PublishPass))
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	// Run initial pass; failures are retried by the watcher's periodic pass.
	if _, err := rt.orch.FullPass(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher.
	g.Go(func() error {
		return rt.orch.Watch(gCtx, syncer.WatchConfig{
			Debounce: cfg.Sync.Debounce,
			Interval: cfg.Sync.Interval,
		})
	})

	var httpServer *http.Server
	if cfg.App.HTTP.Enabled {
		httpServer = &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: newHTTPHandler(rt, broker),
		}

		// Start HTTP server.
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		defer cancel()
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		if httpServer != nil {
			logger.Info("Shutting down server...")
			shutdownCtx, release := context.WithTimeout(context.Background(), 10*time.Second)
			defer release()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Daemon stopped successfully")
	return nil
}

// newHTTPHandler builds the chi router: health checks plus the API under /api.
func newHTTPHandler(rt *components, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if last := rt.orch.Last(); last == nil || last.Err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(rt.ledger, rt.orch, rt.cfg.Auth.AuthEnabled(), rt.cfg.Auth.Token, broker))
	return r
}
