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

	"github.com/starford/othala/internal/api"
	"github.com/starford/othala/internal/backlinks"
	"github.com/starford/othala/internal/graph"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/mcpserver"
	"github.com/starford/othala/internal/noteservice"
	"github.com/starford/othala/internal/notefile"
	"github.com/starford/othala/internal/sse"
	"github.com/starford/othala/internal/vault"
	"github.com/starford/othala/internal/wikilink"
)

// warmGraph loads every note from the vault into a fresh in-memory link
// index. Machine-written backlink sections are excluded so they never
// read back as outgoing edges.
func warmGraph(store vault.Store) (*graph.Index, error) {
	metas, err := store.List("")
	if err != nil {
		return nil, fmt.Errorf("warm graph: %w", err)
	}
	notes := make([]graph.Note, 0, len(metas))
	for _, meta := range metas {
		data, err := store.Read(meta.Path)
		if err != nil {
			return nil, fmt.Errorf("warm graph: read %s: %w", meta.Path, err)
		}
		f, _ := notefile.Parse(data)
		notes = append(notes, graph.Note{
			ID:   wikilink.Normalize(meta.Path),
			Body: backlinks.StripSection(f.Body),
		})
	}
	g := graph.New()
	g.Build(notes)
	return g, nil
}

// core holds the fully wired service stack shared by the HTTP server
// and the MCP server.
type core struct {
	store    vault.Store
	db       *index.DB
	graph    *graph.Index
	queue    *backlinks.Queue
	migrator *backlinks.Migrator
	svc      *noteservice.Service
}

func buildCore(cfg *Config, logger *slog.Logger) (*core, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := vault.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	g, err := warmGraph(store)
	if err != nil {
		db.Close()
		return nil, err
	}

	writer := backlinks.NewWriter(store, cfg.Queue.LockTimeout(), logger)
	queue := backlinks.NewQueue(writer, cfg.Queue.QueueOptions(), logger)
	migrator := backlinks.NewMigrator(store, g, writer, cfg.Vault.IndexNote, logger)
	svc := noteservice.NewService(store, db, g, queue)

	return &core{
		store:    store,
		db:       db,
		graph:    g,
		queue:    queue,
		migrator: migrator,
		svc:      svc,
	}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts...)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Every applied backlink rewrite becomes a backlinks.updated event.
	c.queue.OnApplied(broker.PublishBacklinkUpdate)

	apiRouter := api.NewRouter(c.svc, c.migrator, cfg.Auth.AuthEnabled(), cfg.Auth.Token, http.HandlerFunc(broker.ServeHTTP))

	// Build chi router.
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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Backlink propagation workers.
	g.Go(func() error {
		return c.queue.Run(gCtx)
	})

	// File watcher feeds both the SQLite index and the live link graph,
	// so edits made directly on disk propagate like API writes.
	g.Go(func() error {
		err := index.Watch(gCtx, c.svc, c.store, cfg.Vault.Path, logger, func(kind, path string) {
			broker.PublishNoteEvent(kind, wikilink.Normalize(path))
		})
		if err != nil {
			logger.Warn("file watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdio with the given options. Logs go
// to stderr because the stdio transport owns stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts...)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	c, err := buildCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	// There is no file watcher in MCP mode, so applied backlink rewrites
	// are re-indexed directly.
	c.queue.OnApplied(func(target string) {
		path := vault.NotePath(target)
		data, err := c.store.Read(path)
		if err != nil {
			return
		}
		if err := c.svc.IndexFile(path, data); err != nil {
			logger.Warn("reindex after backlink rewrite failed",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	})

	queueCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = c.queue.Run(queueCtx)
	}()

	logger.Info("MCP server starting on stdio", slog.String("vault_path", cfg.Vault.Path))

	srv := mcpserver.New(c.svc, c.store, c.migrator)
	return srv.ServeStdio()
}

// maintenanceMigrator wires the minimal stack needed for the batch
// vault commands. No SQLite index, watcher, or queue is involved; the
// migrator rebuilds the link graph itself from a full scan.
func maintenanceMigrator(cfg *Config, logger *slog.Logger) (*backlinks.Migrator, error) {
	store, err := vault.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init vault: %w", err)
	}
	writer := backlinks.NewWriter(store, cfg.Queue.LockTimeout(), logger)
	return backlinks.NewMigrator(store, graph.New(), writer, cfg.Vault.IndexNote, logger), nil
}

func maintenanceLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// RunMigrate rewrites backlink sections across the whole vault. With
// dryRun it only reports what would change.
func RunMigrate(ctx context.Context, dryRun bool, opts ...Option) (*backlinks.Result, error) {
	app, err := newApplication(opts...)
	if err != nil {
		return nil, err
	}
	m, err := maintenanceMigrator(app.config, maintenanceLogger(app.config))
	if err != nil {
		return nil, err
	}
	if dryRun {
		return m.DryRun(ctx)
	}
	return m.Migrate(ctx)
}

// RunValidate checks every note's persisted backlink state against a
// fresh rebuild.
func RunValidate(ctx context.Context, opts ...Option) (*backlinks.ValidationResult, error) {
	app, err := newApplication(opts...)
	if err != nil {
		return nil, err
	}
	m, err := maintenanceMigrator(app.config, maintenanceLogger(app.config))
	if err != nil {
		return nil, err
	}
	return m.Validate(ctx)
}

// RunRepair validates and then rewrites every drifted note.
func RunRepair(ctx context.Context, opts ...Option) (*backlinks.RepairResult, error) {
	app, err := newApplication(opts...)
	if err != nil {
		return nil, err
	}
	m, err := maintenanceMigrator(app.config, maintenanceLogger(app.config))
	if err != nil {
		return nil, err
	}
	return m.Repair(ctx)
}
