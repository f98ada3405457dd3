// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/garnicia/internal/api"
	"github.com/starford/garnicia/internal/autosave"
	"github.com/starford/garnicia/internal/editor"
	"github.com/starford/garnicia/internal/journal"
	"github.com/starford/garnicia/internal/mcpserver"
	"github.com/starford/garnicia/internal/notefs"
	"github.com/starford/garnicia/internal/noteservice"
	"github.com/starford/garnicia/internal/paths"
	"github.com/starford/garnicia/internal/sse"
)

const shutdownTimeout = 10 * time.Second

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the JSON logger. When LogFile is set every line is also
// appended to it.
func newLogger(cfg ApplicationConfig, w io.Writer) (*slog.Logger, func(), error) {
	closeFn := func() {}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closeFn = func() { _ = f.Close() }
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return logger, closeFn, nil
}

// stores are the folder and journal every command works on.
type stores struct {
	folder    *notefs.Folder
	journal   *journal.Store
	stateFile string
}

// openStores resolves the configuration directory, picks the notes folder
// (config, then the last selection, then ~/notes) and opens the journal.
func openStores(cfg *Config, logger *slog.Logger) (*stores, error) {
	configDir, err := paths.ResolveConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	stateFile := filepath.Join(configDir, paths.FolderFile)

	folderPath := cfg.Notes.Folder
	if folderPath == "" {
		if folderPath, err = paths.LoadFolder(stateFile); err != nil {
			logger.Warn("cannot read last folder", slog.String("error", err.Error()))
		}
	}
	if folderPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		folderPath = filepath.Join(home, "notes")
	}
	if err := os.MkdirAll(folderPath, 0o755); err != nil {
		return nil, fmt.Errorf("create notes folder: %w", err)
	}
	folder, err := notefs.NewFolder(folderPath)
	if err != nil {
		return nil, fmt.Errorf("init notes folder: %w", err)
	}

	journalPath := cfg.Journal.Path
	if journalPath == "" {
		journalPath = filepath.Join(configDir, paths.JournalFile)
	}
	store, err := journal.Open(journalPath, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	logger.Info("Stores opened",
		slog.String("notes_folder", folder.Root()),
		slog.String("journal_path", journalPath),
		slog.String("session", store.Session()))
	return &stores{folder: folder, journal: store, stateFile: stateFile}, nil
}

func newService(cfg *Config, st *stores, events noteservice.Publisher, logger *slog.Logger) *noteservice.Service {
	return noteservice.NewService(st.journal, st.folder, editor.NewMemory(), noteservice.Options{
		Autosave: autosave.Options{
			Debounce:     cfg.Autosave.Debounce,
			FlushTimeout: cfg.Autosave.FlushTimeout,
		},
		Events:    events,
		Logger:    logger,
		StateFile: st.stateFile,
	})
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger, closeLog, err := newLogger(cfg.App, os.Stdout)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.Duration("autosave_debounce", cfg.Autosave.Debounce),
		slog.Duration("flush_timeout", cfg.Autosave.FlushTimeout),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.journal.Close()

	// SSE broker.
	broker := sse.NewBroker(time.Second)
	svc := newService(cfg, st, broker, logger)

	// Recovery runs before the adapter accepts requests, so no note can be
	// opened ahead of it.
	if pending, err := svc.Reconcile(ctx); err != nil {
		logger.Warn("startup recovery failed", slog.String("error", err.Error()))
	} else if len(pending) > 0 {
		logger.Info("unsaved work from a previous session", slog.Int("notes", len(pending)))
	}

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	api.Health(r, func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return st.journal.Ping(pingCtx) == nil
	})

	// Mount API routes (and the SSE stream) under /api.
	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// A signal cancels ctx, and with it every goroutine of the group.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the notes folder, restarting whenever the editor switches folders.
	g.Go(func() error {
		for {
			changed := svc.FolderChanged()
			folder := svc.Folder()

			wctx, cancel := context.WithCancel(gCtx)
			done := make(chan error, 1)
			go func() { done <- notefs.Watch(wctx, folder, logger, svc.HandleFileEvent) }()

			select {
			case <-changed:
				cancel()
				<-done
			case <-gCtx.Done():
				cancel()
				<-done
				return nil
			case err := <-done:
				cancel()
				if err != nil {
					logger.Error("watcher failed", slog.String("folder", folder.Root()), slog.String("error", err.Error()))
				}
				select {
				case <-changed:
				case <-gCtx.Done():
					return nil
				}
			}
		}
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Shut down on a signal, on cancellation of the caller's ctx, or when
	// another goroutine fails.
	g.Go(func() error {
		<-gCtx.Done()
		if ctx.Err() != nil {
			logger.Info("Shutdown requested")
		} else {
			logger.Info("Component failed, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Closing the broker ends open SSE streams so the server can drain.
		broker.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Error("final snapshots incomplete", slog.String("error", err.Error()))
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

// Recover runs startup recovery without the editor: stale journal entries
// are removed and the remaining candidates are written as JSON.
func Recover(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(app.config.App, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := openStores(app.config, logger)
	if err != nil {
		return err
	}
	defer st.journal.Close()

	svc := newService(app.config, st, nil, logger)
	pending, err := svc.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(pending)
}

// ServeMCP serves the MCP tools over stdio. Logs go to stderr because stdout
// carries the protocol.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(app.config.App, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	st, err := openStores(app.config, logger)
	if err != nil {
		return err
	}
	defer st.journal.Close()

	logger.Info("MCP server starting", slog.String("version", app.version))
	return mcpserver.New(st.folder, st.journal, app.version).ServeStdio()
}
