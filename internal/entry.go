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

	"github.com/starford/ctxstore/internal/api"
	"github.com/starford/ctxstore/internal/chunkstore"
	"github.com/starford/ctxstore/internal/mcpserver"
	"github.com/starford/ctxstore/internal/metrics"
	"github.com/starford/ctxstore/internal/sse"
)

func (a *application) setup(defaultOut *os.File) (*Config, *slog.Logger, error) {
	if a.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	logger := a.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(defaultOut, &slog.HandlerOptions{
			Level: a.config.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)
	return a.config, logger, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	cfg, logger, err := app.setup(os.Stdout)
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("start_dir", cfg.Store.StartDir),
		slog.String("extractor", cfg.Extractor.Provider),
		slog.Bool("watch", cfg.Store.Watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker fed by every chunk that enters the index.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	c, err := Open(ctx, cfg, logger, chunkstore.WithObserver(broker.PublishChunk))
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("store close error", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Context store ready",
		slog.String("root", c.Tree.Root()),
		slog.Int("chunks", c.Store.Stats().TotalChunks))

	apiRouter := api.NewRouter(c.Service, c.Store, c.Tree, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		if !c.Tree.ValidateTree().IsValid {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"tree invalid"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if pc, ok := c.Metrics.(*metrics.PrometheusCollector); ok {
		r.Handle("/metrics", pc.Handler())
	}

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Store.Watch {
		g.Go(func() error {
			if err := c.Store.Watch(gCtx); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

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

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the HTTP server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio. Logs go to stderr so stdout carries only the
// protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	cfg, logger, err := app.setup(os.Stderr)
	if err != nil {
		return err
	}

	c, err := Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("store close error", slog.String("error", err.Error()))
		}
	}()

	if cfg.Store.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := c.Store.Watch(watchCtx); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("MCP server starting", slog.String("root", c.Tree.Root()))
	return mcpserver.New(c.Service, c.Store, c.Tree, app.version).ServeStdio()
}
