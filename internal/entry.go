// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/livedesk/internal/api"
	"github.com/starford/livedesk/internal/console"
	"github.com/starford/livedesk/internal/mcpserver"
	"github.com/starford/livedesk/internal/remote"
	"github.com/starford/livedesk/internal/settings"
	"github.com/starford/livedesk/internal/sse"
	"github.com/starford/livedesk/internal/storage"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. Stdout belongs to the MCP transport
	// in MCP mode.
	var logOut io.Writer = os.Stdout
	if app.mcp {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("remote_url", cfg.Remote.BaseURL),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize settings storage.
	kv, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer kv.Close()

	store := settings.New(kv, logger)
	if err := store.Load(); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// SSE broker.
	broker := sse.NewBroker(cfg.App.EventThrottle)
	defer broker.Close()

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	sess := console.New(store, client,
		console.WithLogger(logger),
		console.WithPublisher(broker),
	)

	g, gCtx := errgroup.WithContext(ctx)

	// Polling loops.
	g.Go(func() error {
		return sess.Run(gCtx)
	})

	// Pick up settings edited outside the process.
	if cfg.Storage.Driver == storage.DriverFile {
		g.Go(func() error {
			return storage.Watch(gCtx, cfg.Storage.Path, logger, func() {
				if err := store.Load(); err != nil {
					logger.Warn("settings reload failed", slog.String("error", err.Error()))
				}
			})
		})
	}

	if app.mcp {
		g.Go(func() error {
			logger.Info("Serving MCP on stdio")
			// ServeStdio installs its own signal handling and returns when
			// stdin closes.
			err := mcpserver.New(sess, app.version).ServeStdio()
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return errStopped
		})
	} else {
		startHTTP(gCtx, g, cfg, logger, sess, broker)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStopped) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errStopped ends the errgroup when a foreground server exits on its own.
var errStopped = errors.New("stopped")

func startHTTP(ctx context.Context, g *errgroup.Group, cfg *Config, logger *slog.Logger, sess *console.Session, broker *sse.Broker) {
	apiRouter := api.NewRouter(sess, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if st := sess.BeaconStatus(); st.Active && st.Error {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"notes server not responding"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}
	// Event streams never finish on their own.
	httpServer.RegisterOnShutdown(broker.Close)

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

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
		case <-ctx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errStopped
	})
}
