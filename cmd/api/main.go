// Package main is the entry point for the Impact Weather API server.
//
// It initializes the configuration, wires the upstream scheduler, client,
// cache, weather service, and alert engine, builds the HTTP server with the
// core chassis, and starts listening for requests. Favorites routes are
// enabled only when a database URL is configured.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

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

	"impactweather/internal/alerts"
	"impactweather/internal/cache"
	"impactweather/internal/config"
	"impactweather/internal/core"
	"impactweather/internal/db"
	"impactweather/internal/types"
	"impactweather/internal/upstream"
	"impactweather/internal/weather"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("impactweather API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	clock := types.RealClock{}

	tier, err := cache.NewBadgerTier(cfg.Cache.Dir, cfg.Cache.InMemory, logger)
	if err != nil {
		return fmt.Errorf("opening cache store: %w", err)
	}
	defer func() {
		if err := tier.Close(); err != nil {
			logger.Error("closing cache store", "error", err)
		}
	}()
	store := cache.NewStore(tier, clock, logger)

	scheduler := upstream.NewScheduler(cfg.Fetch.MaxConcurrent, cfg.Fetch.MinSpacing, logger)
	defer scheduler.Close()

	client := upstream.NewClient(
		&http.Client{Timeout: cfg.Upstream.Timeout},
		scheduler,
		"weather-upstream",
		upstream.RetryPolicy{
			MaxRetries:  cfg.Fetch.MaxRetries,
			BackoffBase: cfg.Fetch.BackoffBase,
		},
		cfg.Upstream.UserAgent,
	)

	weatherSvc := weather.NewService(client, store, weather.Config{
		ForecastURL: cfg.Upstream.ForecastURL,
		GeocoderURL: cfg.Upstream.GeocoderURL,
		ForecastTTL: cfg.Cache.ForecastTTL,
	}, clock, logger)

	engine := alerts.NewEngine(clock)

	// Favorites are optional: without a database the API still serves
	// forecasts, search, and alert previews.
	var favorites core.FavoritesRepository
	if cfg.Database.URL != "" {
		pool, err := db.NewPool(context.Background(), cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connecting database: %w", err)
		}
		defer pool.Close()
		favorites = db.NewLocationRepository(pool)
	} else {
		logger.Info("no database configured; favorites routes disabled")
	}

	srv, err := core.NewServer(cfg, logger, weatherSvc, engine, favorites)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
