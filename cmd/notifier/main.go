// Package main is the entry point for the Impact Weather notification
// watcher. On a fixed interval it checks the tracked locations, derives
// alerts from their forecasts, and emits the notification-worthy ones. The
// daemon requires a configured database; forecasts flow through the same
// rate-limited upstream client as the API.
package main

import (
	"context"
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
	"impactweather/internal/db"
	"impactweather/internal/notify"
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

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required for the notifier")
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("impactweather notifier starting",
		"environment", cfg.Environment,
		"interval", cfg.Notify.Interval.String(),
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	watcher := notify.NewWatcher(
		weatherSvc,
		alerts.NewEngine(clock),
		db.NewLocationRepository(pool),
		logNotifier{logger: logger},
		cfg.Alerts.Thresholds(),
		cfg.Notify.MaxLocations,
		logger,
	)

	// First check runs immediately; later ones on the ticker.
	if err := watcher.RunOnce(ctx); err != nil {
		logger.Error("check cycle failed", "error", err)
	}

	ticker := time.NewTicker(cfg.Notify.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("notifier stopped cleanly")
			return nil
		case <-ticker.C:
			if err := watcher.RunOnce(ctx); err != nil {
				logger.Error("check cycle failed", "error", err)
			}
		}
	}
}

// logNotifier emits notifications as structured log records. Deployments
// with a push channel replace this with a real delivery implementation.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(ctx context.Context, title, message string) error {
	n.logger.InfoContext(ctx, "notification", "title", title, "message", message)
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
