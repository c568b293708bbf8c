// Package notify implements the background watcher that periodically checks
// tracked locations and forwards actionable alerts to a Notifier. Only a
// small set of alert types is considered notification-worthy; the rest stay
// in the API responses.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"impactweather/internal/types"
)

// WeatherService is the forecast read capability the watcher needs.
type WeatherService interface {
	GetWeather(ctx context.Context, lat, lon float64) (*types.ForecastPayload, error)
}

// AlertBuilder derives alerts from a forecast payload.
type AlertBuilder interface {
	Build(payload *types.ForecastPayload, th types.AlertThresholds) []types.Alert
}

// LocationSource lists the tracked locations to check.
type LocationSource interface {
	List(ctx context.Context, limit int) ([]types.TrackedLocation, error)
}

// notifiableTypes are the alert types worth interrupting the user for.
var notifiableTypes = map[types.AlertType]struct{}{
	types.AlertRainSoon: {},
	types.AlertHot:      {},
	types.AlertCold:     {},
}

// Watcher checks tracked locations and notifies on qualifying alerts.
type Watcher struct {
	weather    WeatherService
	alerts     AlertBuilder
	locations  LocationSource
	notifier   types.Notifier
	thresholds types.AlertThresholds

	maxLocations int
	logger       *slog.Logger
}

// NewWatcher creates a Watcher. maxLocations bounds how many tracked
// locations are checked per run; locations beyond the limit are ignored.
func NewWatcher(
	weather WeatherService,
	alertBuilder AlertBuilder,
	locations LocationSource,
	notifier types.Notifier,
	thresholds types.AlertThresholds,
	maxLocations int,
	logger *slog.Logger,
) *Watcher {
	if maxLocations < 1 {
		maxLocations = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		weather:      weather,
		alerts:       alertBuilder,
		locations:    locations,
		notifier:     notifier,
		thresholds:   thresholds,
		maxLocations: maxLocations,
		logger:       logger,
	}
}

// RunOnce performs a single check cycle. Per-location failures are logged
// and skipped so one broken location cannot starve the others; only listing
// failures surface as errors.
func (w *Watcher) RunOnce(ctx context.Context) error {
	locations, err := w.locations.List(ctx, w.maxLocations)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "listing tracked locations", err)
	}
	if len(locations) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(locations))

	for _, loc := range locations {
		loc := loc
		g.Go(func() error {
			w.checkLocation(gctx, loc)
			return nil
		})
	}
	return g.Wait()
}

func (w *Watcher) checkLocation(ctx context.Context, loc types.TrackedLocation) {
	payload, err := w.weather.GetWeather(ctx, loc.Lat, loc.Lon)
	if err != nil {
		w.logger.WarnContext(ctx, "skipping location after forecast failure",
			"location", loc.Name, "error", err)
		return
	}

	for _, alert := range w.alerts.Build(payload, w.thresholds) {
		if _, ok := notifiableTypes[alert.Type]; !ok {
			continue
		}
		title := fmt.Sprintf("%s in %s", alert.Title, loc.Name)
		if err := w.notifier.Notify(ctx, title, alert.Message); err != nil {
			w.logger.WarnContext(ctx, "notification delivery failed",
				"location", loc.Name, "alert", alert.ID, "error", err)
		}
	}
}
