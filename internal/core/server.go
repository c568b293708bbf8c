// Package core provides the API chassis for the Impact Weather services: a
// chi router with the cross-cutting middleware (request IDs, panic recovery,
// request logging, security headers, CORS) applied before requests reach the
// domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"impactweather/internal/config"
	"impactweather/internal/types"
)

// WeatherProvider is the forecast and geocoding capability the handlers use.
// Satisfied by *weather.Service.
type WeatherProvider interface {
	GetWeather(ctx context.Context, lat, lon float64) (*types.ForecastPayload, error)
	SearchPlace(ctx context.Context, query, countryHint string) ([]types.PlaceMatch, error)
}

// AlertBuilder derives alerts from a forecast payload. Satisfied by
// *alerts.Engine.
type AlertBuilder interface {
	Build(payload *types.ForecastPayload, th types.AlertThresholds) []types.Alert
}

// FavoritesRepository is the tracked-locations store. Satisfied by
// *db.LocationRepository. A nil repository disables the favorites routes.
type FavoritesRepository interface {
	List(ctx context.Context, limit int) ([]types.TrackedLocation, error)
	Add(ctx context.Context, name string, lat, lon float64) (*types.TrackedLocation, error)
	Delete(ctx context.Context, id string) error
}

// Server encapsulates all dependencies for the API, allowing for easy
// injection during testing.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Weather   WeatherProvider
	Alerts    AlertBuilder
	Favorites FavoritesRepository
	Validator *Validator

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. The caller mounts routes (via MountRoutes) after construction;
// this separation lets tests customize registration.
func NewServer(
	cfg *config.Config,
	logger *slog.Logger,
	weather WeatherProvider,
	alertBuilder AlertBuilder,
	favorites FavoritesRepository,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if weather == nil {
		return nil, fmt.Errorf("weather provider must not be nil")
	}
	if alertBuilder == nil {
		return nil, fmt.Errorf("alert builder must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Weather:   weather,
		Alerts:    alertBuilder,
		Favorites: favorites,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}
