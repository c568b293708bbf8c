package core

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"impactweather/internal/types"
)

// MountRoutes applies the middleware chain and registers all API routes.
func (s *Server) MountRoutes() {
	r := s.router

	r.Use(s.Recoverer)
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(NewCORSMiddleware(s.Config.Server.CorsAllowedOrigins))
	r.Use(RequestLogger(s.Logger))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/weather", s.handleGetWeather)
		r.Get("/search", s.handleSearch)
		r.Post("/alerts/preview", s.handleAlertsPreview)

		if s.Favorites != nil {
			r.Route("/favorites", func(r chi.Router) {
				r.Get("/", s.handleListFavorites)
				r.Post("/", s.handleAddFavorite)
				r.Delete("/{id}", s.handleDeleteFavorite)
			})
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{
		"status":  "ok",
		"service": s.Config.Service,
	}})
}

// weatherResponse pairs the forecast with the alerts derived from it, so one
// request serves the whole dashboard.
type weatherResponse struct {
	Forecast *types.ForecastPayload `json:"forecast"`
	Alerts   []types.Alert          `json:"alerts"`
}

func (s *Server) handleGetWeather(w http.ResponseWriter, r *http.Request) {
	lat, err := parseCoord(r.URL.Query().Get("lat"), types.ErrCodeValidationInvalidLat)
	if err != nil {
		Error(w, r, err)
		return
	}
	lon, err := parseCoord(r.URL.Query().Get("lon"), types.ErrCodeValidationInvalidLon)
	if err != nil {
		Error(w, r, err)
		return
	}

	payload, err := s.Weather.GetWeather(r.Context(), lat, lon)
	if err != nil {
		Error(w, r, err)
		return
	}

	resp := weatherResponse{
		Forecast: payload,
		Alerts:   s.Alerts.Build(payload, s.Config.Alerts.Thresholds()),
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: resp})
}

func parseCoord(raw string, code types.ErrorCode) (float64, error) {
	if raw == "" {
		return 0, types.NewAppError(code, "coordinate parameter is required", nil)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, types.NewAppError(code, "coordinate must be a number", err)
	}
	return v, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	matches, err := s.Weather.SearchPlace(r.Context(), q.Get("q"), q.Get("country"))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: matches})
}

// alertsPreviewRequest lets clients evaluate alert rules against an
// arbitrary payload with custom thresholds, without touching the upstream.
type alertsPreviewRequest struct {
	Payload    *types.ForecastPayload `json:"payload" validate:"required"`
	Thresholds *types.AlertThresholds `json:"thresholds"`
}

func (s *Server) handleAlertsPreview(w http.ResponseWriter, r *http.Request) {
	var req alertsPreviewRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.Validator.ValidateStruct(req); err != nil {
		Error(w, r, err)
		return
	}

	th := s.Config.Alerts.Thresholds()
	if req.Thresholds != nil {
		th = *req.Thresholds
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: s.Alerts.Build(req.Payload, th)})
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	locations, err := s.Favorites.List(r.Context(), s.Config.Notify.MaxLocations)
	if err != nil {
		Error(w, r, err)
		return
	}
	if locations == nil {
		locations = []types.TrackedLocation{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: locations})
}

type addFavoriteRequest struct {
	Name string  `json:"name" validate:"required"`
	Lat  float64 `json:"lat" validate:"min=-90,max=90"`
	Lon  float64 `json:"lon" validate:"min=-180,max=180"`
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	var req addFavoriteRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.Validator.ValidateStruct(req); err != nil {
		Error(w, r, err)
		return
	}

	loc, err := s.Favorites.Add(r.Context(), req.Name, req.Lat, req.Lon)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusCreated, APIResponse{Data: loc})
}

func (s *Server) handleDeleteFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Favorites.Delete(r.Context(), id); err != nil {
		Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
