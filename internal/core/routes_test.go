package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impactweather/internal/config"
	"impactweather/internal/types"
)

type stubWeather struct {
	payload   *types.ForecastPayload
	weatherFn func(lat, lon float64) (*types.ForecastPayload, error)
	matches   []types.PlaceMatch
	searchErr error
}

func (s *stubWeather) GetWeather(_ context.Context, lat, lon float64) (*types.ForecastPayload, error) {
	if s.weatherFn != nil {
		return s.weatherFn(lat, lon)
	}
	return s.payload, nil
}

func (s *stubWeather) SearchPlace(_ context.Context, query, _ string) ([]types.PlaceMatch, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if strings.TrimSpace(query) == "" {
		return nil, types.NewAppError(types.ErrCodeValidationEmptyQuery, "search query is empty", nil)
	}
	return s.matches, nil
}

type stubAlerts struct {
	alerts []types.Alert
	gotTh  types.AlertThresholds
}

func (s *stubAlerts) Build(_ *types.ForecastPayload, th types.AlertThresholds) []types.Alert {
	s.gotTh = th
	return s.alerts
}

type stubFavorites struct {
	locations []types.TrackedLocation
	added     *types.TrackedLocation
	deleteErr error
}

func (s *stubFavorites) List(_ context.Context, _ int) ([]types.TrackedLocation, error) {
	return s.locations, nil
}

func (s *stubFavorites) Add(_ context.Context, name string, lat, lon float64) (*types.TrackedLocation, error) {
	s.added = &types.TrackedLocation{ID: "new", Name: name, Lat: lat, Lon: lon}
	return s.added, nil
}

func (s *stubFavorites) Delete(_ context.Context, id string) error {
	return s.deleteErr
}

func testConfig() *config.Config {
	return &config.Config{
		Service: "impactweather",
		Server: config.ServerConfig{
			Port:               "8080",
			CorsAllowedOrigins: []string{"*"},
		},
		Alerts: config.AlertConfig{
			RainLookaheadHours: 3,
			RainSoonMinMm:      0.2,
			HeavyRainDailyMm:   20,
			StrongWindMs:       15,
			HighTempC:          35,
			LowTempC:           5,
		},
		Notify: config.NotifyConfig{MaxLocations: 5},
	}
}

func newTestServer(t *testing.T, weather *stubWeather, alerts *stubAlerts, favorites FavoritesRepository) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := NewServer(testConfig(), logger, weather, alerts, favorites)
	require.NoError(t, err)
	srv.MountRoutes()
	return srv
}

func doRequest(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubWeather{}, &stubAlerts{}, nil)

	rec := doRequest(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetWeatherReturnsForecastAndAlerts(t *testing.T) {
	payload := &types.ForecastPayload{Latitude: 52.52, Longitude: 13.41, Timezone: "Europe/Berlin"}
	weather := &stubWeather{payload: payload}
	alerts := &stubAlerts{alerts: []types.Alert{
		{ID: "heavy-rain", Type: types.AlertHeavyRain, Severity: types.SeverityWatch, Title: "Heavy rain today", Message: "24.0 mm total (forecast)"},
	}}
	srv := newTestServer(t, weather, alerts, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/weather?lat=52.52&lon=13.41", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data weatherResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Europe/Berlin", resp.Data.Forecast.Timezone)
	require.Len(t, resp.Data.Alerts, 1)
	assert.Equal(t, "heavy-rain", resp.Data.Alerts[0].ID)
	assert.Equal(t, 20.0, alerts.gotTh.HeavyRainDailyMm)
}

func TestGetWeatherMissingCoordinates(t *testing.T) {
	srv := newTestServer(t, &stubWeather{}, &stubAlerts{}, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/weather?lon=13.41", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeValidationInvalidLat))

	rec = doRequest(srv, http.MethodGet, "/v1/weather?lat=52.52&lon=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeValidationInvalidLon))
}

func TestGetWeatherUpstreamErrorMapsToBadGateway(t *testing.T) {
	weather := &stubWeather{weatherFn: func(lat, lon float64) (*types.ForecastPayload, error) {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream returned 503 after retries", nil)
	}}
	srv := newTestServer(t, weather, &stubAlerts{}, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/weather?lat=1&lon=2", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeUpstreamUnavailable))
}

func TestSearchEndpoint(t *testing.T) {
	weather := &stubWeather{matches: []types.PlaceMatch{
		{ID: "101", Display: "Berlin, Deutschland", Lat: 52.517, Lon: 13.389},
	}}
	srv := newTestServer(t, weather, &stubAlerts{}, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/search?q=Berlin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Berlin, Deutschland")

	rec = doRequest(srv, http.MethodGet, "/v1/search?q=", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertsPreview(t *testing.T) {
	alerts := &stubAlerts{alerts: []types.Alert{{ID: "thunder", Type: types.AlertThunder}}}
	srv := newTestServer(t, &stubWeather{}, alerts, nil)

	body := `{"payload": {"latitude": 1, "longitude": 2, "timezone": "UTC", "current": {"temperature_2m": 0, "relative_humidity_2m": 0, "wind_speed_10m": 0, "pressure_msl": 0}, "hourly": {"time": []}, "daily": {"time": []}}, "thresholds": {"rainLookaheadHours": 6, "rainSoonMinMm": 0.5, "heavyRainDailyMm": 10, "strongWindMs": 12, "highTempC": 30, "lowTempC": 0}}`
	rec := doRequest(srv, http.MethodPost, "/v1/alerts/preview", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"thunder"`)
	assert.Equal(t, 6, alerts.gotTh.RainLookaheadHours)
	assert.Equal(t, 10.0, alerts.gotTh.HeavyRainDailyMm)
}

func TestAlertsPreviewRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubWeather{}, &stubAlerts{}, nil)

	rec := doRequest(srv, http.MethodPost, "/v1/alerts/preview", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeValidationMalformedPayload))

	rec = doRequest(srv, http.MethodPost, "/v1/alerts/preview", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFavoritesRoutesDisabledWithoutRepository(t *testing.T) {
	srv := newTestServer(t, &stubWeather{}, &stubAlerts{}, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/favorites/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFavoritesCRUD(t *testing.T) {
	favorites := &stubFavorites{locations: []types.TrackedLocation{
		{ID: "1", Name: "Berlin", Lat: 52.52, Lon: 13.41},
	}}
	srv := newTestServer(t, &stubWeather{}, &stubAlerts{}, favorites)

	rec := doRequest(srv, http.MethodGet, "/v1/favorites/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Berlin")

	rec = doRequest(srv, http.MethodPost, "/v1/favorites/", `{"name": "Oslo", "lat": 59.91, "lon": 10.75}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, favorites.added)
	assert.Equal(t, "Oslo", favorites.added.Name)

	rec = doRequest(srv, http.MethodDelete, "/v1/favorites/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAddFavoriteValidation(t *testing.T) {
	srv := newTestServer(t, &stubWeather{}, &stubAlerts{}, &stubFavorites{})

	rec := doRequest(srv, http.MethodPost, "/v1/favorites/", `{"lat": 200, "lon": 10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeValidationMissingField))
}

func TestFavoriteNotFound(t *testing.T) {
	favorites := &stubFavorites{
		deleteErr: types.NewAppError(types.ErrCodeNotFoundLocation, "tracked location not found", nil),
	}
	srv := newTestServer(t, &stubWeather{}, &stubAlerts{}, favorites)

	rec := doRequest(srv, http.MethodDelete, "/v1/favorites/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecovererTurnsPanicsInto500(t *testing.T) {
	weather := &stubWeather{weatherFn: func(lat, lon float64) (*types.ForecastPayload, error) {
		panic("boom")
	}}
	srv := newTestServer(t, weather, &stubAlerts{}, nil)

	rec := doRequest(srv, http.MethodGet, "/v1/weather?lat=1&lon=2", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeInternalUnexpected))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &stubWeather{}, &stubAlerts{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/weather", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
