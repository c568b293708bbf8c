// Package weather implements the forecast acquisition service: validated,
// cached forecast reads with stale-while-revalidate semantics, and place
// search against the geocoding upstream. All outbound calls go through the
// shared upstream client, which enforces the global rate limits.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"impactweather/internal/cache"
	"impactweather/internal/types"
)

// maxSearchResults caps geocoder results regardless of what the upstream
// returns.
const maxSearchResults = 10

// countryHintRe matches a trailing two-letter country hint such as
// "Berlin, DE".
var countryHintRe = regexp.MustCompile(`,\s*([A-Za-z]{2})\s*$`)

// Fetcher is the outbound HTTP capability the service depends on. Satisfied
// by *upstream.Client.
type Fetcher interface {
	GetJSON(ctx context.Context, url string, header http.Header, out any) error
}

// Config carries the upstream endpoints and cache TTL the service needs.
type Config struct {
	ForecastURL string
	GeocoderURL string
	ForecastTTL time.Duration
}

// Service provides forecast reads and place search.
type Service struct {
	fetcher Fetcher
	cache   *cache.Store
	cfg     Config
	clock   types.Clock
	logger  *slog.Logger

	mu           sync.Mutex
	revalidating map[string]struct{}
}

// NewService creates a weather Service.
func NewService(fetcher Fetcher, store *cache.Store, cfg Config, clock types.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetcher:      fetcher,
		cache:        store,
		cfg:          cfg,
		clock:        clock,
		logger:       logger,
		revalidating: make(map[string]struct{}),
	}
}

// GetWeather returns the forecast for the given coordinates. A fresh cache
// entry is returned immediately while a background refresh runs; a miss
// fetches synchronously through the rate-limited client.
func (s *Service) GetWeather(ctx context.Context, lat, lon float64) (*types.ForecastPayload, error) {
	if lat < -90 || lat > 90 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidLat,
			fmt.Sprintf("latitude %v out of range [-90, 90]", lat), nil)
	}
	if lon < -180 || lon > 180 {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidLon,
			fmt.Sprintf("longitude %v out of range [-180, 180]", lon), nil)
	}

	key := cache.ForecastKey(lat, lon, s.clock.Now())

	if raw, ok := s.cache.Get(ctx, key); ok {
		var payload types.ForecastPayload
		if err := json.Unmarshal(raw, &payload); err == nil {
			// Serve the cached value and refresh behind the caller's back.
			// WithoutCancel: the refresh must outlive the request.
			go s.revalidate(context.WithoutCancel(ctx), key, lat, lon)
			return &payload, nil
		}
		s.logger.WarnContext(ctx, "discarding undecodable cache entry", "key", key)
	}

	payload, err := s.fetchForecast(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	s.storePayload(ctx, key, payload)
	return payload, nil
}

// revalidate refreshes one cache entry in the background. At most one
// refresh per key runs at a time; failures are logged and the stale entry
// keeps serving until its TTL lapses.
func (s *Service) revalidate(ctx context.Context, key string, lat, lon float64) {
	s.mu.Lock()
	if _, busy := s.revalidating[key]; busy {
		s.mu.Unlock()
		return
	}
	s.revalidating[key] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.revalidating, key)
		s.mu.Unlock()
	}()

	payload, err := s.fetchForecast(ctx, lat, lon)
	if err != nil {
		s.logger.WarnContext(ctx, "background forecast refresh failed",
			"key", key, "error", err)
		return
	}
	s.storePayload(ctx, key, payload)
}

func (s *Service) storePayload(ctx context.Context, key string, payload *types.ForecastPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "encoding forecast for cache", "key", key, "error", err)
		return
	}
	s.cache.Set(ctx, key, raw, s.cfg.ForecastTTL)
}

// fetchForecast calls the forecast upstream and validates the payload shape.
func (s *Service) fetchForecast(ctx context.Context, lat, lon float64) (*types.ForecastPayload, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("hourly", "temperature_2m,precipitation")
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,wind_speed_10m_max,weather_code")
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,pressure_msl")
	q.Set("timezone", "auto")

	var payload types.ForecastPayload
	if err := s.fetcher.GetJSON(ctx, s.cfg.ForecastURL+"?"+q.Encode(), nil, &payload); err != nil {
		return nil, err
	}
	if err := validatePayload(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// validatePayload enforces the parallel-array contract: every non-empty
// value series must be exactly as long as its time axis.
func validatePayload(p *types.ForecastPayload) error {
	check := func(group, name string, n, timeLen int) error {
		if n != 0 && n != timeLen {
			return types.NewAppError(types.ErrCodeValidationMalformedPayload,
				fmt.Sprintf("%s series %q has %d values for %d timestamps", group, name, n, timeLen),
				nil)
		}
		return nil
	}

	ht := len(p.Hourly.Time)
	if err := check("hourly", "temperature_2m", len(p.Hourly.Temperature), ht); err != nil {
		return err
	}
	if err := check("hourly", "precipitation", len(p.Hourly.Precipitation), ht); err != nil {
		return err
	}

	dt := len(p.Daily.Time)
	if err := check("daily", "temperature_2m_max", len(p.Daily.TemperatureMax), dt); err != nil {
		return err
	}
	if err := check("daily", "temperature_2m_min", len(p.Daily.TemperatureMin), dt); err != nil {
		return err
	}
	if err := check("daily", "precipitation_sum", len(p.Daily.PrecipitationSum), dt); err != nil {
		return err
	}
	if err := check("daily", "wind_speed_10m_max", len(p.Daily.WindSpeedMax), dt); err != nil {
		return err
	}
	if err := check("daily", "weather_code", len(p.Daily.WeatherCode), dt); err != nil {
		return err
	}
	return nil
}

// nominatimPlace is the subset of the geocoder response the service reads.
// The upstream emits coordinates as JSON strings.
type nominatimPlace struct {
	PlaceID     int64  `json:"place_id"`
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// SearchPlace resolves a free-text query to candidate places. An explicit
// countryHint restricts results to that country; otherwise a trailing
// ", XX" suffix in the query is used as the hint, matching how people type
// "Berlin, DE".
func (s *Service) SearchPlace(ctx context.Context, query, countryHint string) ([]types.PlaceMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.NewAppError(types.ErrCodeValidationEmptyQuery, "search query is empty", nil)
	}

	if countryHint == "" {
		if m := countryHintRe.FindStringSubmatch(query); m != nil {
			countryHint = m[1]
		}
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("addressdetails", "0")
	q.Set("limit", strconv.Itoa(maxSearchResults))
	if countryHint != "" {
		q.Set("countrycodes", strings.ToLower(countryHint))
	}

	header := http.Header{}
	header.Set("Accept-Language", "en")

	var places []nominatimPlace
	if err := s.fetcher.GetJSON(ctx, s.cfg.GeocoderURL+"?"+q.Encode(), header, &places); err != nil {
		return nil, err
	}

	matches := make([]types.PlaceMatch, 0, len(places))
	for _, p := range places {
		lat, latErr := strconv.ParseFloat(p.Lat, 64)
		lon, lonErr := strconv.ParseFloat(p.Lon, 64)
		if latErr != nil || lonErr != nil {
			s.logger.WarnContext(ctx, "skipping geocoder result with bad coordinates",
				"place_id", p.PlaceID, "lat", p.Lat, "lon", p.Lon)
			continue
		}
		matches = append(matches, types.PlaceMatch{
			ID:      strconv.FormatInt(p.PlaceID, 10),
			Display: p.DisplayName,
			Lat:     lat,
			Lon:     lon,
		})
		if len(matches) == maxSearchResults {
			break
		}
	}
	return matches, nil
}
