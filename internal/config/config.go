// Package config defines the global configuration structure for the Impact
// Weather services. Configuration is loaded once at process initialization
// and is immutable thereafter, following 12-Factor principles: values come
// from the OS environment, optionally seeded by a .env file for local
// development. Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"impactweather/internal/types"
)

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"impactweather"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Upstream UpstreamConfig
	Fetch    FetchConfig
	Cache    CacheConfig
	Alerts   AlertConfig
	Database DatabaseConfig
	Notify   NotifyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string   `envconfig:"PORT" default:"8080"`
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// UpstreamConfig holds the upstream API endpoints and client identity.
type UpstreamConfig struct {
	ForecastURL string        `envconfig:"FORECAST_URL" default:"https://api.open-meteo.com/v1/forecast" validate:"required,url"`
	GeocoderURL string        `envconfig:"GEOCODER_URL" default:"https://nominatim.openstreetmap.org/search" validate:"required,url"`
	UserAgent   string        `envconfig:"UPSTREAM_USER_AGENT" default:"impact-weather-map/1.0"`
	Timeout     time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s"`
}

// FetchConfig tunes the outbound request scheduler and retry policy.
// The scheduler enforces the concurrency ceiling and start spacing globally,
// across all callers in the process.
type FetchConfig struct {
	MaxConcurrent int           `envconfig:"FETCH_MAX_CONCURRENT" default:"4" validate:"min=1"`
	MinSpacing    time.Duration `envconfig:"FETCH_MIN_SPACING" default:"200ms"`
	MaxRetries    int           `envconfig:"FETCH_MAX_RETRIES" default:"3" validate:"min=0"`
	BackoffBase   time.Duration `envconfig:"FETCH_BACKOFF_BASE" default:"500ms"`
}

// CacheConfig holds cache TTL and durable tier settings. InMemory keeps the
// durable tier off disk; it exists for tests and ephemeral deployments.
type CacheConfig struct {
	ForecastTTL time.Duration `envconfig:"FORECAST_TTL" default:"5m"`
	Dir         string        `envconfig:"CACHE_DIR" default:"./data/cache"`
	InMemory    bool          `envconfig:"CACHE_IN_MEMORY" default:"false"`
}

// AlertConfig holds the default alert thresholds used when a caller supplies
// none (the API and the notification watcher).
type AlertConfig struct {
	RainLookaheadHours int     `envconfig:"ALERT_RAIN_LOOKAHEAD_HOURS" default:"3" validate:"min=0"`
	RainSoonMinMm      float64 `envconfig:"ALERT_RAIN_SOON_MIN_MM" default:"0.2"`
	HeavyRainDailyMm   float64 `envconfig:"ALERT_HEAVY_RAIN_DAILY_MM" default:"20"`
	StrongWindMs       float64 `envconfig:"ALERT_STRONG_WIND_MS" default:"15"`
	HighTempC          float64 `envconfig:"ALERT_HIGH_TEMP_C" default:"35"`
	LowTempC           float64 `envconfig:"ALERT_LOW_TEMP_C" default:"5"`
}

// Thresholds converts the configured defaults into the domain type.
func (a AlertConfig) Thresholds() types.AlertThresholds {
	return types.AlertThresholds{
		RainLookaheadHours: a.RainLookaheadHours,
		RainSoonMinMm:      a.RainSoonMinMm,
		HeavyRainDailyMm:   a.HeavyRainDailyMm,
		StrongWindMs:       a.StrongWindMs,
		HighTempC:          a.HighTempC,
		LowTempC:           a.LowTempC,
	}
}

// DatabaseConfig holds the favorites database connection settings. The URL is
// optional: when empty, favorites endpoints and the notifier are disabled.
type DatabaseConfig struct {
	URL      string `envconfig:"DATABASE_URL"`
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"4" validate:"min=1"`
}

// NotifyConfig tunes the notification watcher daemon.
type NotifyConfig struct {
	Interval     time.Duration `envconfig:"NOTIFY_INTERVAL" default:"10m"`
	MaxLocations int           `envconfig:"NOTIFY_MAX_LOCATIONS" default:"5" validate:"min=1"`
}
