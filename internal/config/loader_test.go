package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, 200*time.Millisecond, cfg.Fetch.MinSpacing)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.BackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ForecastTTL)
	assert.Equal(t, "https://api.open-meteo.com/v1/forecast", cfg.Upstream.ForecastURL)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("FETCH_MAX_CONCURRENT", "2")
	t.Setenv("FETCH_MIN_SPACING", "50ms")
	t.Setenv("FORECAST_TTL", "1m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Fetch.MaxConcurrent)
	assert.Equal(t, 50*time.Millisecond, cfg.Fetch.MinSpacing)
	assert.Equal(t, time.Minute, cfg.Cache.ForecastTTL)
}

func TestLoadConfigInvalidEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production-ish")

	_, err := LoadConfig()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrValidation, cfgErr.Type)
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	t.Setenv("FETCH_MIN_SPACING", "not-a-duration")

	_, err := LoadConfig()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrParsing, cfgErr.Type)
}

func TestAlertConfigThresholds(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	th := cfg.Alerts.Thresholds()
	assert.Equal(t, 3, th.RainLookaheadHours)
	assert.Equal(t, 0.2, th.RainSoonMinMm)
	assert.Equal(t, 35.0, th.HighTempC)
}
