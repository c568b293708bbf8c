// Package types defines the shared domain types for the Impact Weather
// data-acquisition core: forecast payloads, alerts, place matches, the
// application error taxonomy, and small cross-cutting interfaces (Clock,
// Notifier). It has no dependencies on other internal packages.
package types

import "time"

// CurrentReading holds the instantaneous measurements reported by the
// forecast upstream. Field names mirror the upstream variable names.
type CurrentReading struct {
	Time        string  `json:"time,omitempty"`
	Temperature float64 `json:"temperature_2m"`
	Humidity    float64 `json:"relative_humidity_2m"`
	WindSpeed   float64 `json:"wind_speed_10m"`
	Pressure    float64 `json:"pressure_msl"`
}

// HourlySeries is a group of parallel hourly arrays sharing one time axis.
// Index i in any value series corresponds to Time[i]. Every non-empty value
// series must have the same length as Time; this is enforced at the Weather
// Client boundary, not here.
type HourlySeries struct {
	Time          []string  `json:"time"`
	Temperature   []float64 `json:"temperature_2m,omitempty"`
	Precipitation []float64 `json:"precipitation,omitempty"`
}

// DailySeries is a group of parallel daily arrays sharing one time axis.
// Index 0 represents "today" in the payload's local timezone by upstream
// convention.
type DailySeries struct {
	Time             []string  `json:"time"`
	TemperatureMax   []float64 `json:"temperature_2m_max,omitempty"`
	TemperatureMin   []float64 `json:"temperature_2m_min,omitempty"`
	PrecipitationSum []float64 `json:"precipitation_sum,omitempty"`
	WindSpeedMax     []float64 `json:"wind_speed_10m_max,omitempty"`
	WeatherCode      []float64 `json:"weather_code,omitempty"`
}

// ForecastPayload is the projected forecast response served to callers and
// stored in the cache. All values are metric; unit conversion is the
// caller's responsibility.
type ForecastPayload struct {
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Timezone  string         `json:"timezone"`
	Current   CurrentReading `json:"current"`
	Hourly    HourlySeries   `json:"hourly"`
	Daily     DailySeries    `json:"daily"`
}

// PlaceMatch is a normalized geocoder result.
type PlaceMatch struct {
	ID      string  `json:"id"`
	Display string  `json:"display"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// TrackedLocation is a user favorite polled by the notification watcher.
type TrackedLocation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	CreatedAt time.Time `json:"created_at"`
}

// seriesTimeLayouts are the accepted timestamp layouts for series time axes.
// The forecast upstream emits zoneless local timestamps ("2006-01-02T15:04");
// cached or test data may carry full RFC 3339 timestamps.
var seriesTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseSeriesTime parses a single timestamp from a series time axis.
// Zoneless layouts are interpreted as UTC.
func ParseSeriesTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range seriesTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
