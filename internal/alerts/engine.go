// Package alerts derives weather alerts from forecast payloads. Evaluation
// is pure: the same payload, thresholds, and evaluation instant always yield
// the same alert list, in fixed rule order. Rules that depend on a series
// absent from the payload are skipped, never errored.
package alerts

import (
	"fmt"
	"math"
	"time"

	"impactweather/internal/types"
)

// heavyRainNowMm is the hourly amount at which a rain_soon alert escalates
// from advisory to warning.
const heavyRainNowMm = 5.0

// thunderCodes are the WMO weather codes indicating thunderstorms.
var thunderCodes = map[int]struct{}{95: {}, 96: {}, 99: {}}

// Engine evaluates alert rules against a forecast payload.
type Engine struct {
	clock types.Clock
}

// NewEngine creates an alert Engine. The clock determines "now" for the
// rain lookahead window.
func NewEngine(clock types.Clock) *Engine {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Engine{clock: clock}
}

// Build evaluates all rules against the payload and returns the alerts in
// rule order: rain_soon, heavy_rain, strong_wind, hot, cold, thunder.
func (e *Engine) Build(payload *types.ForecastPayload, th types.AlertThresholds) []types.Alert {
	alerts := make([]types.Alert, 0, 4)
	if payload == nil {
		return alerts
	}

	if a := rainSoon(payload.Hourly, th, e.clock.Now()); a != nil {
		alerts = append(alerts, *a)
	}
	if a := heavyRain(payload.Daily, th); a != nil {
		alerts = append(alerts, *a)
	}
	if a := strongWind(payload.Daily, th); a != nil {
		alerts = append(alerts, *a)
	}
	if a := veryHot(payload.Daily, th); a != nil {
		alerts = append(alerts, *a)
	}
	if a := veryCold(payload.Daily, th); a != nil {
		alerts = append(alerts, *a)
	}
	if a := thunder(payload.Daily); a != nil {
		alerts = append(alerts, *a)
	}
	return alerts
}

// nearestHourIndex returns the index of the last timestamp at or before now,
// or 0 when now precedes the whole axis. The scan stops at the first
// unparseable timestamp.
func nearestHourIndex(timeAxis []string, now time.Time) int {
	idx := 0
	for i, s := range timeAxis {
		t, err := types.ParseSeriesTime(s)
		if err != nil {
			break
		}
		if t.After(now) {
			break
		}
		idx = i
	}
	return idx
}

// rainSoon scans the next few hours of precipitation and alerts on the first
// hour at or above the threshold.
func rainSoon(hourly types.HourlySeries, th types.AlertThresholds, now time.Time) *types.Alert {
	if len(hourly.Time) == 0 || len(hourly.Precipitation) == 0 {
		return nil
	}

	nowIdx := nearestHourIndex(hourly.Time, now)
	lookahead := th.RainLookaheadHours
	if lookahead < 1 {
		lookahead = 1
	}
	maxIdx := nowIdx + lookahead
	if maxIdx > len(hourly.Time)-1 {
		maxIdx = len(hourly.Time) - 1
	}

	for i := nowIdx; i <= maxIdx; i++ {
		if i >= len(hourly.Precipitation) {
			break
		}
		mm := hourly.Precipitation[i]
		if mm < th.RainSoonMinMm {
			continue
		}

		severity := types.SeverityAdvisory
		if mm >= heavyRainNowMm {
			severity = types.SeverityWarning
		}

		a := &types.Alert{
			ID:       fmt.Sprintf("rainsoon-%d", i),
			Type:     types.AlertRainSoon,
			Severity: severity,
			Title:    "Rain soon",
			Message:  fmt.Sprintf("≈ %.1f mm", mm),
		}
		if t, err := types.ParseSeriesTime(hourly.Time[i]); err == nil {
			a.Message = fmt.Sprintf("≈ %.1f mm around %s", mm, t.Format("15:04"))
			a.StartsAt = t.Format(time.RFC3339)
		}
		return a
	}
	return nil
}

func heavyRain(daily types.DailySeries, th types.AlertThresholds) *types.Alert {
	if len(daily.PrecipitationSum) == 0 {
		return nil
	}
	mm := daily.PrecipitationSum[0]
	if mm < th.HeavyRainDailyMm {
		return nil
	}
	return &types.Alert{
		ID:       "heavy-rain",
		Type:     types.AlertHeavyRain,
		Severity: types.SeverityWatch,
		Title:    "Heavy rain today",
		Message:  fmt.Sprintf("%.1f mm total (forecast)", mm),
	}
}

func strongWind(daily types.DailySeries, th types.AlertThresholds) *types.Alert {
	if len(daily.WindSpeedMax) == 0 {
		return nil
	}
	ms := daily.WindSpeedMax[0]
	if ms < th.StrongWindMs {
		return nil
	}
	return &types.Alert{
		ID:       "strong-wind",
		Type:     types.AlertStrongWind,
		Severity: types.SeverityWatch,
		Title:    "Strong wind",
		Message:  fmt.Sprintf("%.1f m/s (max)", ms),
	}
}

func veryHot(daily types.DailySeries, th types.AlertThresholds) *types.Alert {
	if len(daily.TemperatureMax) == 0 {
		return nil
	}
	t := daily.TemperatureMax[0]
	if t < th.HighTempC {
		return nil
	}
	return &types.Alert{
		ID:       "very-hot",
		Type:     types.AlertHot,
		Severity: types.SeverityAdvisory,
		Title:    "Very hot",
		Message:  fmt.Sprintf("%d°C max", int(math.Round(t))),
	}
}

func veryCold(daily types.DailySeries, th types.AlertThresholds) *types.Alert {
	if len(daily.TemperatureMin) == 0 {
		return nil
	}
	t := daily.TemperatureMin[0]
	if t > th.LowTempC {
		return nil
	}
	return &types.Alert{
		ID:       "very-cold",
		Type:     types.AlertCold,
		Severity: types.SeverityAdvisory,
		Title:    "Very cold",
		Message:  fmt.Sprintf("%d°C min", int(math.Round(t))),
	}
}

func thunder(daily types.DailySeries) *types.Alert {
	if len(daily.WeatherCode) == 0 {
		return nil
	}
	code := int(daily.WeatherCode[0])
	if _, ok := thunderCodes[code]; !ok {
		return nil
	}
	return &types.Alert{
		ID:       "thunder",
		Type:     types.AlertThunder,
		Severity: types.SeverityWarning,
		Title:    "Thunderstorms possible",
		Message:  fmt.Sprintf("Weather code %d", code),
	}
}
