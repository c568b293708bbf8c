package types

// AlertType identifies the rule that produced an alert.
type AlertType string

const (
	AlertRainSoon   AlertType = "rain_soon"
	AlertHeavyRain  AlertType = "heavy_rain"
	AlertStrongWind AlertType = "strong_wind"
	AlertHot        AlertType = "hot"
	AlertCold       AlertType = "cold"
	AlertThunder    AlertType = "thunder"
)

// AlertSeverity orders alerts by urgency. The alert list itself is ordered by
// rule evaluation order, not severity.
type AlertSeverity string

const (
	SeverityAdvisory AlertSeverity = "advisory"
	SeverityWatch    AlertSeverity = "watch"
	SeverityWarning  AlertSeverity = "warning"
)

// Alert is a derived weather warning. Alerts are created fresh on every
// evaluation and never mutated; IDs are deterministic per rule (and per hour
// index for rain_soon) so identical inputs yield identical lists.
type Alert struct {
	ID       string        `json:"id"`
	Type     AlertType     `json:"type"`
	Severity AlertSeverity `json:"severity"`
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	StartsAt string        `json:"startsAt,omitempty"`
}

// AlertThresholds configures the alert rules. The evaluation is pure with
// respect to it: same payload and thresholds always produce the same alerts.
type AlertThresholds struct {
	RainLookaheadHours int     `json:"rainLookaheadHours" validate:"min=0"`
	RainSoonMinMm      float64 `json:"rainSoonMinMm"`
	HeavyRainDailyMm   float64 `json:"heavyRainDailyMm"`
	StrongWindMs       float64 `json:"strongWindMs"`
	HighTempC          float64 `json:"highTempC"`
	LowTempC           float64 `json:"lowTempC"`
}

// DefaultAlertThresholds returns the stock thresholds used when a caller
// supplies none.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		RainLookaheadHours: 3,
		RainSoonMinMm:      0.2,
		HeavyRainDailyMm:   20,
		StrongWindMs:       15,
		HighTempC:          35,
		LowTempC:           5,
	}
}
