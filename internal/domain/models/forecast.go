package models

import "time"

// FusedForecast is the output of the fusion engine.
type FusedForecast struct {
	ExpectedDelta float64  `json:"expected_delta"`
	ExpectedTotal float64  `json:"expected_total"`
	Confidence    float64  `json:"confidence"`
	Summary       []string `json:"summary"`
	Verdict       string   `json:"verdict"`
}

// ForecastQuery identifies one forecast: a location at a given hour of a date.
type ForecastQuery struct {
	Location string  `json:"location"`
	Date     string  `json:"date"`
	Hour     int     `json:"hour"`
	Baseline float64 `json:"baseline"`
}

// ForecastRecord is a computed forecast plus the inputs it was derived from.
// It is what the cache stores and what sinks persist or publish.
type ForecastRecord struct {
	ID         string            `json:"id"`
	Query      ForecastQuery     `json:"query"`
	Forecast   FusedForecast     `json:"forecast"`
	Signals    []Signal          `json:"signals"`
	Rejected   []string          `json:"rejected,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	RawDelta   float64           `json:"raw_delta"`
	Clamped    bool              `json:"clamped"`
	ComputedAt time.Time         `json:"computed_at"`
}
