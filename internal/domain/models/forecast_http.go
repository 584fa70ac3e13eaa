package models

import "time"

// Requests and responses for the forecast HTTP endpoints.

type ForecastRequest struct {
	Location string   `query:"location" json:"location" default:"default" validate:"required,max=128"`
	Date     string   `query:"date" json:"date"`
	Hour     *int     `query:"hour" json:"hour" validate:"omitempty,gte=0,lte=23"`
	Baseline *float64 `query:"baseline" json:"baseline"`
}

type FuseRequest struct {
	Baseline float64     `json:"baseline"`
	Signals  []RawSignal `json:"signals" validate:"max=64"`
}

type HistoryRequest struct {
	Location string `query:"location" json:"location" validate:"required,max=128"`
	Limit    int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type EventRequest struct {
	Location    string    `json:"location" validate:"required,max=128"`
	Name        string    `json:"name" validate:"required,max=256"`
	Description string    `json:"description" validate:"max=1024"`
	Impact      float64   `json:"impact"`
	Confidence  *float64  `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"` // absent means 0.5
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

type EventsListRequest struct {
	Location string `query:"location" json:"location" validate:"required,max=128"`
}

// ForecastResponse is the public JSON shape of a forecast.
type ForecastResponse struct {
	Location      string            `json:"location,omitempty"`
	Date          string            `json:"date,omitempty"`
	Hour          *int              `json:"hour,omitempty"`
	Baseline      float64           `json:"baseline"`
	ExpectedDelta float64           `json:"expected_delta"`
	ExpectedTotal float64           `json:"expected_total"`
	Confidence    float64           `json:"confidence"`
	Summary       []string          `json:"summary"`
	Verdict       string            `json:"verdict"`
	Signals       []Signal          `json:"signals"`
	Rejected      []string          `json:"rejected,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
	Cached        bool              `json:"cached"`
	Degraded      bool              `json:"degraded"`
	ComputedAt    *time.Time        `json:"computed_at,omitempty"`
}
