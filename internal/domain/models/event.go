package models

import "time"

// Event is a local happening expected to change foot traffic at a location
// while it is active.
type Event struct {
	ID          string    `json:"id"`
	Location    string    `json:"location"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Impact      float64   `json:"impact"`
	Confidence  float64   `json:"confidence"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActiveAt reports whether t falls inside [StartsAt, EndsAt).
func (e Event) ActiveAt(t time.Time) bool {
	return !t.Before(e.StartsAt) && t.Before(e.EndsAt)
}
