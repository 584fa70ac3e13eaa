package models

// RawSignal is a provider estimate before normalization.
// Confidence is nil when the producer did not report one.
type RawSignal struct {
	Source       string   `json:"source"`
	DeltaPerHour float64  `json:"delta_per_hour"`
	Confidence   *float64 `json:"confidence,omitempty"`
	Explanation  string   `json:"explanation"`
}

// Signal is a validated estimate of extra customers per hour relative to baseline.
type Signal struct {
	Source       string  `json:"source"`
	DeltaPerHour float64 `json:"delta_per_hour"`
	Confidence   float64 `json:"confidence"`
	Explanation  string  `json:"explanation"`
}

// Confidence returns a pointer to v, handy for building RawSignal literals.
func Confidence(v float64) *float64 { return &v }
