package fusion

import (
	"math"
	"strconv"
	"strings"

	"Clarity/internal/domain/models"
)

// DefaultConfidence is assigned to signals that arrive without one.
const DefaultConfidence = 0.5

// Normalized is the outcome of Normalize.
// Rejected lists entries that were dropped, in input order.
type Normalized struct {
	Signals  []models.Signal
	Rejected []*InvalidSignalError
}

// RejectedReasons renders the rejected entries as strings for responses and logs.
func (n Normalized) RejectedReasons() []string {
	if len(n.Rejected) == 0 {
		return nil
	}
	out := make([]string, 0, len(n.Rejected))
	for _, r := range n.Rejected {
		out = append(out, r.Error())
	}
	return out
}

// Normalize validates raw signals before fusion.
//
// A duplicated source fails the whole request. Entries with an empty source or
// a non-finite delta are dropped and reported in Rejected. Confidence is
// defaulted when absent and clamped into [0,1].
func Normalize(raw []models.RawSignal) (Normalized, error) {
	seen := make(map[string]int, len(raw))
	for i, r := range raw {
		src := strings.TrimSpace(r.Source)
		if src == "" {
			continue
		}
		if first, ok := seen[src]; ok {
			return Normalized{}, &InvalidSignalError{
				Index:  i,
				Source: src,
				Reason: "duplicate source (first seen at index " + strconv.Itoa(first) + ")",
			}
		}
		seen[src] = i
	}

	out := Normalized{Signals: make([]models.Signal, 0, len(raw))}
	for i, r := range raw {
		src := strings.TrimSpace(r.Source)
		switch {
		case src == "":
			out.Rejected = append(out.Rejected, &InvalidSignalError{Index: i, Reason: "empty source"})
			continue
		case math.IsNaN(r.DeltaPerHour) || math.IsInf(r.DeltaPerHour, 0):
			out.Rejected = append(out.Rejected, &InvalidSignalError{Index: i, Source: src, Reason: "delta_per_hour is not finite"})
			continue
		}

		conf := DefaultConfidence
		if r.Confidence != nil {
			conf = clampConfidence(*r.Confidence)
		}
		out.Signals = append(out.Signals, models.Signal{
			Source:       src,
			DeltaPerHour: r.DeltaPerHour,
			Confidence:   conf,
			Explanation:  strings.TrimSpace(r.Explanation),
		})
	}
	return out, nil
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return clamp(c, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
