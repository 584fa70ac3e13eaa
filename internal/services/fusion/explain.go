package fusion

import (
	"fmt"
	"math"
	"sort"

	"Clarity/internal/domain/models"
)

const (
	VerdictMuchHigher = "Much higher than usual"
	VerdictAbove      = "Above baseline today"
	VerdictOnPar      = "On par with usual"
	VerdictBelow      = "Below baseline today"
	VerdictMuchLower  = "Much lower than usual"
)

const noSignalsLine = "No signals available; forecast holds at baseline."

// Compose builds the summary for a fusion result, most significant
// contribution first. Contribution is |delta*weight|; ties keep input order.
// The top signal's explanation is the first line verbatim. At most maxLines
// signal lines are emitted, followed by a guardrail note when the result was
// clamped.
func Compose(res Result, signals []models.Signal, maxLines int) []string {
	if maxLines <= 0 {
		maxLines = DefaultMaxSummaryLines
	}
	if len(signals) == 0 {
		return []string{noSignalsLine}
	}

	order := make([]int, len(signals))
	for i := range order {
		order[i] = i
	}
	contribution := func(i int) float64 {
		w := DefaultWeightFloor
		if i < len(res.Weights) {
			w = res.Weights[i]
		}
		return math.Abs(signals[i].DeltaPerHour * w)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return contribution(order[a]) > contribution(order[b])
	})

	lines := make([]string, 0, min(len(order), maxLines)+1)
	for rank, idx := range order {
		if rank >= maxLines {
			break
		}
		s := signals[idx]
		if rank == 0 {
			if s.Explanation != "" {
				lines = append(lines, s.Explanation)
			} else {
				lines = append(lines, fmt.Sprintf("%s: %+.1f customers/hour", s.Source, s.DeltaPerHour))
			}
			continue
		}
		if s.Explanation == "" {
			lines = append(lines, fmt.Sprintf("[%s] %+.1f customers/hour", s.Source, s.DeltaPerHour))
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", s.Source, s.Explanation))
	}

	if res.Clamped {
		lines = append(lines, fmt.Sprintf(
			"Guardrail: combined estimate %+.2f customers/hour limited to %+.2f (allowed range %.2f to %.2f for baseline %.2f)",
			res.RawDelta, res.ExpectedDelta, res.Lower, res.Upper, res.Baseline,
		))
	}
	return lines
}

// Verdict labels a delta relative to its baseline.
func Verdict(delta, baseline float64) string {
	if baseline <= 0 {
		return VerdictOnPar
	}
	pct := delta * 100 / baseline
	switch {
	case pct >= 50:
		return VerdictMuchHigher
	case pct >= 15:
		return VerdictAbove
	case pct >= -15:
		return VerdictOnPar
	case pct >= -40:
		return VerdictBelow
	default:
		return VerdictMuchLower
	}
}
