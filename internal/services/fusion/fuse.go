package fusion

import (
	"math"

	"Clarity/internal/domain/models"
)

const (
	DefaultWeightFloor     = 0.05
	DefaultGuardrailLower  = 0.5
	DefaultGuardrailUpper  = 1.5
	DefaultMaxSummaryLines = 5
)

// Engine fuses normalized signals into a single bounded forecast.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	weightFloor    float64
	guardrailLower float64
	guardrailUpper float64
	maxLines       int
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeightFloor sets the minimum effective weight of a signal.
func WithWeightFloor(floor float64) Option {
	return func(e *Engine) {
		if floor > 0 && !math.IsInf(floor, 0) {
			e.weightFloor = floor
		}
	}
}

// WithGuardrails sets the clamp multipliers: delta is kept within
// [-lower*baseline, upper*baseline].
func WithGuardrails(lower, upper float64) Option {
	return func(e *Engine) {
		if lower >= 0 && upper >= 0 {
			e.guardrailLower = lower
			e.guardrailUpper = upper
		}
	}
}

// WithMaxSummaryLines caps the number of signal lines in a summary.
func WithMaxSummaryLines(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxLines = n
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		weightFloor:    DefaultWeightFloor,
		guardrailLower: DefaultGuardrailLower,
		guardrailUpper: DefaultGuardrailUpper,
		maxLines:       DefaultMaxSummaryLines,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the numeric outcome of a fusion.
// Weights[i] is the effective weight of the i-th input signal.
type Result struct {
	Baseline      float64
	RawDelta      float64
	ExpectedDelta float64
	ExpectedTotal float64
	Confidence    float64
	Lower         float64
	Upper         float64
	Clamped       bool
	Weights       []float64
}

// Fuse computes the confidence-weighted delta of signals and clamps it to the
// guardrails derived from baseline.
func (e *Engine) Fuse(baseline float64, signals []models.Signal) (Result, error) {
	if baseline < 0 || math.IsNaN(baseline) || math.IsInf(baseline, 0) {
		return Result{}, &InvalidBaselineError{Baseline: baseline}
	}

	res := Result{
		Baseline: baseline,
		Lower:    -e.guardrailLower * baseline,
		Upper:    e.guardrailUpper * baseline,
		Weights:  make([]float64, len(signals)),
	}

	if len(signals) > 0 {
		var sumW, sumDW, sumCW float64
		for i, s := range signals {
			w := math.Max(e.weightFloor, s.Confidence)
			res.Weights[i] = w
			sumW += w
			sumDW += s.DeltaPerHour * w
			sumCW += s.Confidence * w
		}
		res.RawDelta = sumDW / sumW
		res.Confidence = clamp(sumCW/sumW, 0, 1)
	}

	res.ExpectedDelta = clamp(res.RawDelta, res.Lower, res.Upper)
	res.Clamped = res.ExpectedDelta != res.RawDelta
	res.ExpectedTotal = math.Max(0, baseline+res.ExpectedDelta)
	return res, nil
}

// Forecast fuses signals and attaches the summary and verdict.
func (e *Engine) Forecast(baseline float64, signals []models.Signal) (models.FusedForecast, Result, error) {
	res, err := e.Fuse(baseline, signals)
	if err != nil {
		return models.FusedForecast{}, Result{}, err
	}
	return models.FusedForecast{
		ExpectedDelta: res.ExpectedDelta,
		ExpectedTotal: res.ExpectedTotal,
		Confidence:    res.Confidence,
		Summary:       Compose(res, signals, e.maxLines),
		Verdict:       Verdict(res.ExpectedDelta, baseline),
	}, res, nil
}
