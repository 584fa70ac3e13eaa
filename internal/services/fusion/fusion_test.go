package fusion

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Clarity/internal/domain/models"
)

func sig(source string, delta, conf float64, explanation string) models.Signal {
	return models.Signal{Source: source, DeltaPerHour: delta, Confidence: conf, Explanation: explanation}
}

func TestFuseWeightedAverageWithinGuardrails(t *testing.T) {
	e := NewEngine()
	signals := []models.Signal{
		sig("weather", 3.2, 0.75, "Weather: mild conditions favor walk-ins"),
		sig("traffic", -1.5, 0.6, "Road congestion keeps drivers away"),
		sig("transit", 2.0, 0.7, "Subway ridership elevated"),
	}

	res, err := e.Fuse(42, signals)
	require.NoError(t, err)

	want := (3.2*0.75 + -1.5*0.6 + 2.0*0.7) / (0.75 + 0.6 + 0.7)
	assert.InDelta(t, want, res.RawDelta, 1e-12)
	assert.InDelta(t, 1.4146, res.RawDelta, 1e-4)
	assert.InDelta(t, want, res.ExpectedDelta, 1e-12)
	assert.InDelta(t, 42+want, res.ExpectedTotal, 1e-12)
	assert.False(t, res.Clamped)
	assert.Equal(t, -21.0, res.Lower)
	assert.Equal(t, 63.0, res.Upper)

	wantConf := (0.75*0.75 + 0.6*0.6 + 0.7*0.7) / (0.75 + 0.6 + 0.7)
	assert.InDelta(t, wantConf, res.Confidence, 1e-12)
	assert.Equal(t, []float64{0.75, 0.6, 0.7}, res.Weights)
}

func TestFuseSingleOutlierIsClampedToUpperBound(t *testing.T) {
	e := NewEngine()
	f, res, err := e.Forecast(42, []models.Signal{sig("weather", 500, 0.9, "Parade downtown")})
	require.NoError(t, err)

	assert.Equal(t, 500.0, res.RawDelta)
	assert.True(t, res.Clamped)
	assert.Equal(t, 63.0, f.ExpectedDelta)
	assert.Equal(t, 105.0, f.ExpectedTotal)
	assert.Equal(t, VerdictMuchHigher, f.Verdict)
	require.Len(t, f.Summary, 2)
	assert.Equal(t, "Parade downtown", f.Summary[0])
	assert.Contains(t, f.Summary[1], "+500.00")
	assert.Contains(t, f.Summary[1], "+63.00")
}

func TestFuseZeroBaselineCollapsesBounds(t *testing.T) {
	e := NewEngine()
	for _, delta := range []float64{-1000, -3, 0, 7.5, 1e9} {
		res, err := e.Fuse(0, []models.Signal{sig("weather", delta, 1, ""), sig("transit", delta/2, 0.3, "")})
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.ExpectedDelta, "delta %v", delta)
		assert.Equal(t, 0.0, res.ExpectedTotal, "delta %v", delta)
	}
	assert.Equal(t, VerdictOnPar, Verdict(0, 0))
}

func TestFuseEmptySignals(t *testing.T) {
	e := NewEngine()
	f, res, err := e.Forecast(42, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.RawDelta)
	assert.Equal(t, 0.0, f.ExpectedDelta)
	assert.Equal(t, 42.0, f.ExpectedTotal)
	assert.Equal(t, 0.0, f.Confidence)
	assert.Equal(t, []string{noSignalsLine}, f.Summary)
}

func TestFuseRejectsBadBaseline(t *testing.T) {
	e := NewEngine()
	for _, b := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := e.Fuse(b, nil)
		var be *InvalidBaselineError
		require.True(t, errors.As(err, &be), "baseline %v", b)
	}
}

func TestFuseGuardrailInvariantHolds(t *testing.T) {
	e := NewEngine()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		baseline := rng.Float64() * 500
		if i%50 == 0 {
			baseline = 0
		}
		n := rng.Intn(6)
		signals := make([]models.Signal, n)
		for j := range signals {
			signals[j] = sig(string(rune('a'+j)), (rng.Float64()-0.5)*1e4, rng.Float64(), "")
		}
		res, err := e.Fuse(baseline, signals)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.ExpectedDelta, -0.5*baseline)
		assert.LessOrEqual(t, res.ExpectedDelta, 1.5*baseline)
		assert.GreaterOrEqual(t, res.ExpectedTotal, 0.0)
		assert.GreaterOrEqual(t, res.Confidence, 0.0)
		assert.LessOrEqual(t, res.Confidence, 1.0)
	}
}

func TestFuseIsDeterministic(t *testing.T) {
	e := NewEngine()
	signals := []models.Signal{
		sig("weather", 3.2, 0.75, "a"),
		sig("traffic", -1.5, 0.6, "b"),
		sig("transit", 2.0, 0.01, "c"),
	}
	f1, r1, err := e.Forecast(42, signals)
	require.NoError(t, err)
	f2, r2, err := e.Forecast(42, signals)
	require.NoError(t, err)

	assert.Equal(t, math.Float64bits(r1.ExpectedDelta), math.Float64bits(r2.ExpectedDelta))
	assert.Equal(t, math.Float64bits(r1.Confidence), math.Float64bits(r2.Confidence))
	assert.Equal(t, f1, f2)
}

func TestWeightFloorApplies(t *testing.T) {
	signals := []models.Signal{sig("weather", 10, 0, ""), sig("transit", 0, 1, "")}

	res, err := NewEngine().Fuse(100, signals)
	require.NoError(t, err)
	assert.InDelta(t, 10*0.05/1.05, res.RawDelta, 1e-12)

	res, err = NewEngine(WithWeightFloor(0.5)).Fuse(100, signals)
	require.NoError(t, err)
	assert.InDelta(t, 10*0.5/1.5, res.RawDelta, 1e-12)
}

func TestWithGuardrails(t *testing.T) {
	e := NewEngine(WithGuardrails(0.1, 0.2))
	res, err := e.Fuse(100, []models.Signal{sig("a", -50, 1, "")})
	require.NoError(t, err)
	assert.Equal(t, -10.0, res.ExpectedDelta)

	res, err = e.Fuse(100, []models.Signal{sig("a", 50, 1, "")})
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.ExpectedDelta)
}
