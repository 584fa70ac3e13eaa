package service

import (
	"context"
	"errors"

	"Clarity/internal/domain/models"
)

// ErrNoSignal means the provider has nothing to contribute for the query.
// It is not a failure.
var ErrNoSignal = errors.New("no signal")

// SignalProvider produces one signal for a forecast query.
type SignalProvider interface {
	Name() string
	Fetch(ctx context.Context, q models.ForecastQuery) (models.RawSignal, error)
}
