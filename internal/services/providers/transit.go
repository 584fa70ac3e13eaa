package providers

import (
	"context"
	"fmt"

	"Clarity/internal/domain/models"
	domsvc "Clarity/internal/domain/service"
	"Clarity/pkg/config"
)

const TransitName = "mta_subway"

// HTTPTransitProvider turns subway crowding near the location into extra customers.
type HTTPTransitProvider struct{ base *HTTPServiceBase }

func NewHTTPTransitProvider(cfg *config.Config) *HTTPTransitProvider {
	return &HTTPTransitProvider{base: NewHTTPServiceBase(cfg, cfg.Providers.Transit, "/mta/impact")}
}

type transitRequest struct {
	RequestID string `json:"request_id"`
	Location  string `json:"location"`
}

type transitResponse struct {
	agentReply
	ExtraHourly *float64 `json:"expected_extra_customers_hourly"`
	Extra30Min  float64  `json:"expected_extra_customers_30min"`
	Confidence  *float64 `json:"confidence"`
	MainDrivers []string `json:"main_drivers"`
	Notes       *string  `json:"notes"`
}

func (p *HTTPTransitProvider) Name() string { return TransitName }

func (p *HTTPTransitProvider) Fetch(ctx context.Context, q models.ForecastQuery) (models.RawSignal, error) {
	var tr transitResponse
	if err := p.base.PostJSON(ctx, transitRequest{RequestID: requestID(), Location: q.Location}, &tr); err != nil {
		return models.RawSignal{}, fmt.Errorf("transit: %w", err)
	}
	if err := tr.err("transit"); err != nil {
		return models.RawSignal{}, err
	}

	// agents report either an hourly figure or a half-hour one
	delta := tr.Extra30Min * 2
	if tr.ExtraHourly != nil {
		delta = *tr.ExtraHourly
	}
	return models.RawSignal{
		Source:       TransitName,
		DeltaPerHour: delta,
		Confidence:   tr.Confidence,
		Explanation:  joinNonEmpty(tr.MainDrivers, "; "),
	}, nil
}

var _ domsvc.SignalProvider = (*HTTPTransitProvider)(nil)
