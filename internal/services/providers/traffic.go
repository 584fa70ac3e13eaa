package providers

import (
	"context"
	"fmt"

	"Clarity/internal/domain/models"
	domsvc "Clarity/internal/domain/service"
	"Clarity/pkg/config"
)

const TrafficName = "google_traffic"

// HTTPTrafficProvider estimates the effect of road congestion around the location.
type HTTPTrafficProvider struct{ base *HTTPServiceBase }

func NewHTTPTrafficProvider(cfg *config.Config) *HTTPTrafficProvider {
	return &HTTPTrafficProvider{base: NewHTTPServiceBase(cfg, cfg.Providers.Traffic, "/traffic/impact")}
}

type trafficRequest struct {
	RequestID string  `json:"request_id"`
	Location  string  `json:"location"`
	Baseline  float64 `json:"baseline_customers_per_hour"`
}

type trafficResponse struct {
	agentReply
	ExtraPerHour      float64  `json:"expected_extra_customers_per_hour"`
	Confidence        *float64 `json:"confidence"`
	RationaleBullets  []string `json:"rationale_bullets"`
	Cautions          []string `json:"cautions"`
	DominantDirection string   `json:"dominant_direction"`
}

func (p *HTTPTrafficProvider) Name() string { return TrafficName }

func (p *HTTPTrafficProvider) Fetch(ctx context.Context, q models.ForecastQuery) (models.RawSignal, error) {
	var tr trafficResponse
	req := trafficRequest{RequestID: requestID(), Location: q.Location, Baseline: q.Baseline}
	if err := p.base.PostJSON(ctx, req, &tr); err != nil {
		return models.RawSignal{}, fmt.Errorf("traffic: %w", err)
	}
	if err := tr.err("traffic"); err != nil {
		return models.RawSignal{}, err
	}

	explanation := joinNonEmpty(tr.RationaleBullets, "; ")
	if cautions := joinNonEmpty(tr.Cautions, "; "); cautions != "" {
		explanation = joinNonEmpty([]string{explanation, "caution: " + cautions}, " | ")
	}
	return models.RawSignal{
		Source:       TrafficName,
		DeltaPerHour: tr.ExtraPerHour,
		Confidence:   tr.Confidence,
		Explanation:  explanation,
	}, nil
}

var _ domsvc.SignalProvider = (*HTTPTrafficProvider)(nil)
