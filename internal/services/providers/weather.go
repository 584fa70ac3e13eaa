package providers

import (
	"context"
	"fmt"

	"Clarity/internal/domain/models"
	domsvc "Clarity/internal/domain/service"
	"Clarity/pkg/config"
)

const WeatherName = "weather_event"

// HTTPWeatherProvider asks the weather agent how conditions at the slot move foot traffic.
type HTTPWeatherProvider struct{ base *HTTPServiceBase }

func NewHTTPWeatherProvider(cfg *config.Config) *HTTPWeatherProvider {
	return &HTTPWeatherProvider{base: NewHTTPServiceBase(cfg, cfg.Providers.Weather, "/weather/predict")}
}

type weatherRequest struct {
	RequestID string `json:"request_id"`
	Location  string `json:"location"`
	Date      string `json:"date"`
	Time      int    `json:"time"`
}

type weatherResponse struct {
	agentReply
	PredictedTraffic float64  `json:"predicted_traffic"`
	Confidence       *float64 `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	WeatherCondition string   `json:"weather_condition"`
}

func (p *HTTPWeatherProvider) Name() string { return WeatherName }

func (p *HTTPWeatherProvider) Fetch(ctx context.Context, q models.ForecastQuery) (models.RawSignal, error) {
	var wr weatherResponse
	req := weatherRequest{RequestID: requestID(), Location: q.Location, Date: q.Date, Time: q.Hour}
	if err := p.base.PostJSON(ctx, req, &wr); err != nil {
		return models.RawSignal{}, fmt.Errorf("weather: %w", err)
	}
	if err := wr.err("weather"); err != nil {
		return models.RawSignal{}, err
	}
	return models.RawSignal{
		Source:       WeatherName,
		DeltaPerHour: wr.PredictedTraffic,
		Confidence:   wr.Confidence,
		Explanation:  wr.Reasoning,
	}, nil
}

var _ domsvc.SignalProvider = (*HTTPWeatherProvider)(nil)
