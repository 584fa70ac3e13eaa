package providers

import (
	"context"
	"fmt"
	"time"

	"Clarity/internal/domain/models"
	"Clarity/internal/domain/repository"
	domsvc "Clarity/internal/domain/service"
	"Clarity/pkg/util"
)

const EventSurgeName = "event_surge"

// EventSurgeProvider folds the events active at the forecast slot into one signal.
type EventSurgeProvider struct {
	store repository.EventStore
	loc   *time.Location
}

func NewEventSurgeProvider(store repository.EventStore, loc *time.Location) *EventSurgeProvider {
	if loc == nil {
		loc = time.UTC
	}
	return &EventSurgeProvider{store: store, loc: loc}
}

func (p *EventSurgeProvider) Name() string { return EventSurgeName }

func (p *EventSurgeProvider) Fetch(ctx context.Context, q models.ForecastQuery) (models.RawSignal, error) {
	at, err := util.SlotStart(q.Date, q.Hour, p.loc)
	if err != nil {
		return models.RawSignal{}, fmt.Errorf("event surge: slot: %w", err)
	}
	events, err := p.store.Active(ctx, q.Location, at)
	if err != nil {
		return models.RawSignal{}, fmt.Errorf("event surge: %w", err)
	}
	if len(events) == 0 {
		return models.RawSignal{}, domsvc.ErrNoSignal
	}

	var impact, conf float64
	notes := make([]string, 0, len(events))
	for _, ev := range events {
		impact += ev.Impact
		if ev.Confidence > conf {
			conf = ev.Confidence
		}
		note := ev.Name
		if ev.Description != "" {
			note += ": " + ev.Description
		}
		notes = append(notes, note)
	}
	return models.RawSignal{
		Source:       EventSurgeName,
		DeltaPerHour: impact,
		Confidence:   models.Confidence(conf),
		Explanation:  joinNonEmpty(notes, "; "),
	}, nil
}

var _ domsvc.SignalProvider = (*EventSurgeProvider)(nil)
