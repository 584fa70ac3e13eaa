package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/creasty/defaults"
	"github.com/google/uuid"

	"Clarity/internal/domain/models"
	domrepo "Clarity/internal/domain/repository"
	pkgkafka "Clarity/pkg/kafka"
	applogger "Clarity/pkg/logger"
	"Clarity/pkg/queue"
	"Clarity/pkg/util"
)

// EventsUseCase registers and lists event surges per location.
type EventsUseCase struct {
	store   domrepo.EventStore
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time
}

func NewEventsUseCase(store domrepo.EventStore, metrics domrepo.Metrics, log *applogger.Logger) *EventsUseCase {
	if log == nil {
		log = applogger.NewNop()
	}
	return &EventsUseCase{store: store, metrics: metrics, log: log, now: time.Now}
}

// DefaultEventConfidence applies to events registered without a confidence.
const DefaultEventConfidence = 0.5

func (uc *EventsUseCase) Register(ctx context.Context, req models.EventRequest) (models.Event, error) {
	location := util.NormalizeLocation(req.Location)
	switch {
	case location == "":
		return models.Event{}, &InvalidRequestError{Field: "location", Err: errors.New("must not be empty")}
	case req.Name == "":
		return models.Event{}, &InvalidRequestError{Field: "name", Err: errors.New("must not be empty")}
	case !req.EndsAt.After(req.StartsAt):
		return models.Event{}, &InvalidRequestError{Field: "ends_at", Err: errors.New("must be after starts_at")}
	case req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1 || math.IsNaN(*req.Confidence)):
		return models.Event{}, &InvalidRequestError{Field: "confidence", Err: errors.New("must be within [0,1]")}
	}
	confidence := DefaultEventConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	ev := models.Event{
		ID:          uuid.NewString(),
		Location:    location,
		Name:        req.Name,
		Description: req.Description,
		Impact:      req.Impact,
		Confidence:  confidence,
		StartsAt:    req.StartsAt.UTC(),
		EndsAt:      req.EndsAt.UTC(),
		CreatedAt:   uc.now().UTC(),
	}
	if err := uc.store.Add(ctx, ev); err != nil {
		uc.metrics.RecordError("events_add")
		return models.Event{}, err
	}
	uc.log.Info("event registered",
		applogger.String("location", ev.Location),
		applogger.String("name", ev.Name),
		applogger.Float64("impact", ev.Impact))
	return ev, nil
}

// List returns the retained events of a location.
func (uc *EventsUseCase) List(ctx context.Context, req models.EventsListRequest) ([]models.Event, error) {
	location := util.NormalizeLocation(req.Location)
	if location == "" {
		return nil, &InvalidRequestError{Field: "location", Err: errors.New("must not be empty")}
	}
	events, err := uc.store.List(ctx, location)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

// EventsHandler ingests event surges published to Kafka. Invalid payloads
// fail permanently so the consumer dead-letters them without retrying.
type EventsHandler struct {
	topic string
	uc    *EventsUseCase
}

var _ pkgkafka.MessageHandler = (*EventsHandler)(nil)

func NewEventsHandler(topic string, uc *EventsUseCase) *EventsHandler {
	return &EventsHandler{topic: topic, uc: uc}
}

func (h *EventsHandler) Topic() string { return h.topic }

func (h *EventsHandler) Handle(ctx context.Context, b []byte) error {
	err := h.uc.ingest(ctx, b)
	var invalid *InvalidRequestError
	if errors.As(err, &invalid) || errors.As(err, new(*decodeError)) {
		return backoff.Permanent(err)
	}
	return err
}

// EventsJob ingests event surges from the Redis work queue.
type EventsJob struct {
	uc *EventsUseCase
}

var _ queue.Job = (*EventsJob)(nil)

// EventsJobType is the queue message type for event registrations.
const EventsJobType = "event.register"

func NewEventsJob(uc *EventsUseCase) *EventsJob {
	return &EventsJob{uc: uc}
}

func (j *EventsJob) Name() string { return "events-ingest" }
func (j *EventsJob) Type() string { return EventsJobType }

func (j *EventsJob) Handle(ctx context.Context, payload json.RawMessage) error {
	err := j.uc.ingest(ctx, payload)
	var invalid *InvalidRequestError
	if errors.As(err, &invalid) || errors.As(err, new(*decodeError)) {
		return queue.Permanent(err)
	}
	return err
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode event: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// ingest decodes one event payload and registers it.
func (uc *EventsUseCase) ingest(ctx context.Context, b []byte) error {
	var req models.EventRequest
	if err := defaults.Set(&req); err != nil {
		return &decodeError{err: err}
	}
	if err := json.Unmarshal(b, &req); err != nil {
		uc.metrics.RecordError("events_unmarshal")
		return &decodeError{err: err}
	}
	start := time.Now()
	_, err := uc.Register(ctx, req)
	uc.metrics.RecordLatency("events_ingest", time.Since(start).Seconds())
	return err
}
