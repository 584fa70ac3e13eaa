package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"Clarity/internal/domain/models"
	"Clarity/internal/domain/repository"
	"Clarity/pkg/cache"
	applogger "Clarity/pkg/logger"
)

var ErrEventStoreBusy = errors.New("event store: location is locked by another writer")

const (
	defaultMaxEvents      = 100
	defaultEventRetention = 7 * 24 * time.Hour
	eventLockTTL          = 5 * time.Second
)

// CacheEventStore keeps the events of each location as one list in the
// shared cache. Writers serialize on a per-location lock.
type CacheEventStore struct {
	cache     cache.Service
	maxEvents int
	retention time.Duration
	now       func() time.Time
	l         *applogger.Logger
}

var _ repository.EventStore = (*CacheEventStore)(nil)

type EventStoreOption func(*CacheEventStore)

// WithEventLimits caps events kept per location and how long an ended
// event is kept.
func WithEventLimits(maxPerLocation int, retention time.Duration) EventStoreOption {
	return func(s *CacheEventStore) {
		if maxPerLocation > 0 {
			s.maxEvents = maxPerLocation
		}
		if retention > 0 {
			s.retention = retention
		}
	}
}

func WithEventClock(now func() time.Time) EventStoreOption {
	return func(s *CacheEventStore) {
		s.now = now
	}
}

func WithEventLogger(l *applogger.Logger) EventStoreOption {
	return func(s *CacheEventStore) {
		s.l = l
	}
}

func NewCacheEventStore(c cache.Service, opts ...EventStoreOption) *CacheEventStore {
	s := &CacheEventStore{
		cache:     c,
		maxEvents: defaultMaxEvents,
		retention: defaultEventRetention,
		now:       time.Now,
		l:         applogger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func eventsKey(location string) string {
	return cache.GenerateKey("events", location)
}

// Add stores ev, assigning an ID and creation time when missing. Events
// that ended more than the retention ago are pruned, and the oldest
// events are dropped once the per-location cap is reached.
func (s *CacheEventStore) Add(ctx context.Context, ev models.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}

	key := eventsKey(ev.Location)
	unlock, err := s.lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	events, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	events = append(s.prune(events, now), ev)
	sort.SliceStable(events, func(i, j int) bool { return events[i].StartsAt.Before(events[j].StartsAt) })
	if over := len(events) - s.maxEvents; over > 0 {
		s.l.Warn("event cap reached, dropping oldest",
			applogger.String("location", ev.Location),
			applogger.Int("dropped", over))
		events = events[over:]
	}

	ttl := s.retention
	for _, e := range events {
		if d := e.EndsAt.Sub(now) + s.retention; d > ttl {
			ttl = d
		}
	}
	if err := s.cache.Set(ctx, key, events, ttl); err != nil {
		return fmt.Errorf("store events: %w", err)
	}
	return nil
}

// Active returns the events of location in progress at the given time.
func (s *CacheEventStore) Active(ctx context.Context, location string, at time.Time) ([]models.Event, error) {
	events, err := s.load(ctx, eventsKey(location))
	if err != nil {
		return nil, err
	}
	out := events[:0]
	for _, ev := range events {
		if ev.ActiveAt(at) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// List returns every retained event of location ordered by start time.
func (s *CacheEventStore) List(ctx context.Context, location string) ([]models.Event, error) {
	events, err := s.load(ctx, eventsKey(location))
	if err != nil {
		return nil, err
	}
	return s.prune(events, s.now().UTC()), nil
}

func (s *CacheEventStore) load(ctx context.Context, key string) ([]models.Event, error) {
	var events []models.Event
	if err := s.cache.Get(ctx, key, &events); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

func (s *CacheEventStore) prune(events []models.Event, now time.Time) []models.Event {
	cutoff := now.Add(-s.retention)
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.EndsAt.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *CacheEventStore) lock(ctx context.Context, key string) (func(), error) {
	lockKey := cache.LockKey(key)
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(25*time.Millisecond), 40), ctx)
	err := backoff.Retry(func() error {
		ok, err := s.cache.TryLock(ctx, lockKey, eventLockTTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrEventStoreBusy
		}
		return nil
	}, b)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := s.cache.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
			s.l.Warn("release event lock", applogger.String("key", key), applogger.Error(err))
		}
	}, nil
}
