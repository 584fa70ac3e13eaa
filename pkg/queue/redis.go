package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"Clarity/pkg/logger"
)

// Client is the subset of *redis.Client the queue uses.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

var _ Client = (*redis.Client)(nil)

// RedisQueue is a list-backed work queue. Failed messages are parked in a
// sorted set until their retry time, then pushed back; exhausted or
// permanently failed messages land in a dead-letter list.
type RedisQueue struct {
	log    *logger.Logger
	config Config
	client Client
	key    string
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures RedisQueue.
type Option func(*RedisQueue)

// WithKey sets the list key; retry and dead-letter keys derive from it.
func WithKey(key string) Option {
	return func(r *RedisQueue) {
		if key != "" {
			r.key = key
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *RedisQueue) {
		r.now = now
	}
}

func NewRedisQueue(lgr *logger.Logger, config Config, client Client, opts ...Option) *RedisQueue {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.PopTimeout <= 0 {
		config.PopTimeout = time.Second
	}
	if config.RetryPoll <= 0 {
		config.RetryPoll = 5 * time.Second
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}

	r := &RedisQueue{
		log:    lgr,
		config: config,
		client: client,
		key:    "clarity:queue",
		now:    time.Now,
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisQueue) retryKey() string { return r.key + ":retry" }
func (r *RedisQueue) deadKey() string  { return r.key + ":dead" }

// RegisterJob binds job to its message type. Later registrations for the
// same type are ignored.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.log.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings Redis and launches workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryLoop()

	r.log.Info("redis queue started",
		logger.String("key", r.key),
		logger.Int("workers", r.config.Workers))
	return nil
}

// Stop cancels workers and waits for them, bounded by ctx.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		r.log.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes a message of msgType.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	msg, err := newMessage(uuid.NewString(), msgType, payload, r.now())
	if err != nil {
		return err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, b).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", r.key, err)
	}
	return nil
}

// PublishMessage implements Publisher.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}
		if err := r.popOne(r.ctx); err != nil {
			r.log.Error("queue pop failed", logger.Int("worker_id", id), logger.Error(err))
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// popOne waits up to PopTimeout for a message and processes it.
func (r *RedisQueue) popOne(ctx context.Context) error {
	res, err := r.client.BRPop(ctx, r.config.PopTimeout, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
	if len(res) < 2 {
		return nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.log.Error("drop undecodable message", logger.Error(err))
		return nil
	}
	r.process(ctx, msg)
	return nil
}

func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		msg.LastError = "no job registered"
		r.log.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.deadLetter(msg)
		return
	}

	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// put it back for the next run
		r.schedule(msg, r.now())
		return
	}

	msg.LastError = err.Error()
	r.log.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	var perm *PermanentError
	if errors.As(err, &perm) || msg.Attempts >= r.config.RetryLimit {
		r.deadLetter(msg)
		return
	}
	msg.Attempts++
	r.schedule(msg, r.now().Add(r.config.RetryDelay))
}

func (r *RedisQueue) schedule(msg Message, at time.Time) {
	b, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal retry", logger.Error(err))
		return
	}
	if err := r.client.ZAdd(context.Background(), r.retryKey(), redis.Z{
		Score:  float64(at.Unix()),
		Member: string(b),
	}).Err(); err != nil {
		r.log.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal dead letter", logger.Error(err))
		return
	}
	if err := r.client.LPush(context.Background(), r.deadKey(), b).Err(); err != nil {
		r.log.Error("lpush dead letter", logger.Error(err))
	}
}

func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.RetryPoll)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.moveDue(r.ctx)
		}
	}
}

// moveDue pushes retries whose time has come back onto the list. ZRem acts
// as the claim so two instances never requeue the same member.
func (r *RedisQueue) moveDue(ctx context.Context) int {
	members, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(r.now().Unix(), 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Error("fetch due retries", logger.Error(err))
		}
		return 0
	}

	moved := 0
	for _, m := range members {
		n, err := r.client.ZRem(ctx, r.retryKey(), m).Result()
		if err != nil || n == 0 {
			continue
		}
		if err := r.client.LPush(ctx, r.key, m).Err(); err != nil {
			r.log.Error("requeue retry", logger.Error(err))
			continue
		}
		moved++
	}
	return moved
}
