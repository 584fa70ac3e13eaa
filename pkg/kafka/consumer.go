package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "Clarity/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Reader is the subset of *kafka.Reader used by Consumer.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int

	newReader func(topic string) Reader
	dlq       Writer
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if count > 0 {
			c.WorkerCount = count
		}
	}
}

// WithConsumerRetry configures retry attempts and the backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ routes messages that exhaust their retries to topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQTopic = topic
	}
}

func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithReaderFactory replaces the kafka-go reader. Tests use it with
// WithDLQWriter to run the consumer without a broker.
func WithReaderFactory(f func(topic string) Reader) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.newReader = f
	}
}

func WithDLQWriter(w Writer) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.dlq = w
	}
}

// Consumer reads registered topics and dispatches messages to a worker
// pool. Messages of one partition are handled one at a time.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *applogger.Logger
	readers  map[string]Reader
	handlers map[string]MessageHandler
	hook     ConsumerHook
	dlq      Writer

	ctx       context.Context
	cancel    context.CancelFunc
	readersWg sync.WaitGroup
	workersWg sync.WaitGroup
	stopOnce  sync.Once
	msgChan   chan *message

	partMu    sync.Mutex
	partLocks map[partitionKey]*sync.Mutex
}

type message struct {
	topic string
	km    kafka.Message
}

type partitionKey struct {
	topic     string
	partition int
}

func NewConsumer(log *applogger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "clarity",
		WorkerCount: 1,
		BufferSize:  10,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 && cfg.newReader == nil {
		return nil, errors.New("kafka: brokers are required")
	}
	if cfg.newReader == nil {
		cfg.newReader = func(topic string) Reader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:  cfg.Brokers,
				Topic:    topic,
				GroupID:  cfg.GroupID,
				MinBytes: cfg.MinBytes,
				MaxBytes: cfg.MaxBytes,
			})
		}
	}
	if log == nil {
		log = applogger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:       cfg,
		log:       log.With(applogger.String("component", "kafka_consumer")),
		readers:   make(map[string]Reader),
		handlers:  make(map[string]MessageHandler),
		hook:      NoopHook{},
		dlq:       cfg.dlq,
		ctx:       ctx,
		cancel:    cancel,
		msgChan:   make(chan *message, cfg.BufferSize),
		partLocks: make(map[partitionKey]*sync.Mutex),
	}
	if c.dlq == nil && cfg.DLQTopic != "" && len(cfg.Brokers) > 0 {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}, AllowAutoTopicCreation: true}
	}

	initConsumerMetrics()
	return c, nil
}

// RegisterHandler must be called before Start. A second handler for the
// same topic is ignored.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka: no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = c.cfg.newReader(topic)
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workersWg.Add(1)
		go c.worker()
	}
	for topic, reader := range c.readers {
		c.readersWg.Add(1)
		go c.consume(topic, reader)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("topics", len(c.readers)),
		applogger.Int("workers", c.cfg.WorkerCount),
		applogger.String("group", c.cfg.GroupID))
	return nil
}

// Stop stops the readers, drains queued messages and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		c.cancel()

		done := make(chan struct{})
		go func() {
			c.readersWg.Wait()
			close(c.msgChan)
			c.workersWg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("kafka: timeout waiting for consumer to stop: %w", ctx.Err())
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Error("close reader", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Error("close dlq writer", applogger.Error(err))
			}
		}
		if stopErr == nil {
			c.log.Info("kafka consumer stopped")
		}
	})
	return stopErr
}

func (c *Consumer) consume(topic string, reader Reader) {
	defer c.readersWg.Done()

	for {
		km, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch message", applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-time.After(c.cfg.BackoffMin):
			case <-c.ctx.Done():
				return
			}
			continue
		}

		select {
		case c.msgChan <- &message{topic: topic, km: km}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.msgChan)))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker() {
	defer c.workersWg.Done()
	for msg := range c.msgChan {
		c.process(msg)
	}
}

func (c *Consumer) process(msg *message) {
	handler, ok := c.handlers[msg.topic]
	if !ok {
		return
	}
	start := time.Now()
	defer func() {
		consumerHandleLatency.WithLabelValues(msg.topic).Observe(time.Since(start).Seconds())
	}()

	pl := c.partitionLock(msg.topic, msg.km.Partition)
	pl.Lock()
	defer pl.Unlock()

	attempts := 0
	op := func() error {
		attempts++
		hctx, hmsg, hdata, err := c.hook.BeforeHandle(context.Background(), msg.topic, msg.km, msg.km.Value)
		if err != nil {
			return backoff.Permanent(err)
		}
		err = safeHandle(handler, hctx, hdata)
		c.hook.AfterHandle(hctx, msg.topic, hmsg, hdata, err)
		if err != nil {
			c.hook.OnError(hctx, msg.topic, hmsg, hdata, err)
		}
		return err
	}
	err := backoff.Retry(op, c.retryPolicy())

	if err != nil {
		consumerFailures.WithLabelValues(msg.topic).Inc()
		c.log.Error("handle message",
			applogger.String("topic", msg.topic),
			applogger.Int("partition", msg.km.Partition),
			applogger.Int64("offset", msg.km.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		if !c.deadLetter(msg, err) {
			return
		}
	}

	if reader := c.readers[msg.topic]; reader != nil {
		c.commit(reader, msg.km)
	}
}

func (c *Consumer) retryPolicy() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.BackoffMin
	eb.MaxInterval = c.cfg.BackoffMax
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = eb
	if c.cfg.RetryMax >= 0 {
		b = backoff.WithMaxRetries(b, uint64(c.cfg.RetryMax))
	}
	return backoff.WithContext(b, c.ctx)
}

// deadLetter reports whether the offset may be committed.
func (c *Consumer) deadLetter(msg *message, cause error) bool {
	if c.dlq == nil || c.cfg.DLQTopic == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   msg.km.Key,
		Value: msg.km.Value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(msg.topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
	if err != nil {
		c.log.Error("write dlq", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(reader Reader, km kafka.Message) {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 2)
	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return reader.CommitMessages(ctx, km)
	}, b)
	if err != nil {
		c.log.Error("commit offset", applogger.String("topic", km.Topic), applogger.Int64("offset", km.Offset), applogger.Error(err))
	}
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	k := partitionKey{topic: topic, partition: partition}
	c.partMu.Lock()
	defer c.partMu.Unlock()
	l, ok := c.partLocks[k]
	if !ok {
		l = &sync.Mutex{}
		c.partLocks[k] = l
	}
	return l
}

func safeHandle(h MessageHandler, ctx context.Context, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(&HookError{Code: "ERR_PANIC", Err: fmt.Errorf("handler panic: %v", r)})
		}
	}()
	return h.Handle(ctx, data)
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerFailures      *prometheus.CounterVec
	consumerOnce          sync.Once
)

func initConsumerMetrics() {
	consumerOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "clarity_kafka_consumer_queue_depth", Help: "Messages waiting in the consumer queue"},
			[]string{"topic"},
		)
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "clarity_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
		consumerFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "clarity_kafka_consumer_failures_total", Help: "Messages that exhausted their retries"},
			[]string{"topic"},
		)
	})
}
