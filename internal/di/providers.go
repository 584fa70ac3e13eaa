package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"Clarity/internal/domain/repository"
	domsvc "Clarity/internal/domain/service"
	"Clarity/internal/handler/api"
	"Clarity/internal/handler/stream"
	mid "Clarity/internal/middleware"
	internalrepo "Clarity/internal/repository"
	svccache "Clarity/internal/service/cache"
	"Clarity/internal/service/ratelimit"
	"Clarity/internal/services/fusion"
	"Clarity/internal/services/providers"
	"Clarity/internal/usecase"
	pkgcache "Clarity/pkg/cache"
	pkgch "Clarity/pkg/clickhouse"
	"Clarity/pkg/config"
	xhttp "Clarity/pkg/http"
	pkgkafka "Clarity/pkg/kafka"
	applogger "Clarity/pkg/logger"
	"Clarity/pkg/metrics"
	"Clarity/pkg/queue"
)

// Version is reported by the service descriptor. Set with -ldflags.
var Version = "dev"

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: "clarity",
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

// ProvideCacheService selects the backing cache from cache.backend.
func ProvideCacheService(cfg *config.Config) (pkgcache.Service, error) {
	if cfg.Cache.Backend == "memory" {
		return pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize)), nil
	}

	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	if cfg.Cache.Backend == "layered" {
		return pkgcache.NewLayeredCache(rc,
			pkgcache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
			pkgcache.WithLayeredMemoryTTL(cfg.Cache.TTL),
		), nil
	}
	return rc, nil
}

// ProvideLocation loads the zone forecast dates and hours are expressed in.
func ProvideLocation(cfg *config.Config) (*time.Location, error) {
	loc, err := time.LoadLocation(cfg.Events.Timezone)
	if err != nil {
		return nil, fmt.Errorf("events timezone: %w", err)
	}
	return loc, nil
}

// ProvideEventStore keeps event surges in the backing cache.
func ProvideEventStore(cfg *config.Config, svc pkgcache.Service, log *applogger.Logger) repository.EventStore {
	return internalrepo.NewCacheEventStore(svc,
		internalrepo.WithEventLimits(cfg.Events.MaxPerLocation, cfg.Events.Retention),
		internalrepo.WithEventLogger(log),
	)
}

// ProvideSignalProviders builds the enabled signal providers in a stable order.
func ProvideSignalProviders(cfg *config.Config, events repository.EventStore, loc *time.Location) []domsvc.SignalProvider {
	var out []domsvc.SignalProvider
	if cfg.Providers.Weather.Enabled {
		out = append(out, providers.NewHTTPWeatherProvider(cfg))
	}
	if cfg.Providers.Transit.Enabled {
		out = append(out, providers.NewHTTPTransitProvider(cfg))
	}
	if cfg.Providers.Traffic.Enabled {
		out = append(out, providers.NewHTTPTrafficProvider(cfg))
	}
	if cfg.Events.Enabled {
		out = append(out, providers.NewEventSurgeProvider(events, loc))
	}
	return out
}

// ProvideEngine creates the fusion engine.
func ProvideEngine(cfg *config.Config) *fusion.Engine {
	return fusion.NewEngine(
		fusion.WithWeightFloor(cfg.Fusion.WeightFloor),
		fusion.WithGuardrails(cfg.Fusion.GuardrailLower, cfg.Fusion.GuardrailUpper),
		fusion.WithMaxSummaryLines(cfg.Fusion.MaxSummaryLines),
	)
}

// ProvideForecastCache creates the coalescing forecast cache. Remote
// backends also persist entries across restarts and instances.
func ProvideForecastCache(cfg *config.Config, svc pkgcache.Service, m repository.Metrics, log *applogger.Logger) *svccache.ForecastCache {
	opts := []svccache.Option{
		svccache.WithTTL(cfg.Cache.TTL),
		svccache.WithStaleRetention(cfg.Cache.StaleRetention),
		svccache.WithComputeTimeout(cfg.Cache.ComputeTimeout),
		svccache.WithObserver(m),
		svccache.WithLogger(log),
	}
	if cfg.Cache.Backend != "memory" {
		opts = append(opts, svccache.WithStore(svc))
	}
	return svccache.NewForecastCache(opts...)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideForecastPublisher publishes forecasts to Kafka when enabled.
func ProvideForecastPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaForecastPublisher(producer, cfg.Kafka.ForecastTopic)
}

// ProvideKafkaConsumer creates the events consumer, or nil when Kafka is off.
func ProvideKafkaConsumer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), pkgkafka.LoggingHook(log)))
	return consumer, nil
}

// ProvideClickHouseClient connects to ClickHouse, or returns nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClickHouse.DialTimeout+cfg.ClickHouse.ReadTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, true),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideForecastStorage creates the history store and ensures its table.
func ProvideForecastStorage(cfg *config.Config, client *pkgch.Client, log *applogger.Logger) (repository.Storage, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseForecastStore(client.DB(), client.Database(), cfg.ClickHouse.Table, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideHub creates the websocket hub, or nil when streaming is off.
func ProvideHub(cfg *config.Config, log *applogger.Logger) *stream.Hub {
	if !cfg.Stream.Enabled {
		return nil
	}
	return stream.NewHub(
		stream.WithPath(cfg.Stream.Path),
		stream.WithSendBuffer(cfg.Stream.SendBuffer),
		stream.WithTimings(cfg.Stream.WriteTimeout, cfg.Stream.PingInterval),
		stream.WithLogger(log),
	)
}

// ProvideSinkRouter fans fresh forecasts out to the configured sinks.
func ProvideSinkRouter(
	cfg *config.Config,
	pub repository.Publisher,
	store repository.Storage,
	hub *stream.Hub,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.SinkRouter {
	opts := []usecase.RouterOption{
		usecase.WithRetry(cfg.Publish.RetryMax, cfg.Publish.RetryDelay),
		usecase.WithRouterLogger(log),
	}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub))
	}
	if store != nil {
		opts = append(opts, usecase.WithHistoryStore(store))
	}
	if hub != nil {
		opts = append(opts, usecase.WithBroadcaster(hub))
	}
	return usecase.NewSinkRouter(m, opts...)
}

// ProvidePipeline creates the asynchronous publication pipeline.
func ProvidePipeline(cfg *config.Config, router *usecase.SinkRouter, m repository.Metrics, log *applogger.Logger) *mid.ForecastPipeline {
	return mid.NewForecastPipeline(router, m,
		mid.WithBufferSize(cfg.Publish.BufferSize),
		mid.WithThrottle(cfg.Publish.Throttle),
		mid.WithPipelineLogger(log),
	)
}

// ProvideForecastUseCase creates the forecast use case.
func ProvideForecastUseCase(
	cfg *config.Config,
	signalProviders []domsvc.SignalProvider,
	engine *fusion.Engine,
	cache *svccache.ForecastCache,
	m repository.Metrics,
	pipeline *mid.ForecastPipeline,
	store repository.Storage,
	loc *time.Location,
	log *applogger.Logger,
) *usecase.ForecastUseCase {
	opts := []usecase.ForecastOption{
		usecase.WithProviderTimeout(cfg.Providers.Timeout),
		usecase.WithDefaultBaseline(cfg.Fusion.DefaultBaseline),
		usecase.WithLocation(loc),
		usecase.WithPipeline(pipeline),
		usecase.WithForecastLogger(log),
	}
	if store != nil {
		opts = append(opts, usecase.WithStorage(store))
	}
	return usecase.NewForecastUseCase(signalProviders, engine, cache, m, opts...)
}

// ProvideEventsUseCase creates the event surge use case.
func ProvideEventsUseCase(store repository.EventStore, m repository.Metrics, log *applogger.Logger) *usecase.EventsUseCase {
	return usecase.NewEventsUseCase(store, m, log)
}

// ProvideEventsHandler binds the events topic to the use case.
func ProvideEventsHandler(cfg *config.Config, uc *usecase.EventsUseCase) *usecase.EventsHandler {
	return usecase.NewEventsHandler(cfg.Kafka.EventsTopic, uc)
}

// ProvideEventQueue creates the Redis events queue, or nil when disabled.
func ProvideEventQueue(cfg *config.Config, svc pkgcache.Service, uc *usecase.EventsUseCase, log *applogger.Logger) (*queue.RedisQueue, error) {
	if !cfg.Events.Queue.Enabled {
		return nil, nil
	}
	withClient, ok := svc.(interface{ Client() *redis.Client })
	if !ok || withClient.Client() == nil {
		return nil, fmt.Errorf("events queue: cache backend %q has no redis client", cfg.Cache.Backend)
	}
	q := queue.NewRedisQueue(log, queue.Config{
		Workers:    cfg.Events.Queue.Workers,
		RetryLimit: cfg.Events.Queue.RetryLimit,
		RetryDelay: cfg.Events.Queue.RetryDelay,
	}, withClient.Client(), queue.WithKey(cfg.Events.Queue.Key))
	q.RegisterJob(usecase.NewEventsJob(uc))
	return q, nil
}

// ProvideRateLimiter creates the per-client API limiter, or nil when off.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.Server.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)
}

// ProvideHealthChecks lists the dependencies /health probes.
func ProvideHealthChecks(svc pkgcache.Service, store repository.Storage) []api.HealthCheck {
	checks := []api.HealthCheck{{Name: "cache", Check: svc.Ping}}
	if store != nil {
		checks = append(checks, api.HealthCheck{Name: "clickhouse", Check: store.Health})
	}
	return checks
}

// ProvideHTTPServer registers every route on the echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	log *applogger.Logger,
	forecasts *usecase.ForecastUseCase,
	events *usecase.EventsUseCase,
	signalProviders []domsvc.SignalProvider,
	router *usecase.SinkRouter,
	hub *stream.Hub,
	limiter *ratelimit.Limiter,
	checks []api.HealthCheck,
) *xhttp.Server {
	fh := api.NewForecastHandler(log, forecasts, cfg.Cache.TTL)
	eh := api.NewEventsHandler(log, events)
	if limiter != nil {
		fh.Use(limiter.Middleware())
		eh.Use(limiter.Middleware())
	}

	names := make([]string, 0, len(signalProviders))
	for _, p := range signalProviders {
		names = append(names, p.Name())
	}
	handlers := xhttp.Handlers{fh, eh, api.NewSystemHandler(Version, names, router.Sinks(), checks...)}
	if hub != nil {
		handlers = append(handlers, hub)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(handlers, log,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithMetrics(metricsPath, cfg.Metrics.SlowThreshold),
	)
}
