//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"Clarity/pkg/config"
	"Clarity/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideCacheService,
	ProvideLocation,
	ProvideKafkaProducer,
	ProvideKafkaConsumer,
	ProvideClickHouseClient,
)

var repositorySet = wire.NewSet(
	ProvideEventStore,
	ProvideForecastStorage,
	ProvideForecastPublisher,
)

var forecastSet = wire.NewSet(
	ProvideSignalProviders,
	ProvideEngine,
	ProvideForecastCache,
	ProvideHub,
	ProvideSinkRouter,
	ProvidePipeline,
	ProvideForecastUseCase,
	ProvideEventsUseCase,
	ProvideEventsHandler,
	ProvideEventQueue,
)

var transportSet = wire.NewSet(
	ProvideRateLimiter,
	ProvideHealthChecks,
	ProvideHTTPServer,
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		repositorySet,
		forecastSet,
		transportSet,
		wire.Struct(new(server.Components), "*"),
		server.New,
	)
	return nil, nil
}
