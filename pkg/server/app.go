package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Clarity/internal/domain/repository"
	"Clarity/internal/handler/stream"
	mid "Clarity/internal/middleware"
	apimetrics "Clarity/internal/service/metrics"
	"Clarity/internal/service/ratelimit"
	"Clarity/internal/usecase"
	pkgcache "Clarity/pkg/cache"
	pkgch "Clarity/pkg/clickhouse"
	"Clarity/pkg/config"
	xhttp "Clarity/pkg/http"
	pkgkafka "Clarity/pkg/kafka"
	applogger "Clarity/pkg/logger"
	"Clarity/pkg/queue"
)

// Components are the wired parts the App drives. Optional parts are nil
// when their feature is disabled.
type Components struct {
	Config        *config.Config
	Log           *applogger.Logger
	HTTP          *xhttp.Server
	Forecasts     *usecase.ForecastUseCase
	Pipeline      *mid.ForecastPipeline
	Router        *usecase.SinkRouter
	Cache         pkgcache.Service
	Hub           *stream.Hub
	Limiter       *ratelimit.Limiter
	Producer      *pkgkafka.Producer
	Consumer      *pkgkafka.Consumer
	EventsHandler *usecase.EventsHandler
	EventQueue    *queue.RedisQueue
	ClickHouse    *pkgch.Client
	Storage       repository.Storage
}

// App encapsulates the application lifecycle.
type App struct {
	Components
	log *applogger.Logger
}

// New creates an App from wired components.
func New(c *Components) *App {
	log := c.Log
	if log == nil {
		log = applogger.NewNop()
	}
	return &App{Components: *c, log: log}
}

// Run starts every component and blocks until SIGINT/SIGTERM or a fatal
// listener error, then shuts down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(); err != nil {
		_ = a.shutdown()
		return err
	}

	errc := a.HTTP.Start()
	go a.sweep(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err, ok := <-errc:
		if ok && err != nil {
			a.log.Error("http server failed", applogger.Error(err))
			runErr = err
		}
	}
	stop()

	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) start() error {
	apimetrics.Register(nil)

	if a.Config.Log.Collector.Enabled && a.Producer != nil {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   a.Config.Log.Collector.Interval,
			CountThreshold: a.Config.Log.Collector.Threshold,
			Topic:          a.Config.Log.Collector.Topic,
			Publisher:      a.Producer,
		})
		a.log.Info("log collector enabled", applogger.String("topic", a.Config.Log.Collector.Topic))
	}

	a.Pipeline.Start()

	if a.Consumer != nil && a.EventsHandler != nil {
		a.Consumer.RegisterHandler(a.EventsHandler)
		if err := a.Consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.EventsHandler.Topic()))
	}

	if a.EventQueue != nil {
		if err := a.EventQueue.Start(); err != nil {
			return fmt.Errorf("events queue: %w", err)
		}
	}

	a.log.Info("clarity started",
		applogger.String("env", a.Config.Environment),
		applogger.Int("port", a.Config.Server.Port),
		applogger.String("cache", a.Config.Cache.Backend),
		applogger.Strings("sinks", a.Router.Sinks()))
	return nil
}

// sweep drops expired forecast cache entries and idle rate-limit buckets.
func (a *App) sweep(ctx context.Context) {
	interval := a.Config.Cache.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := a.Forecasts.Sweep()
			if a.Limiter != nil {
				a.Limiter.Prune()
			}
			if n > 0 {
				a.log.Debug("forecast cache swept", applogger.Int("removed", n))
			}
		}
	}
}

// shutdown stops intake first, then drains the pipeline, then closes sinks
// and clients.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.HTTP.ShutdownTimeout())
	defer cancel()

	a.log.Info("shutting down")
	var errs []error

	if err := a.HTTP.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.Consumer != nil {
		if err := a.Consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if a.EventQueue != nil {
		if err := a.EventQueue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("events queue: %w", err))
		}
	}
	if err := a.Pipeline.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("publication pipeline: %w", err))
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	a.Router.Close()

	// the collector publishes through the producer, so it goes first
	a.log.RemoveCollector()
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka producer: %w", err))
		}
	}
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if c, ok := a.Cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		a.log.Error("shutdown finished with errors", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
