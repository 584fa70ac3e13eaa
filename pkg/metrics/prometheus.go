package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fusions          *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	published        *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	expectedTotal    prometheus.Histogram
	bufferDepth      prometheus.Gauge
	latency          *prometheus.HistogramVec
}

// New creates a recorder registered on reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		fusions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clarity_fusions_total",
				Help: "Forecast fusions performed, by whether the guardrail clamped the result",
			},
			[]string{"clamped"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clarity_forecast_cache_total",
				Help: "Forecast cache decisions by outcome",
			},
			[]string{"outcome"},
		),
		providerRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clarity_provider_requests_total",
				Help: "Signal provider fetches by provider and status",
			},
			[]string{"provider", "status"},
		),
		providerLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clarity_provider_duration_seconds",
				Help:    "Signal provider fetch duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider"},
		),
		published: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clarity_forecasts_published_total",
				Help: "Forecast records delivered to a sink",
			},
			[]string{"sink", "status"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clarity_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		expectedTotal: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clarity_expected_customers_per_hour",
				Help:    "Fused expected customers per hour of fresh forecasts",
				Buckets: []float64{5, 10, 20, 40, 60, 80, 120, 160, 240, 320},
			},
		),
		bufferDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "clarity_pipeline_buffer_depth",
				Help: "Forecast records waiting in the publication pipeline",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clarity_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordFusion(clamped bool) {
	r.fusions.WithLabelValues(strconv.FormatBool(clamped)).Inc()
}

// ObserveCache counts one forecast cache outcome.
func (r *Recorder) ObserveCache(outcome string) {
	r.cacheLookups.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordProvider(provider string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.providerRequests.WithLabelValues(provider, status).Inc()
	r.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (r *Recorder) RecordPublished(sink string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.published.WithLabelValues(sink, status).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordExpectedTotal observes a fused total. It is not labelled by location,
// which comes from clients and is unbounded.
func (r *Recorder) RecordExpectedTotal(total float64) {
	r.expectedTotal.Observe(total)
}

func (r *Recorder) SetBufferDepth(n int) {
	r.bufferDepth.Set(float64(n))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
