package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clarity",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of forecast API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clarity",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by forecast API endpoint and code",
		},
		[]string{"endpoint", "code"},
	)
)

// Register adds the API collectors to reg once per process.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(APILatency, APIErrors)
	})
}

// Observe records one API call. A status of 400 or above counts as an
// error under its application code.
func Observe(endpoint string, start time.Time, status int, code string) {
	APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if status >= 400 {
		if code == "" {
			code = strconv.Itoa(status)
		}
		APIErrors.WithLabelValues(endpoint, code).Inc()
	}
}
