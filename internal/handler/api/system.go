package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// SystemHandler serves the service descriptor and health.
type SystemHandler struct {
	service   string
	version   string
	providers []string
	sinks     []string
	checks    []HealthCheck
	started   time.Time
	timeout   time.Duration
}

func NewSystemHandler(version string, providers, sinks []string, checks ...HealthCheck) *SystemHandler {
	return &SystemHandler{
		service:   "clarity",
		version:   version,
		providers: providers,
		sinks:     sinks,
		checks:    checks,
		started:   time.Now(),
		timeout:   2 * time.Second,
	}
}

func (h *SystemHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Describe)
	e.GET("/health", h.Health)
}

func (h *SystemHandler) Describe(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"service":   h.service,
		"version":   h.version,
		"providers": h.providers,
		"sinks":     h.sinks,
		"endpoints": []string{
			"GET /api/foot-traffic-forecast",
			"POST /api/foot-traffic-forecast",
			"POST /api/fuse",
			"GET /api/forecasts/history",
			"POST /api/events",
			"GET /api/events",
			"GET /ws/forecasts",
			"GET /health",
			"GET /metrics",
		},
	})
}

// Health reports 503 when any dependency check fails.
func (h *SystemHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			checks[chk.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[chk.Name] = "ok"
	}
	return c.JSON(code, map[string]interface{}{
		"status":         status,
		"checks":         checks,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
