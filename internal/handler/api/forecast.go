package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"Clarity/internal/domain/models"
	apimetrics "Clarity/internal/service/metrics"
	"Clarity/internal/usecase"
	xhttp "Clarity/pkg/http"
	applogger "Clarity/pkg/logger"
)

// ForecastHandler serves forecasts, direct fusion and forecast history.
type ForecastHandler struct {
	logger *applogger.Logger
	mw     []echo.MiddlewareFunc
	uc     *usecase.ForecastUseCase
	maxAge time.Duration
}

func NewForecastHandler(logger *applogger.Logger, uc *usecase.ForecastUseCase, maxAge time.Duration) *ForecastHandler {
	return &ForecastHandler{logger: logger, uc: uc, maxAge: maxAge}
}

// Use adds middleware to the handler's route group.
func (h *ForecastHandler) Use(mw ...echo.MiddlewareFunc) *ForecastHandler {
	h.mw = append(h.mw, mw...)
	return h
}

func (h *ForecastHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.mw...)
	g.GET("/foot-traffic-forecast", h.Forecast)
	g.POST("/foot-traffic-forecast", h.Forecast)
	g.POST("/fuse", h.Fuse)
	g.GET("/forecasts/history", h.History)
}

// Forecast answers GET (query string) and POST (JSON body) alike.
func (h *ForecastHandler) Forecast(c echo.Context) error {
	start := time.Now()
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		apimetrics.Observe("forecast", start, http.StatusBadRequest, xhttp.CodeBadRequest)
		return xhttp.BadRequestResponse(c, verr)
	}

	resp, err := h.uc.Forecast(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "forecast", start, err)
	}

	state := xhttp.CacheMiss
	switch {
	case resp.Degraded:
		state = xhttp.CacheStale
	case resp.Cached:
		state = xhttp.CacheHit
	}
	apimetrics.Observe("forecast", start, http.StatusOK, "")
	return xhttp.CachedJSON(c, resp, state, h.maxAge)
}

func (h *ForecastHandler) Fuse(c echo.Context) error {
	start := time.Now()
	req := &models.FuseRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		apimetrics.Observe("fuse", start, http.StatusBadRequest, xhttp.CodeBadRequest)
		return xhttp.BadRequestResponse(c, verr)
	}

	resp, err := h.uc.Fuse(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "fuse", start, err)
	}
	apimetrics.Observe("fuse", start, http.StatusOK, "")
	return c.JSON(http.StatusOK, resp)
}

func (h *ForecastHandler) History(c echo.Context) error {
	start := time.Now()
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		apimetrics.Observe("history", start, http.StatusBadRequest, xhttp.CodeBadRequest)
		return xhttp.BadRequestResponse(c, verr)
	}

	rows, err := h.uc.History(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "history", start, err)
	}
	apimetrics.Observe("history", start, http.StatusOK, "")
	return xhttp.ListResponse(c, rows, len(rows))
}

func (h *ForecastHandler) fail(c echo.Context, endpoint string, start time.Time, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" failed", applogger.String("code", appErr.Code), applogger.Error(err))
	}
	apimetrics.Observe(endpoint, start, appErr.Status, appErr.Code)
	return xhttp.AppErrorResponse(c, appErr)
}
