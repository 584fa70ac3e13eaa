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

// EventsHandler registers and lists event surges.
type EventsHandler struct {
	logger *applogger.Logger
	mw     []echo.MiddlewareFunc
	uc     *usecase.EventsUseCase
}

func NewEventsHandler(logger *applogger.Logger, uc *usecase.EventsUseCase) *EventsHandler {
	return &EventsHandler{logger: logger, uc: uc}
}

// Use adds middleware to the handler's route group.
func (h *EventsHandler) Use(mw ...echo.MiddlewareFunc) *EventsHandler {
	h.mw = append(h.mw, mw...)
	return h
}

func (h *EventsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.mw...)
	g.POST("/events", h.Create)
	g.GET("/events", h.List)
}

func (h *EventsHandler) Create(c echo.Context) error {
	start := time.Now()
	req := &models.EventRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		apimetrics.Observe("events_create", start, http.StatusBadRequest, xhttp.CodeBadRequest)
		return xhttp.BadRequestResponse(c, verr)
	}

	ev, err := h.uc.Register(c.Request().Context(), *req)
	if err != nil {
		appErr := toAppError(err)
		if appErr.Status >= http.StatusInternalServerError {
			h.logger.Error("register event failed", applogger.Error(err))
		}
		apimetrics.Observe("events_create", start, appErr.Status, appErr.Code)
		return xhttp.AppErrorResponse(c, appErr)
	}
	apimetrics.Observe("events_create", start, http.StatusCreated, "")
	return xhttp.CreatedResponse(c, ev)
}

func (h *EventsHandler) List(c echo.Context) error {
	start := time.Now()
	req := &models.EventsListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		apimetrics.Observe("events_list", start, http.StatusBadRequest, xhttp.CodeBadRequest)
		return xhttp.BadRequestResponse(c, verr)
	}

	events, err := h.uc.List(c.Request().Context(), *req)
	if err != nil {
		appErr := toAppError(err)
		apimetrics.Observe("events_list", start, appErr.Status, appErr.Code)
		return xhttp.AppErrorResponse(c, appErr)
	}
	apimetrics.Observe("events_list", start, http.StatusOK, "")
	return xhttp.ListResponse(c, events, len(events))
}
