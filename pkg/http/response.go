package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// HeaderXCache reports how a cached resource was served.
const HeaderXCache = "X-Cache"

// CacheState is the value written to HeaderXCache.
type CacheState string

const (
	CacheMiss  CacheState = "MISS"
	CacheHit   CacheState = "HIT"
	CacheStale CacheState = "STALE"
)

// DataResponse writes an APIResponse envelope with the given status.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// CachedJSON writes v unwrapped with its cache state. Fresh and hit responses
// may be reused by the client for maxAge; stale ones are never cacheable.
func CachedJSON(c echo.Context, v interface{}, state CacheState, maxAge time.Duration) error {
	h := c.Response().Header()
	h.Set(HeaderXCache, string(state))
	if state == CacheStale || maxAge <= 0 {
		h.Set(echo.HeaderCacheControl, "no-store")
	} else {
		h.Set(echo.HeaderCacheControl, "private, max-age="+strconv.Itoa(int(maxAge.Seconds())))
	}
	return c.JSON(http.StatusOK, v)
}

// ListResponse writes rows with their count.
func ListResponse(c echo.Context, rows interface{}, total int) error {
	return DataResponse(c, http.StatusOK, &ListDataResponse{
		Rows:  rows,
		Total: int64(total),
	})
}

func CreatedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusCreated, data)
}

// BadRequestResponse writes binding or validation failures.
func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// AppErrorResponse writes err as a one-element error list. Errors that are
// not *AppError are reported as a bare 500.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DataResponse(c, appErr.Status, []*AppError{appErr})
	}
	return DataResponse(c, http.StatusInternalServerError, []*AppError{InternalError("internal server error")})
}
