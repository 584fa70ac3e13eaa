package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	applogger "Clarity/pkg/logger"
)

// RequestLogging logs every request and assigns X-Request-ID when absent.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			rid := req.Header.Get(echo.HeaderXRequestID)
			if rid == "" {
				rid = uuid.NewString()
			}
			res.Header().Set(echo.HeaderXRequestID, rid)

			err := next(c)
			if err != nil {
				// let echo write the error so the logged status is final
				c.Error(err)
			}

			fields := []applogger.Field{
				applogger.String("request_id", rid),
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", res.Status),
				applogger.Duration("latency_ms", time.Since(start)),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request", append(fields, applogger.Error(err))...)
			case res.Status >= 400:
				l.Warn("http request", fields...)
			default:
				l.Info("http request", fields...)
			}
			return nil
		}
	}
}
