package api

import (
	"context"
	"errors"
	"fmt"

	"Clarity/internal/services/fusion"
	"Clarity/internal/usecase"
	xhttp "Clarity/pkg/http"
)

// toAppError maps use case failures onto API error codes.
func toAppError(err error) *xhttp.AppError {
	var (
		appErr   *xhttp.AppError
		signal   *fusion.InvalidSignalError
		baseline *fusion.InvalidBaselineError
		upstream *fusion.UpstreamUnavailableError
		invalid  *usecase.InvalidRequestError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &signal):
		return xhttp.InvalidSignalError(fmt.Sprintf("signals[%d]", signal.Index), signal.Error()).
			WithParam("index", signal.Index).WithError(err)
	case errors.As(err, &baseline):
		return xhttp.InvalidBaselineError(baseline.Error()).WithError(err)
	case errors.As(err, &upstream):
		return xhttp.UpstreamUnavailableError(upstream.Error()).WithError(err)
	case errors.As(err, &invalid):
		e := xhttp.BadRequestError(invalid.Error()).WithError(err)
		e.Field = invalid.Field
		return e
	case errors.Is(err, usecase.ErrHistoryUnavailable):
		return xhttp.NotFoundError(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.UpstreamUnavailableError("forecast computation timed out").WithError(err)
	default:
		return xhttp.InternalError("Something went wrong").WithError(err)
	}
}
