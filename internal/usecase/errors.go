package usecase

import (
	"errors"
	"fmt"
)

// ErrHistoryUnavailable is returned when no forecast storage is configured.
var ErrHistoryUnavailable = errors.New("forecast history storage is not configured")

// InvalidRequestError is a request field the use case could not accept.
type InvalidRequestError struct {
	Field string
	Err   error
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *InvalidRequestError) Unwrap() error { return e.Err }
