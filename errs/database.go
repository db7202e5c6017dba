package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrUnavailable               = errors.New("service unavailable")
	ErrUniqueConstraintViolation = errors.New("unique constraint violation")
)

func NewNotFound(entity string) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusNotFound,
		err:        fmt.Errorf("%s %w", entity, ErrNotFound),
	}
}

// NewUnavailableError reports a transient store or cache failure during operation
func NewUnavailableError(operation string, cause error) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusServiceUnavailable,
		err:        ErrUnavailable,
		Details:    fmt.Sprintf("Failed to %s", operation),
		Cause:      cause,
	}
}

func NewUniqueConstraintViolationError(entity, field string, cause error) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusConflict,
		err:        fmt.Errorf("%w: %w", ErrConflict, ErrUniqueConstraintViolation),
		Details:    fmt.Sprintf("Unique constraint violation on %s.%s", entity, field),
		Cause:      cause,
		Field:      field,
	}
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func IsUniqueConstraintViolationError(err error) bool {
	return errors.Is(err, ErrUniqueConstraintViolation)
}
