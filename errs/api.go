package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinels shared by every error kind; match them with errors.Is
var (
	ErrForbidden        = errors.New("operation not allowed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInternal         = errors.New("internal server error")
	ErrConflict         = errors.New("resource conflict")
	ErrValidationFailed = errors.New("validation failed")
)

// Input validation
var (
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidField         = errors.New("invalid field")
)

// ApiErr is an error that knows the HTTP status it maps to.
// err carries the sentinel chain, so errors.Is(apiErr, ErrNotFound) works through Unwrap.
type ApiErr struct {
	StatusCode int
	err        error
	Details    string // human readable context
	Field      string // offending request field, for validation errors
	Cause      error  // underlying failure, logged but not matched by errors.Is
}

func (e *ApiErr) Error() string {
	if e.Details == "" {
		return e.err.Error()
	}
	return e.err.Error() + ": " + e.Details
}

// GetFullError joins the message with every cause below it, outermost first
func (e *ApiErr) GetFullError() string {
	parts := []string{e.Error()}
	for cause := e.Cause; cause != nil; {
		var inner *ApiErr
		if !errors.As(cause, &inner) {
			parts = append(parts, cause.Error())
			break
		}
		parts = append(parts, inner.Error())
		cause = inner.Cause
	}
	return strings.Join(parts, " -> ")
}

func (e *ApiErr) Unwrap() error {
	return e.err
}

// StatusOf returns the HTTP status for err, 500 for anything that is not an *ApiErr
func StatusOf(err error) int {
	var apiErr *ApiErr
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return http.StatusInternalServerError
}

func kind(status int, sentinel error, message string) *ApiErr {
	return &ApiErr{StatusCode: status, err: fmt.Errorf("%w: %s", sentinel, message)}
}

func NewForbiddenError(message string) *ApiErr {
	return kind(http.StatusForbidden, ErrForbidden, message)
}

func NewUnauthorizedError(message string) *ApiErr {
	return kind(http.StatusUnauthorized, ErrUnauthorized, message)
}

func NewInternalErrorWithCause(message string, cause error) *ApiErr {
	e := kind(http.StatusInternalServerError, ErrInternal, message)
	e.Cause = cause
	return e
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
