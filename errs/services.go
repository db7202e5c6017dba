package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSlugGeneration = errors.New("slug generation failed")
	ErrConfigMissing  = errors.New("configuration missing")
)

func NewSlugGenerationError(base string, attempts int) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusInternalServerError,
		err:        ErrSlugGeneration,
		Details:    fmt.Sprintf("No free slug for %q after %d attempts", base, attempts),
		Field:      "slug",
	}
}

func NewConfigError(configName string, cause error) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusInternalServerError,
		err:        ErrConfigMissing,
		Details:    fmt.Sprintf("Configuration error for %s", configName),
		Cause:      cause,
	}
}

func IsSlugGenerationError(err error) bool {
	return errors.Is(err, ErrSlugGeneration)
}

func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfigMissing)
}
