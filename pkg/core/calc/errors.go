package calc

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks at API boundaries.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidInput     = errors.New("invalid input")
)

// InsufficientDataError reports a fit requested with fewer usable points than required.
type InsufficientDataError struct {
	Metric string
	Have   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	if e.Metric == "" {
		return fmt.Sprintf("insufficient data: have %d points, need %d", e.Have, e.Need)
	}
	return fmt.Sprintf("insufficient data for %s: have %d points, need %d", e.Metric, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// InvalidInputError reports a parameter or series that cannot be computed on.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// Invalid is a shorthand constructor.
func Invalid(field, format string, args ...interface{}) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
