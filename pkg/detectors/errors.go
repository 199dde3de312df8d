package detectors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when input data is empty, ragged or non-finite.
	ErrValidation = errors.New("invalid input data")

	// ErrNotFitted is returned when an operation requires a fitted detector.
	ErrNotFitted = errors.New("detector is not fitted")

	// ErrShapeMismatch is returned when input dimensionality differs from fit time.
	ErrShapeMismatch = errors.New("input shape mismatch")

	// ErrConfig is returned for invalid hyperparameters or detector options.
	ErrConfig = errors.New("invalid detector configuration")

	// ErrCapabilityUnsupported is returned when the backend model lacks an
	// optional capability such as feature importances.
	ErrCapabilityUnsupported = errors.New("capability not supported by backend")
)

// ShapeMismatchError reports the expected and received column counts.
type ShapeMismatchError struct {
	Expected int
	Got      int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d features, got %d", ErrShapeMismatch, e.Expected, e.Got)
}

// Is lets errors.Is match ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
