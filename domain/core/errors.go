package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Configuration errors
	ErrEmptyCandidates = errors.New("parameter grid has an empty candidate list")
	ErrMissingParam    = errors.New("missing hyperparameter")
	ErrParamType       = errors.New("hyperparameter has wrong type")
	ErrInvalidTrials   = errors.New("trial count must be at least 1")
	ErrUnknownMethod   = errors.New("unknown method kind")
	ErrDuplicateMethod = errors.New("duplicate method name")

	// Data shape errors
	ErrEmptyDataset  = errors.New("dataset has no buckets")
	ErrShapeMismatch = errors.New("matrix shape mismatch")
	ErrBucketCount   = errors.New("bucket count mismatch")

	// Numerical failures
	ErrNumerical           = errors.New("numerical failure")
	ErrNotPositiveDefinite = fmt.Errorf("%w: matrix is not positive definite", ErrNumerical)
	ErrIllConditioned      = fmt.Errorf("%w: system is too ill-conditioned for this solver", ErrNumerical)
	ErrNotConverged        = fmt.Errorf("%w: solver did not converge", ErrNumerical)
	ErrInvalidComponents   = fmt.Errorf("%w: invalid number of components", ErrNumerical)

	// Not found errors
	ErrNotFound    = errors.New("resource not found")
	ErrRunNotFound = fmt.Errorf("%w: run", ErrNotFound)
)

// Error constructors with context
func NewMissingParamError(key string) error {
	return fmt.Errorf("%w: %s", ErrMissingParam, key)
}

func NewParamTypeError(key string, want string, got interface{}) error {
	return fmt.Errorf("%w: %s must be %s, got %v (%T)", ErrParamType, key, want, got, got)
}

func NewShapeError(what string, wantRows, wantCols, gotRows, gotCols int) error {
	return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrShapeMismatch, what, gotRows, gotCols, wantRows, wantCols)
}

func NewBucketCountError(what string, want, got int) error {
	return fmt.Errorf("%w: %s has %d buckets, want %d", ErrBucketCount, what, got, want)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}

func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// Error checking helpers
func IsNumericalError(err error) bool {
	return errors.Is(err, ErrNumerical)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrEmptyCandidates) ||
		errors.Is(err, ErrMissingParam) ||
		errors.Is(err, ErrParamType) ||
		errors.Is(err, ErrInvalidTrials) ||
		errors.Is(err, ErrUnknownMethod) ||
		errors.Is(err, ErrDuplicateMethod)
}

func IsShapeError(err error) bool {
	return errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrBucketCount) ||
		errors.Is(err, ErrEmptyDataset)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
