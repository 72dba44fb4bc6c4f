package utils

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter marks bad simulator or configuration input.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInsufficientHistory is returned when a series has no usable observations.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrNonConvergence signals that a model could not be estimated from its data.
	ErrNonConvergence = errors.New("model did not converge")
	// ErrSchemaMismatch flags a structural contract violation between pipeline stages.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// FitCause classifies why a model fit failed.
type FitCause string

const (
	FitCauseNonConvergence FitCause = "NonConvergence"
	FitCauseTimeout        FitCause = "Timeout"
	FitCauseOther          FitCause = "Other"
)

// ModelFitError reports a failed fit for a single entity.
type ModelFitError struct {
	EntityID string
	Cause    FitCause
	Err      error
}

func (e *ModelFitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model fit failed for %s (%s)", e.EntityID, e.Cause)
	}
	return fmt.Sprintf("model fit failed for %s (%s): %v", e.EntityID, e.Cause, e.Err)
}

func (e *ModelFitError) Unwrap() error {
	return e.Err
}

// NewModelFitError classifies err and wraps it for entityID. Deadline errors
// map to Timeout and ErrNonConvergence maps to NonConvergence.
func NewModelFitError(entityID string, err error) *ModelFitError {
	cause := FitCauseOther
	switch {
	case errors.Is(err, ErrFitTimeout):
		cause = FitCauseTimeout
	case errors.Is(err, ErrNonConvergence):
		cause = FitCauseNonConvergence
	}
	return &ModelFitError{EntityID: entityID, Cause: cause, Err: err}
}

// ErrFitTimeout is returned when a fit exceeds its deadline.
var ErrFitTimeout = errors.New("fit timed out")

// Kind returns the taxonomy label for err, or "Other" when it is unclassified.
func Kind(err error) string {
	var fitErr *ModelFitError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fitErr):
		return string(fitErr.Cause)
	case errors.Is(err, ErrInvalidParameter):
		return "InvalidParameter"
	case errors.Is(err, ErrInsufficientHistory):
		return "InsufficientHistory"
	case errors.Is(err, ErrSchemaMismatch):
		return "SchemaMismatch"
	case errors.Is(err, ErrNonConvergence):
		return string(FitCauseNonConvergence)
	default:
		return string(FitCauseOther)
	}
}
