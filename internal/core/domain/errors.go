package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTemporary         = errors.New("temporary failure")
	ErrServerError       = errors.New("upstream server error")
	ErrNotPDF            = errors.New("response is not a pdf")
	ErrParseFailed       = errors.New("pdf parse failed")
	ErrInvalidAnalysis   = errors.New("invalid ai analysis")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrMissingConfig     = errors.New("missing required configuration")
)

// Control-flow signals. They stop a stage between iterations and are never
// recorded as job failures.
var (
	ErrJobPaused    = errors.New("job paused")
	ErrJobCancelled = errors.New("job cancelled")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsInterrupt reports whether err is a pause or cancel signal.
func IsInterrupt(err error) bool {
	return errors.Is(err, ErrJobPaused) || errors.Is(err, ErrJobCancelled)
}
