package pipeline

import (
	"errors"
	"fmt"

	"call-insights/internal/calls"
)

var (
	// ErrTransientIO wraps retryable collaborator failures (network, 5xx, timeouts).
	ErrTransientIO = errors.New("transient_io")
	// ErrInvalidAnalysisResult is permanent: retrying the same transcript is pointless.
	ErrInvalidAnalysisResult = errors.New("invalid_analysis_result")
	// ErrRecordingTooLarge is permanent.
	ErrRecordingTooLarge = errors.New("recording_too_large")
	// ErrInvalidState is returned by Reprocess while a call is in flight.
	ErrInvalidState = calls.ErrInvalidState
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so RetryPolicy stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, ErrInvalidAnalysisResult) || errors.Is(err, ErrRecordingTooLarge)
}

// Transient wraps err as ErrTransientIO.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransientIO, err)
}

// failureReason renders the reason recorded on a failed call.
func failureReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
