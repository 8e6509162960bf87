// Package errors defines the failure taxonomy of the ingestion pipeline:
// sentinel errors for every stage plus a JobError wrapper that records which
// stage failed.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrLockUnavailable means another worker holds the per-file lease.
	// Expected under concurrent delivery, not a failure.
	ErrLockUnavailable = errors.New("lock unavailable")
	// ErrAlreadyProcessed means a meeting row already exists for the file.
	// Expected under at-least-once redelivery, not a failure.
	ErrAlreadyProcessed = errors.New("already processed")

	ErrFetch         = errors.New("object fetch failed")
	ErrMedia         = errors.New("media extraction failed")
	ErrTranscription = errors.New("transcription failed")
	ErrDigest        = errors.New("digest generation failed")
	ErrPersistence   = errors.New("persistence failed")
)

// JobError wraps a sentinel with the pipeline stage that produced it.
type JobError struct {
	Err     error
	Stage   string
	Message string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Err.Error(), e.Message)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func New(sentinel error, stage, message string) *JobError {
	return &JobError{
		Err:     sentinel,
		Stage:   stage,
		Message: message,
	}
}

func Newf(sentinel error, stage, format string, args ...any) *JobError {
	return &JobError{
		Err:     sentinel,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
	}
}

// StageOf returns the failed stage recorded in err, or "" if err carries no
// JobError.
func StageOf(err error) string {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Stage
	}
	return ""
}

// IsSkip reports whether err represents an expected skip outcome rather than
// a pipeline failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrLockUnavailable) || errors.Is(err, ErrAlreadyProcessed)
}
