package models

import (
	"errors"
	"fmt"
)

// ErrStateNotFound is returned when no durable state exists for a job id.
var ErrStateNotFound = errors.New("job state not found")

// ErrNoMessage is returned when the queue is empty.
var ErrNoMessage = errors.New("no messages in queue")

// TransientServiceError indicates a network or timeout failure on an
// external call. Rerunning the job is safe; completed stages are skipped.
type TransientServiceError struct {
	Service string
	Err     error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("transient failure calling %s: %v", e.Service, e.Err)
}

func (e *TransientServiceError) Unwrap() error {
	return e.Err
}

// MalformedInputError indicates the source document is unreadable or
// unconvertible. Fatal for the job, not retried automatically.
type MalformedInputError struct {
	Path   string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input %s: %s", e.Path, e.Reason)
}

// PartialExtractionError indicates the extraction service returned a
// structurally incomplete result (e.g. missing page count). Surfaced to the
// caller but the normalizer degrades gracefully rather than failing the job.
type PartialExtractionError struct {
	Missing string
}

func (e *PartialExtractionError) Error() string {
	return fmt.Sprintf("partial extraction result: missing %s", e.Missing)
}

// CheckpointIOError indicates a state store write failed. The stage is
// considered not-completed and must be retried on the next run.
type CheckpointIOError struct {
	JobID string
	Stage string
	Err   error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint write failed for job %s stage %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *CheckpointIOError) Unwrap() error {
	return e.Err
}
