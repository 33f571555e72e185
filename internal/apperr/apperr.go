// Package apperr defines the application error taxonomy. Domain errors are
// client-visible and mapped to 4xx at the HTTP boundary; infra errors are
// compensated or retried and surface as 5xx.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DocumentNotFoundError indicates the referenced document does not exist.
type DocumentNotFoundError struct {
	ID uuid.UUID
}

func (e *DocumentNotFoundError) Error() string {
	return fmt.Sprintf("document %s not found", e.ID)
}

// ProcessingConflictError indicates the document is already in a state that
// forbids the requested operation (PROCESSING or DONE).
type ProcessingConflictError struct {
	ID     uuid.UUID
	Status string
}

func (e *ProcessingConflictError) Error() string {
	return fmt.Sprintf("document %s is already %s and cannot be re-processed", e.ID, e.Status)
}

// InvalidTransitionError indicates a status change outside the legal edges of
// the document state machine.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition document from %s to %s", e.From, e.To)
}

// DuplicateSourceError indicates a unique-constraint violation on source.
// Callers resolve it via idempotent replay; it is never surfaced to clients.
type DuplicateSourceError struct {
	Source string
}

func (e *DuplicateSourceError) Error() string {
	return fmt.Sprintf("document with source %q already exists", e.Source)
}

// MaxRetriesError indicates the document has exhausted its retry budget.
type MaxRetriesError struct {
	ID         uuid.UUID
	RetryCount int
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("document %s has exceeded max retries (%d)", e.ID, e.RetryCount)
}

// QueueFullError is the backpressure signal (HTTP 429).
type QueueFullError struct {
	Current int64
	Limit   int64
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue is full (%d/%d), retry later", e.Current, e.Limit)
}

// InfraError wraps a failure in an external collaborator (broker, store,
// vector index, embedder, file store).
type InfraError struct {
	Subsystem string
	Err       error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Subsystem, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// Infra wraps err as an InfraError for the given subsystem. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Infra(subsystem string, err error) error {
	if err == nil {
		return nil
	}
	return &InfraError{Subsystem: subsystem, Err: err}
}

// IsDomain reports whether err belongs to the client-visible domain taxonomy.
func IsDomain(err error) bool {
	var (
		notFound *DocumentNotFoundError
		conflict *ProcessingConflictError
		invalid  *InvalidTransitionError
		dup      *DuplicateSourceError
		retries  *MaxRetriesError
	)
	return errors.As(err, &notFound) ||
		errors.As(err, &conflict) ||
		errors.As(err, &invalid) ||
		errors.As(err, &dup) ||
		errors.As(err, &retries)
}
