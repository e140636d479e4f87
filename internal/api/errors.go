package api

import "errors"

// Error taxonomy. Invalid input is rejected synchronously before any work
// begins; partial failures are surfaced on the analysis itself via
// DroppedBatches, never silently treated as zero-impact.
var (
	// ErrInvalidInput covers empty variable sets and other structural
	// problems with a request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidVariableRange is returned when a variable's min >= max.
	ErrInvalidVariableRange = errors.New("invalid variable range")

	// ErrEmptyResultSet is returned when every batch of a run failed and
	// no scenarios survive to analyze.
	ErrEmptyResultSet = errors.New("empty result set")

	// ErrEventNotFound is returned for lookups of unknown event ids.
	ErrEventNotFound = errors.New("event not found")

	// ErrRunCancelled is returned when the run's context is cancelled
	// before aggregation; partial results are discarded.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrStoreUnavailable wraps backend failures of the event store.
	ErrStoreUnavailable = errors.New("event store unavailable")
)
