package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	// ErrClaimConflict means another consumer claimed the job first. It is
	// never surfaced as a failure of the invocation.
	ErrClaimConflict = errors.New("job already claimed")
	// ErrNoPendingJob means the queue had nothing to claim.
	ErrNoPendingJob = errors.New("no pending job")
	// ErrGenerationFailure wraps provider errors, timeouts and panics.
	ErrGenerationFailure = errors.New("generation failed")
	// ErrGenerationTimeout is joined with ErrGenerationFailure when the deadline elapsed.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrAggregationSkip marks a recompute that decided not to write.
	ErrAggregationSkip = errors.New("aggregation skipped")
	// ErrSubscription marks a channel that failed to establish or dropped.
	ErrSubscription = errors.New("subscription error")
	// ErrRollback marks an optimistic snapshot that could not be restored.
	ErrRollback = errors.New("rollback failed")
)
