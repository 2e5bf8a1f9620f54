package resolver

import "errors"

var (
	// ErrStrategyFailure wraps every failed attempt. It is recoverable: the
	// resolver moves on to the next strategy.
	ErrStrategyFailure = errors.New("resolver: strategy failed")
	// ErrWaitTimeout marks an attempt whose wait for a visible element expired.
	ErrWaitTimeout = errors.New("resolver: wait timed out")
	// ErrNotFound is returned by DOM implementations when nothing visible matches.
	ErrNotFound = errors.New("resolver: no visible match")
	// ErrFrameNotFound means no iframe of the document matched the scope.
	ErrFrameNotFound = errors.New("resolver: no matching frame")
	// ErrBudgetExhausted marks strategies skipped after the overall budget ran out.
	ErrBudgetExhausted = errors.New("resolver: resolution budget exhausted")
)
