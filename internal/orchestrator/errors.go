package orchestrator

import "errors"

var (
	// ErrResolutionExhausted is recorded when every strategy of a required
	// target failed.
	ErrResolutionExhausted = errors.New("orchestrator: resolution exhausted")
	// ErrUnexpectedFault covers failures outside element resolution,
	// including recovered panics.
	ErrUnexpectedFault = errors.New("orchestrator: unexpected fault")
	// ErrNoScenarios is returned by the driver when no user type is enabled.
	ErrNoScenarios = errors.New("orchestrator: no scenario enabled")
)
