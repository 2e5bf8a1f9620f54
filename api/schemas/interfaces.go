package schemas

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -- External Collaborators --

// ProxyProvider selects the network egress for a run and records its usage.
type ProxyProvider interface {
	// ProxyForRun returns the proxy endpoint for userType. ok is false when the
	// run should go out directly.
	ProxyForRun(userType UserType) (endpoint string, ok bool, err error)
}

// SessionProfileProvider produces the environment parameters for a run.
type SessionProfileProvider interface {
	ContextOptions(userType UserType) SessionProfile
}

// Snapshotter produces a visual snapshot of the current page.
type Snapshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// DiagnosticsSink persists visual snapshots and diagnostic events.
type DiagnosticsSink interface {
	// Capture stores a snapshot of src and returns where it was written.
	Capture(ctx context.Context, name string, src Snapshotter) (string, error)
	LogEvent(level zapcore.Level, message string, fields ...zap.Field)
}

// ResultSink persists the outcome of a run.
type ResultSink interface {
	Record(ctx context.Context, userType UserType, outcome LoginOutcome) error
}
