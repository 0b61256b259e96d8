package engine

import (
	"context"
	"time"
)

// Executor performs the page fetch and field parsing for one task. The engine
// treats it as an opaque function with a declared error taxonomy: failures
// must be reported as *AttemptError.
type Executor interface {
	Execute(ctx context.Context, task *Task, id Identity) (*Payload, error)
}

// Sink receives per-attempt outcomes and, at run end, the final report.
type Sink interface {
	Attempt(ctx context.Context, evt AttemptEvent) error
	Report(ctx context.Context, rep RunReport) error
	Close(ctx context.Context) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
