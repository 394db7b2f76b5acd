package pipeline

import "context"

// Stage is one unit in the ordered request pipeline.
//
// Process reads and mutates the shared Request and streams events through
// emit. Events are delivered synchronously in the order Process emits them;
// no stage starts before the previous one returned. Returning an error marks
// the stage failed, emits a terminal error event, and skips all remaining
// non-always-run stages.
type Stage interface {
	// Name is the step kind visible in step events and telemetry.
	Name() string

	// AlwaysRun reports whether the stage still executes after a stop
	// flag, a failed stage, or a client disconnect. Persistence and
	// analytics stages return true so accounting happens regardless of
	// how the pipeline terminated.
	AlwaysRun() bool

	Process(ctx context.Context, req *Request, emit EmitFunc) error
}
