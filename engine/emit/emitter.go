package emit

import "context"

// Emitter receives execution updates from the scheduler, executor and
// resolver. Implementations must not block the caller for long: the
// scheduler emits on the same goroutine driving the run.
//
// Implementations should be:
//   - Non-blocking: never stall a node or graph execution.
//   - Thread-safe: called concurrently from every node worker.
//   - Resilient: swallow their own delivery errors rather than panic.
type Emitter interface {
	// Emit sends a single event. Must not panic.
	Emit(event Event)

	// EmitBatch sends events in order as one unit. The engine itself
	// emits single events through Emit and does not call EmitBatch.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until any buffered events are delivered. Called at
	// graph-execution end and on process shutdown.
	Flush(ctx context.Context) error
}
