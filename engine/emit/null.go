package emit

import "context"

// NullEmitter discards every event. Useful for tests that don't care
// about the observability stream.
type NullEmitter struct{}

func (NullEmitter) Emit(Event)                                {}
func (NullEmitter) EmitBatch(context.Context, []Event) error  { return nil }
func (NullEmitter) Flush(context.Context) error               { return nil }
