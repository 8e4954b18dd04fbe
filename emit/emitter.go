package emit

// Emitter receives status events from workflow execution.
//
// Implementations must be:
//   - Non-blocking: never stall the runner
//   - Thread-safe: events arrive concurrently from many tasks
//   - Resilient: a failing backend must not crash execution
type Emitter interface {
	// Emit delivers one event. Emit must not panic; internal errors
	// are swallowed or logged by the implementation.
	Emit(event Event)
}

// NullEmitter discards all events. Useful as a default and in tests
// that don't observe events.
type NullEmitter struct{}

// NewNullEmitter creates an emitter that drops everything.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit discards the event.
func (*NullEmitter) Emit(Event) {}
