package events

// Event represents a structured state change emitted by the dispute core.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. gateways, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record is the canonical event payload carried through the core: a type tag
// plus flat string attributes so every sink (log, webhook, metrics) can consume
// it without depending on domain types.
type Record struct {
	Type       string
	Attributes map[string]string
}
