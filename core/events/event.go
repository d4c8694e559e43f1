package events

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
// The engine never reads its own events back.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while
// discarding all events. It is useful when a component wants to optionally
// expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans every event out to all wrapped emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// Multi combines the supplied emitters into a single Emitter, skipping nils.
func Multi(emitters ...Emitter) *MultiEmitter {
	out := &MultiEmitter{}
	for _, emitter := range emitters {
		if emitter != nil {
			out.emitters = append(out.emitters, emitter)
		}
	}
	return out
}

// Emit implements the Emitter interface.
func (m *MultiEmitter) Emit(evt Event) {
	if m == nil {
		return
	}
	for _, emitter := range m.emitters {
		emitter.Emit(evt)
	}
}
