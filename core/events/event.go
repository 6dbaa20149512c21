package events

import "gridmarket/core/types"

// Event represents a structured state change emitted by the market.
type Event interface {
	EventType() string
}

// Recordable events can be flattened into the attribute form consumed by
// logs, the event journal and RPC clients.
type Recordable interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events until Flush hands them to the downstream emitter.
// The market engine attaches one to its state manager as a journal so that
// events of a rejected command or sweep item are never published.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	return b.events
}

// Flush forwards every buffered event to dst and empties the buffer.
func (b *Buffer) Flush(dst Emitter) {
	if b == nil {
		return
	}
	if dst != nil {
		for _, evt := range b.events {
			dst.Emit(evt)
		}
	}
	b.events = nil
}

// Mark returns the current buffer position.
func (b *Buffer) Mark() int {
	if b == nil {
		return 0
	}
	return len(b.events)
}

// Truncate drops events emitted after mark.
func (b *Buffer) Truncate(mark int) {
	if b == nil || mark < 0 || mark >= len(b.events) {
		return
	}
	b.events = b.events[:mark]
}

// Reset drops buffered events.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.events = nil
}

// Multi fans events out to several emitters in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Flatten converts evt into its attribute form. Events that do not implement
// Recordable are reported with their type only.
func Flatten(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if rec, ok := evt.(Recordable); ok {
		if out := rec.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
